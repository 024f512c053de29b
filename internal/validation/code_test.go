package validation

import "testing"

func TestIsValidCode(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		valid bool
	}{
		{
			name:  "grouped code",
			code:  "ABCD-EFGH-JK23",
			valid: true,
		},
		{
			name:  "plain code",
			code:  "PROMO2026",
			valid: true,
		},
		{
			name:  "too short",
			code:  "AB1",
			valid: false,
		},
		{
			name:  "lower case is not normalized",
			code:  "abcd-efgh",
			valid: false,
		},
		{
			name:  "double dash",
			code:  "ABCD--EFGH",
			valid: false,
		},
		{
			name:  "leading dash",
			code:  "-ABCDEFG",
			valid: false,
		},
		{
			name:  "trailing dash",
			code:  "ABCDEFG-",
			valid: false,
		},
		{
			name:  "contains space",
			code:  "ABCD EFGH",
			valid: false,
		},
		{
			name:  "empty string",
			code:  "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidCode(tt.code)
			if got != tt.valid {
				t.Fatalf("IsValidCode(%q) = %v, want %v", tt.code, got, tt.valid)
			}
		})
	}
}

func TestNormalizeCode(t *testing.T) {
	if got := NormalizeCode("  abcd-efgh-jk23 \n"); got != "ABCD-EFGH-JK23" {
		t.Fatalf("NormalizeCode = %q", got)
	}
}
