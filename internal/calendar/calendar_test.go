package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayStart(t *testing.T) {
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	tests := []struct {
		name string
		loc  *time.Location
		ref  time.Time
		want time.Time
	}{
		{
			name: "utc midday",
			loc:  time.UTC,
			ref:  time.Date(2026, 5, 10, 13, 45, 0, 0, time.UTC),
			want: time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "nil location is utc",
			loc:  nil,
			ref:  time.Date(2026, 5, 10, 23, 59, 59, 0, time.UTC),
			want: time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "shanghai is already on the next day",
			loc:  shanghai,
			ref:  time.Date(2026, 5, 10, 17, 0, 0, 0, time.UTC),
			want: time.Date(2026, 5, 10, 16, 0, 0, 0, time.UTC),
		},
		{
			name: "shanghai before local midnight",
			loc:  shanghai,
			ref:  time.Date(2026, 5, 10, 15, 59, 0, 0, time.UTC),
			want: time.Date(2026, 5, 9, 16, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DayStart(tt.loc, tt.ref)
			assert.True(t, tt.want.Equal(got), "got %s, want %s", got, tt.want)
		})
	}
}

func TestNextDayStartAcrossMonth(t *testing.T) {
	ref := time.Date(2026, 1, 31, 22, 0, 0, 0, time.UTC)
	got := NextDayStart(time.UTC, ref)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestUTCDate(t *testing.T) {
	ref := time.Date(2026, 7, 4, 1, 2, 3, 0, time.FixedZone("UTC+3", 3*3600))
	assert.Equal(t, time.Date(2026, 7, 3, 0, 0, 0, 0, time.UTC), UTCDate(ref))
}
