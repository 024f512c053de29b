// Package validation содержит функции валидации входных данных.
package validation

import "strings"

const (
	minCodeLength = 6
	maxCodeLength = 64
)

// NormalizeCode приводит промокод к каноническому виду: без пробелов по краям, в верхнем регистре.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidCode проверяет формат нормализованного промокода: латинские буквы и цифры,
// группы разделены одиночным дефисом, например ABCD-EFGH-JK23.
func IsValidCode(code string) bool {
	if len(code) < minCodeLength || len(code) > maxCodeLength {
		return false
	}

	prevDash := true
	for i := 0; i < len(code); i++ {
		ch := code[i]
		switch {
		case ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
			prevDash = false
		case ch == '-':
			if prevDash {
				return false
			}
			prevDash = true
		default:
			return false
		}
	}

	return !prevDash
}
