// Package service реализует бизнес-логику ядра управления ресурсами: допуск к генерации,
// суточную квоту попыток, журнал баллов и активацию промокодов.
package service

import (
	"errors"
	"time"
)

var (
	// ErrEmptyOrigin возвращается, если не удалось определить сетевой источник запроса.
	ErrEmptyOrigin = errors.New("empty origin")
	// ErrEmptyUserID возвращается для операций, требующих идентификатор пользователя.
	ErrEmptyUserID = errors.New("empty user id")
	// ErrNonPositiveAmount возвращается при нулевой или отрицательной сумме баллов.
	ErrNonPositiveAmount = errors.New("amount must be positive")
	// ErrInvalidIssueRequest возвращается при некорректном запросе на выпуск кодов.
	ErrInvalidIssueRequest = errors.New("invalid issue request")
	// ErrPackageUnavailable возвращается, если пакет каталога отсутствует или снят с продажи.
	ErrPackageUnavailable = errors.New("package unavailable")
)

const day = 24 * time.Hour

// Option настраивает компоненты сервиса.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func expiresIn(now time.Time, days int) *time.Time {
	if days <= 0 {
		return nil
	}
	t := now.Add(time.Duration(days) * day)
	return &t
}
