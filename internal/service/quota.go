package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/genquota/internal/calendar"
	"github.com/mmeshcher/genquota/internal/model"
)

// AttemptRepository описывает хранилище суточных счётчиков попыток активации.
type AttemptRepository interface {
	ConsumeAttempt(ctx context.Context, userID string, day time.Time, limit int) (int, bool, error)
	GetAttempts(ctx context.Context, userID string) (int, time.Time, error)
}

// QuotaTracker считает попытки активации кодов (а не успешные активации) в пределах суток UTC.
type QuotaTracker struct {
	repo  AttemptRepository
	limit int
	now   func() time.Time
}

// NewQuotaTracker создаёт счётчик с суточным лимитом limit.
func NewQuotaTracker(repo AttemptRepository, limit int, opts ...Option) *QuotaTracker {
	o := buildOptions(opts)
	return &QuotaTracker{
		repo:  repo,
		limit: limit,
		now:   o.now,
	}
}

// Limit возвращает суточный лимит попыток.
func (q *QuotaTracker) Limit() int {
	return q.limit
}

// Consume засчитывает попытку. При исчерпанном лимите попытка не засчитывается,
// а Allowed равен false.
func (q *QuotaTracker) Consume(ctx context.Context, userID string) (model.QuotaDecision, error) {
	if userID == "" {
		return model.QuotaDecision{}, ErrEmptyUserID
	}

	now := q.now()

	attempts, allowed, err := q.repo.ConsumeAttempt(ctx, userID, calendar.UTCDate(now), q.limit)
	if err != nil {
		return model.QuotaDecision{}, fmt.Errorf("consume attempt: %w", err)
	}

	return model.QuotaDecision{
		Allowed:  allowed,
		Attempts: attempts,
		Limit:    q.limit,
		ResetsAt: calendar.NextDayStart(time.UTC, now),
	}, nil
}

// Status возвращает использованные за текущие сутки UTC попытки без их изменения.
func (q *QuotaTracker) Status(ctx context.Context, userID string) (model.QuotaDecision, error) {
	if userID == "" {
		return model.QuotaDecision{}, ErrEmptyUserID
	}

	attempts, stored, err := q.repo.GetAttempts(ctx, userID)
	if err != nil {
		return model.QuotaDecision{}, fmt.Errorf("get attempts: %w", err)
	}

	now := q.now()
	if stored.Before(calendar.UTCDate(now)) {
		attempts = 0
	}

	return model.QuotaDecision{
		Allowed:  attempts < q.limit,
		Attempts: attempts,
		Limit:    q.limit,
		ResetsAt: calendar.NextDayStart(time.UTC, now),
	}, nil
}
