package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/genquota/internal/metrics"
	"github.com/mmeshcher/genquota/internal/model"
	"github.com/mmeshcher/genquota/internal/repository"
)

const defaultHistoryLimit = 50

// LedgerRepository описывает хранилище журнала баллов.
type LedgerRepository interface {
	AddEarned(ctx context.Context, userID string, amount int64, description string, expiresAt *time.Time) (model.LedgerEntry, error)
	GetBalance(ctx context.Context, userID string, now time.Time) (int64, error)
	SpendPoints(ctx context.Context, userID string, amount int64, description string, now time.Time) (model.LedgerEntry, error)
	GetEntries(ctx context.Context, userID string, limit int) ([]model.LedgerEntry, error)
}

// Ledger ведёт журнал начислений и списаний баллов. Баланс вычисляется при каждом чтении.
type Ledger struct {
	repo   LedgerRepository
	now    func() time.Time
	logger *zap.Logger
}

// NewLedger создаёт журнал баллов.
func NewLedger(repo LedgerRepository, logger *zap.Logger, opts ...Option) *Ledger {
	o := buildOptions(opts)
	return &Ledger{
		repo:   repo,
		now:    o.now,
		logger: logger,
	}
}

// Earn начисляет amount баллов со сроком действия expiryDays дней (0 означает бессрочно).
func (l *Ledger) Earn(ctx context.Context, userID string, amount int64, description string, expiryDays int) (model.LedgerEntry, error) {
	if userID == "" {
		return model.LedgerEntry{}, ErrEmptyUserID
	}
	if amount <= 0 {
		return model.LedgerEntry{}, ErrNonPositiveAmount
	}

	entry, err := l.repo.AddEarned(ctx, userID, amount, description, expiresIn(l.now(), expiryDays))
	if err != nil {
		metrics.ObserveLedger("earn", "error", 0)
		return model.LedgerEntry{}, fmt.Errorf("add earned: %w", err)
	}

	metrics.ObserveLedger("earn", "ok", amount)
	return entry, nil
}

// Balance возвращает сумму действующих начислений за вычетом списаний, но не меньше нуля.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrEmptyUserID
	}

	current, err := l.repo.GetBalance(ctx, userID, l.now())
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	if current < 0 {
		current = 0
	}
	return current, nil
}

// CheckSufficient сообщает, хватает ли баллов на списание cost.
func (l *Ledger) CheckSufficient(ctx context.Context, userID string, cost int64) (bool, error) {
	current, err := l.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return current >= cost, nil
}

// Spend списывает amount баллов. Возвращает false без записи в журнал, если баллов
// не хватает на момент записи.
func (l *Ledger) Spend(ctx context.Context, userID string, amount int64, description string) (bool, error) {
	if userID == "" {
		return false, ErrEmptyUserID
	}
	if amount <= 0 {
		return false, ErrNonPositiveAmount
	}

	_, err := l.repo.SpendPoints(ctx, userID, amount, description, l.now())
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			metrics.ObserveLedger("spend", "insufficient", 0)
			return false, nil
		}
		metrics.ObserveLedger("spend", "error", 0)
		return false, fmt.Errorf("spend points: %w", err)
	}

	metrics.ObserveLedger("spend", "ok", amount)
	l.logger.Debug("points spent", zap.String("userID", userID), zap.Int64("amount", amount))
	return true, nil
}

// History возвращает последние записи журнала пользователя, не более limit.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]model.LedgerEntry, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	if limit <= 0 || limit > defaultHistoryLimit {
		limit = defaultHistoryLimit
	}

	entries, err := l.repo.GetEntries(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("get entries: %w", err)
	}
	return entries, nil
}
