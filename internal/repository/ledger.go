package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/genquota/internal/model"
)

const balanceQuery = `
SELECT (COALESCE(SUM(points) FILTER (
            WHERE type = 'earned' AND (expires_at IS NULL OR expires_at > $2)), 0)
      - COALESCE(SUM(points) FILTER (WHERE type = 'spent'), 0))::bigint
FROM user_points
WHERE user_id = $1`

// AddEarned записывает начисление баллов.
func (r *PostgresRepository) AddEarned(ctx context.Context, userID string, amount int64, description string, expiresAt *time.Time) (model.LedgerEntry, error) {
	return insertEntry(ctx, r.pool, model.LedgerEntry{
		UserID:      userID,
		Amount:      amount,
		Kind:        model.EntryEarned,
		Description: description,
		ExpiresAt:   expiresAt,
	})
}

// GetBalance возвращает баланс пользователя на момент now: сумма действующих начислений
// за вычетом всех списаний. Значение может быть отрицательным, если начисления сгорели
// после списаний.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID string, now time.Time) (int64, error) {
	return balance(ctx, r.pool, userID, now)
}

// SpendPoints списывает баллы. Списания одного пользователя сериализуются рекомендательной
// блокировкой транзакции, поэтому баланс после успешного списания не бывает отрицательным.
func (r *PostgresRepository) SpendPoints(ctx context.Context, userID string, amount int64, description string, now time.Time) (model.LedgerEntry, error) {
	var entry model.LedgerEntry

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('points:' || $1::text))`, userID); err != nil {
			return fmt.Errorf("lock user points: %w", err)
		}

		current, err := balance(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		if current < amount {
			return ErrInsufficientBalance
		}

		entry, err = insertEntry(ctx, tx, model.LedgerEntry{
			UserID:      userID,
			Amount:      amount,
			Kind:        model.EntrySpent,
			Description: description,
		})
		return err
	})
	if err != nil {
		return model.LedgerEntry{}, err
	}

	return entry, nil
}

// GetEntries возвращает последние записи журнала баллов пользователя.
func (r *PostgresRepository) GetEntries(ctx context.Context, userID string, limit int) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, points, type, description, earned_at, expires_at
		 FROM user_points
		 WHERE user_id = $1
		 ORDER BY earned_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var (
			e    model.LedgerEntry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &kind, &e.Description, &e.EarnedAt, &e.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Kind = model.EntryKind(kind)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return entries, nil
}

func balance(ctx context.Context, q querier, userID string, now time.Time) (int64, error) {
	var total int64
	if err := q.QueryRow(ctx, balanceQuery, userID, now).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum points: %w", err)
	}
	return total, nil
}

func insertEntry(ctx context.Context, q querier, e model.LedgerEntry) (model.LedgerEntry, error) {
	err := q.QueryRow(ctx,
		`INSERT INTO user_points (user_id, points, type, description, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, earned_at`,
		e.UserID, e.Amount, string(e.Kind), e.Description, e.ExpiresAt,
	).Scan(&e.ID, &e.EarnedAt)
	if err != nil {
		return model.LedgerEntry{}, fmt.Errorf("insert %s entry: %w", e.Kind, err)
	}
	return e, nil
}
