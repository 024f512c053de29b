package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ConsumeAttempt засчитывает попытку активации за сутки day (полночь UTC).
// Если сохранённые сутки раньше day, счётчик сбрасывается. При достигнутом лимите
// счётчик не меняется, а allowed равен false.
func (r *PostgresRepository) ConsumeAttempt(ctx context.Context, userID string, day time.Time, limit int) (attempts int, allowed bool, err error) {
	err = r.pool.QueryRow(ctx,
		`INSERT INTO user_cdk_daily_limit AS l (user_id, daily_redemptions, last_redemption_reset_date)
		 VALUES ($1, 1, $2)
		 ON CONFLICT (user_id) DO UPDATE
		 SET daily_redemptions = CASE
		         WHEN l.last_redemption_reset_date < EXCLUDED.last_redemption_reset_date THEN 1
		         ELSE l.daily_redemptions + 1
		     END,
		     last_redemption_reset_date = GREATEST(l.last_redemption_reset_date, EXCLUDED.last_redemption_reset_date),
		     updated_at = now()
		 WHERE l.last_redemption_reset_date < EXCLUDED.last_redemption_reset_date
		    OR l.daily_redemptions < $3
		 RETURNING daily_redemptions`,
		userID, day, limit,
	).Scan(&attempts)
	if err == nil {
		return attempts, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("consume attempt: %w", err)
	}

	attempts, _, err = r.GetAttempts(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	return attempts, false, nil
}

// GetAttempts возвращает сохранённое число попыток и сутки, к которым оно относится.
// Для пользователя без попыток возвращает ноль и нулевое время.
func (r *PostgresRepository) GetAttempts(ctx context.Context, userID string) (int, time.Time, error) {
	var (
		attempts int
		day      time.Time
	)
	err := r.pool.QueryRow(ctx,
		`SELECT daily_redemptions, last_redemption_reset_date
		 FROM user_cdk_daily_limit
		 WHERE user_id = $1`,
		userID,
	).Scan(&attempts, &day)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, time.Time{}, nil
		}
		return 0, time.Time{}, fmt.Errorf("get attempts: %w", err)
	}
	return attempts, day, nil
}
