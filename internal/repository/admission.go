package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/genquota/internal/model"
)

// AcquireSlot создаёт счётчик источника при первом обращении, записывает актуальный лимит
// и атомарно занимает слот, если текущее значение ниже лимита. Второй результат сообщает,
// был ли слот занят.
func (r *PostgresRepository) AcquireSlot(ctx context.Context, origin string, maxConcurrency *int) (model.ConcurrencySlot, bool, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO ip_concurrency (ip_address, current_concurrency, max_concurrency)
		 VALUES ($1, 0, $2)
		 ON CONFLICT (ip_address) DO UPDATE
		 SET max_concurrency = EXCLUDED.max_concurrency, updated_at = now()`,
		origin, maxConcurrency,
	)
	if err != nil {
		return model.ConcurrencySlot{}, false, fmt.Errorf("upsert slot: %w", err)
	}

	slot := model.ConcurrencySlot{OriginKey: origin}
	err = r.pool.QueryRow(ctx,
		`UPDATE ip_concurrency
		 SET current_concurrency = current_concurrency + 1, updated_at = now()
		 WHERE ip_address = $1
		   AND (max_concurrency IS NULL OR current_concurrency < max_concurrency)
		 RETURNING current_concurrency, max_concurrency, updated_at`,
		origin,
	).Scan(&slot.Current, &slot.Max, &slot.UpdatedAt)
	if err == nil {
		return slot, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.ConcurrencySlot{}, false, fmt.Errorf("increment slot: %w", err)
	}

	current, err := r.GetSlot(ctx, origin)
	if err != nil {
		return model.ConcurrencySlot{}, false, err
	}
	return *current, false, nil
}

// ReleaseSlot уменьшает счётчик источника, не опуская его ниже нуля.
// Для неизвестного источника возвращает пустой счётчик без ошибки.
func (r *PostgresRepository) ReleaseSlot(ctx context.Context, origin string) (model.ConcurrencySlot, error) {
	slot := model.ConcurrencySlot{OriginKey: origin}
	err := r.pool.QueryRow(ctx,
		`UPDATE ip_concurrency
		 SET current_concurrency = GREATEST(current_concurrency - 1, 0), updated_at = now()
		 WHERE ip_address = $1
		 RETURNING current_concurrency, max_concurrency, updated_at`,
		origin,
	).Scan(&slot.Current, &slot.Max, &slot.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return slot, nil
		}
		return model.ConcurrencySlot{}, fmt.Errorf("release slot: %w", err)
	}
	return slot, nil
}

// GetSlot возвращает состояние счётчика источника.
func (r *PostgresRepository) GetSlot(ctx context.Context, origin string) (*model.ConcurrencySlot, error) {
	slot := model.ConcurrencySlot{OriginKey: origin}
	err := r.pool.QueryRow(ctx,
		`SELECT current_concurrency, max_concurrency, updated_at
		 FROM ip_concurrency
		 WHERE ip_address = $1`,
		origin,
	).Scan(&slot.Current, &slot.Max, &slot.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return &slot, nil
}

// SlotUsage возвращает число источников с занятыми слотами и общее число занятых слотов.
func (r *PostgresRepository) SlotUsage(ctx context.Context) (origins int64, occupied int64, err error) {
	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE current_concurrency > 0),
		        COALESCE(SUM(current_concurrency), 0)::bigint
		 FROM ip_concurrency`,
	).Scan(&origins, &occupied)
	if err != nil {
		return 0, 0, fmt.Errorf("slot usage: %w", err)
	}
	return origins, occupied, nil
}
