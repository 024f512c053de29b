package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/genquota/internal/model"
)

// RedemptionTx описывает операции, выполняемые в одной транзакции активации кода.
type RedemptionTx interface {
	GetCode(ctx context.Context, code string) (*model.RedeemableCode, error)
	// ClaimCode помечает код активированным, только если он ещё не был активирован.
	ClaimCode(ctx context.Context, id int64) (bool, error)
	GetPointsPackage(ctx context.Context, id int64) (*model.PointsPackage, error)
	GetSubscriptionPlan(ctx context.Context, id int64) (*model.SubscriptionPlan, error)
	// LockSubscription блокирует подписку пользователя до конца транзакции и возвращает её
	// (nil, если подписки нет).
	LockSubscription(ctx context.Context, userID string) (*model.Subscription, error)
	SaveSubscription(ctx context.Context, sub model.Subscription) error
	AddEarned(ctx context.Context, userID string, amount int64, description string, expiresAt *time.Time) (model.LedgerEntry, error)
	InsertRedemption(ctx context.Context, rec model.RedemptionRecord) (model.RedemptionRecord, error)
}

// InRedemptionTx выполняет fn в транзакции. Ошибка fn откатывает все изменения.
func (r *PostgresRepository) InRedemptionTx(ctx context.Context, fn func(ctx context.Context, tx RedemptionTx) error) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &pgRedemptionTx{tx: tx})
	})
}

type pgRedemptionTx struct {
	tx pgx.Tx
}

func (t *pgRedemptionTx) GetCode(ctx context.Context, code string) (*model.RedeemableCode, error) {
	return getCode(ctx, t.tx, code)
}

func (t *pgRedemptionTx) ClaimCode(ctx context.Context, id int64) (bool, error) {
	var claimed int64
	err := t.tx.QueryRow(ctx,
		`UPDATE cdk SET is_redeemed = TRUE, updated_at = now()
		 WHERE id = $1 AND is_redeemed = FALSE
		 RETURNING id`,
		id,
	).Scan(&claimed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("claim code: %w", err)
	}
	return true, nil
}

func (t *pgRedemptionTx) GetPointsPackage(ctx context.Context, id int64) (*model.PointsPackage, error) {
	return getPointsPackage(ctx, t.tx, id)
}

func (t *pgRedemptionTx) GetSubscriptionPlan(ctx context.Context, id int64) (*model.SubscriptionPlan, error) {
	return getSubscriptionPlan(ctx, t.tx, id)
}

func (t *pgRedemptionTx) LockSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	// Блокировка по ключу пользователя закрывает и случай, когда строки подписки ещё нет.
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('subscription:' || $1::text))`, userID); err != nil {
		return nil, fmt.Errorf("lock subscription: %w", err)
	}

	sub, err := getSubscription(ctx, t.tx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil, nil
	}
	return sub, err
}

func (t *pgRedemptionTx) SaveSubscription(ctx context.Context, sub model.Subscription) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO user_subscriptions (user_id, plan_id, plan_type, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET plan_id = EXCLUDED.plan_id,
		     plan_type = EXCLUDED.plan_type,
		     expires_at = EXCLUDED.expires_at,
		     updated_at = now()`,
		sub.UserID, sub.PlanID, string(sub.PlanType), sub.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

func (t *pgRedemptionTx) AddEarned(ctx context.Context, userID string, amount int64, description string, expiresAt *time.Time) (model.LedgerEntry, error) {
	return insertEntry(ctx, t.tx, model.LedgerEntry{
		UserID:      userID,
		Amount:      amount,
		Kind:        model.EntryEarned,
		Description: description,
		ExpiresAt:   expiresAt,
	})
}

func (t *pgRedemptionTx) InsertRedemption(ctx context.Context, rec model.RedemptionRecord) (model.RedemptionRecord, error) {
	data := rec.PackageData
	if len(data) == 0 {
		data = []byte("{}")
	}

	err := t.tx.QueryRow(ctx,
		`INSERT INTO cdk_redemption (cdk_id, user_id, ip_address, package_type, package_name, package_data)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, redeemed_at`,
		rec.CodeID, rec.UserID, rec.OriginKey, string(rec.PackageType), rec.PackageName, string(data),
	).Scan(&rec.ID, &rec.RedeemedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.RedemptionRecord{}, fmt.Errorf("insert redemption: %w", ErrCodeExists)
		}
		return model.RedemptionRecord{}, fmt.Errorf("insert redemption: %w", err)
	}
	return rec, nil
}

// InsertCodes сохраняет выпущенные коды в одной транзакции.
func (r *PostgresRepository) InsertCodes(ctx context.Context, codes []model.RedeemableCode) ([]model.RedeemableCode, error) {
	saved := make([]model.RedeemableCode, 0, len(codes))

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		saved = saved[:0]
		for _, c := range codes {
			err := tx.QueryRow(ctx,
				`INSERT INTO cdk (code, package_type, package_id, expires_at, created_by, batch_id)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 RETURNING id, created_at`,
				c.Code, string(c.PackageType), c.PackageID, c.ExpiresAt, c.CreatedBy, c.BatchID,
			).Scan(&c.ID, &c.CreatedAt)
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: %s", ErrCodeExists, c.Code)
				}
				return fmt.Errorf("insert code: %w", err)
			}
			saved = append(saved, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return saved, nil
}

// GetCode возвращает промокод по его значению.
func (r *PostgresRepository) GetCode(ctx context.Context, code string) (*model.RedeemableCode, error) {
	return getCode(ctx, r.pool, code)
}

// CountRedemptionsSince возвращает число активаций начиная с момента since.
func (r *PostgresRepository) CountRedemptionsSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM cdk_redemption WHERE redeemed_at >= $1`,
		since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count redemptions: %w", err)
	}
	return count, nil
}

func getCode(ctx context.Context, q querier, code string) (*model.RedeemableCode, error) {
	var (
		c           model.RedeemableCode
		packageType string
	)
	err := q.QueryRow(ctx,
		`SELECT id, code, package_type, package_id, is_redeemed, expires_at, created_by, batch_id, created_at
		 FROM cdk
		 WHERE code = $1`,
		code,
	).Scan(&c.ID, &c.Code, &packageType, &c.PackageID, &c.IsRedeemed, &c.ExpiresAt, &c.CreatedBy, &c.BatchID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("get code: %w", err)
	}
	c.PackageType = model.PackageType(packageType)
	return &c, nil
}
