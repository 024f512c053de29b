package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/genquota/internal/model"
)

// GetPointsPackage возвращает пакет баллов, в том числе неактивный.
func (r *PostgresRepository) GetPointsPackage(ctx context.Context, id int64) (*model.PointsPackage, error) {
	return getPointsPackage(ctx, r.pool, id)
}

// GetSubscriptionPlan возвращает тарифный план, в том числе неактивный.
func (r *PostgresRepository) GetSubscriptionPlan(ctx context.Context, id int64) (*model.SubscriptionPlan, error) {
	return getSubscriptionPlan(ctx, r.pool, id)
}

// GetSubscription возвращает подписку пользователя.
func (r *PostgresRepository) GetSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	return getSubscription(ctx, r.pool, userID)
}

func getPointsPackage(ctx context.Context, q querier, id int64) (*model.PointsPackage, error) {
	var p model.PointsPackage
	err := q.QueryRow(ctx,
		`SELECT id, name, points, is_active FROM points_packages WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.Points, &p.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPackageNotFound
		}
		return nil, fmt.Errorf("get points package: %w", err)
	}
	return &p, nil
}

func getSubscriptionPlan(ctx context.Context, q querier, id int64) (*model.SubscriptionPlan, error) {
	var (
		p        model.SubscriptionPlan
		planType string
	)
	err := q.QueryRow(ctx,
		`SELECT id, name, plan_type, bonus_points, is_active FROM subscription_plans WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &planType, &p.BonusPoints, &p.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPackageNotFound
		}
		return nil, fmt.Errorf("get subscription plan: %w", err)
	}
	p.PlanType = model.PlanType(planType)
	return &p, nil
}

func getSubscription(ctx context.Context, q querier, userID string) (*model.Subscription, error) {
	var (
		s        model.Subscription
		planType string
	)
	err := q.QueryRow(ctx,
		`SELECT user_id, plan_id, plan_type, expires_at FROM user_subscriptions WHERE user_id = $1`,
		userID,
	).Scan(&s.UserID, &s.PlanID, &planType, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	s.PlanType = model.PlanType(planType)
	return &s, nil
}
