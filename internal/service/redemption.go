package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/genquota/internal/calendar"
	"github.com/mmeshcher/genquota/internal/metrics"
	"github.com/mmeshcher/genquota/internal/model"
	"github.com/mmeshcher/genquota/internal/repository"
	"github.com/mmeshcher/genquota/internal/validation"
)

const (
	pointsPackageExpiryDays = 30
	planBonusExpiryDays     = 365
)

// Сообщения для пользователя.
const (
	MsgRedeemed           = "兑换成功"
	MsgQuotaExceeded      = "今日兑换次数已达上限（%d次），请明天再试"
	MsgInvalidFormat      = "CDK格式不正确"
	MsgCodeNotFound       = "CDK不存在"
	MsgAlreadyRedeemed    = "CDK已被使用"
	MsgCodeExpired        = "CDK已过期"
	MsgPackageUnavailable = "CDK对应的套餐已下架"
	MsgRedeemFailed       = "兑换失败，请稍后重试"
)

// RedemptionRepository описывает хранилище промокодов, каталога и журнала активаций.
type RedemptionRepository interface {
	InRedemptionTx(ctx context.Context, fn func(ctx context.Context, tx repository.RedemptionTx) error) error
	InsertCodes(ctx context.Context, codes []model.RedeemableCode) ([]model.RedeemableCode, error)
	GetPointsPackage(ctx context.Context, id int64) (*model.PointsPackage, error)
	GetSubscriptionPlan(ctx context.Context, id int64) (*model.SubscriptionPlan, error)
	GetSubscription(ctx context.Context, userID string) (*model.Subscription, error)
	CountRedemptionsSince(ctx context.Context, since time.Time) (int64, error)
}

// RedemptionEngine активирует одноразовые промокоды с учётом суточной квоты попыток.
type RedemptionEngine struct {
	repo   RedemptionRepository
	quota  *QuotaTracker
	now    func() time.Time
	logger *zap.Logger
}

// NewRedemptionEngine создаёт движок активации.
func NewRedemptionEngine(repo RedemptionRepository, quota *QuotaTracker, logger *zap.Logger, opts ...Option) *RedemptionEngine {
	o := buildOptions(opts)
	return &RedemptionEngine{
		repo:   repo,
		quota:  quota,
		now:    o.now,
		logger: logger,
	}
}

// rejection прерывает транзакцию активации с ожидаемым бизнес-исходом.
type rejection struct {
	reason  model.RedemptionReason
	message string
}

func (r *rejection) Error() string { return string(r.reason) }

func reject(reason model.RedemptionReason, message string) error {
	return &rejection{reason: reason, message: message}
}

// Redeem активирует код code для пользователя userID. Попытка засчитывается в суточную
// квоту до проверки формата и не откатывается при неудаче. Ожидаемые отказы возвращаются
// как результат с Success == false; ошибка возвращается только при сбое хранилища, и в
// этом случае результат содержит общее сообщение о неудаче.
func (e *RedemptionEngine) Redeem(ctx context.Context, code, userID, origin string) (*model.RedemptionResult, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	decision, err := e.quota.Consume(ctx, userID)
	if err != nil {
		metrics.IncRedemption(string(model.ReasonUnexpected))
		return failure(model.ReasonUnexpected, MsgRedeemFailed), err
	}
	if !decision.Allowed {
		return e.rejected(model.ReasonQuotaExceeded, fmt.Sprintf(MsgQuotaExceeded, decision.Limit)), nil
	}

	normalized := validation.NormalizeCode(code)
	if !validation.IsValidCode(normalized) {
		return e.rejected(model.ReasonInvalidFormat, MsgInvalidFormat), nil
	}

	var data *model.RedemptionData
	err = e.repo.InRedemptionTx(ctx, func(ctx context.Context, tx repository.RedemptionTx) error {
		var err error
		data, err = e.fulfil(ctx, tx, normalized, userID, origin)
		return err
	})
	if err != nil {
		var rej *rejection
		if errors.As(err, &rej) {
			return e.rejected(rej.reason, rej.message), nil
		}
		metrics.IncRedemption(string(model.ReasonUnexpected))
		e.logger.Error("redemption transaction failed",
			zap.Error(err),
			zap.String("userID", userID),
			zap.String("code", normalized),
		)
		return failure(model.ReasonUnexpected, MsgRedeemFailed), fmt.Errorf("redeem %s: %w", normalized, err)
	}

	metrics.IncRedemption(string(model.ReasonRedeemed))
	e.logger.Info("code redeemed",
		zap.String("userID", userID),
		zap.String("code", normalized),
		zap.String("packageType", string(data.PackageType)),
	)

	return &model.RedemptionResult{
		Success: true,
		Reason:  model.ReasonRedeemed,
		Message: MsgRedeemed,
		Data:    data,
	}, nil
}

func (e *RedemptionEngine) fulfil(ctx context.Context, tx repository.RedemptionTx, code, userID, origin string) (*model.RedemptionData, error) {
	now := e.now()

	c, err := tx.GetCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrCodeNotFound) {
			return nil, reject(model.ReasonNotFound, MsgCodeNotFound)
		}
		return nil, err
	}
	if c.IsRedeemed {
		return nil, reject(model.ReasonAlreadyRedeemed, MsgAlreadyRedeemed)
	}
	if c.Expired(now) {
		return nil, reject(model.ReasonExpired, MsgCodeExpired)
	}

	var (
		apply    func() (*model.RedemptionData, error)
		name     string
		snapshot any
	)

	switch c.PackageType {
	case model.PackagePoints:
		pkg, err := tx.GetPointsPackage(ctx, c.PackageID)
		if err != nil {
			return nil, fmt.Errorf("resolve points package %d: %w", c.PackageID, err)
		}
		if !pkg.IsActive {
			return nil, reject(model.ReasonPackageUnavailable, MsgPackageUnavailable)
		}
		name, snapshot = pkg.Name, pkg
		apply = func() (*model.RedemptionData, error) {
			return e.grantPoints(ctx, tx, userID, pkg, now)
		}
	case model.PackageSubscription:
		plan, err := tx.GetSubscriptionPlan(ctx, c.PackageID)
		if err != nil {
			return nil, fmt.Errorf("resolve subscription plan %d: %w", c.PackageID, err)
		}
		if !plan.IsActive {
			return nil, reject(model.ReasonPackageUnavailable, MsgPackageUnavailable)
		}
		name, snapshot = plan.Name, plan
		apply = func() (*model.RedemptionData, error) {
			return e.extendSubscription(ctx, tx, userID, plan, now)
		}
	default:
		return nil, reject(model.ReasonPackageUnavailable, MsgPackageUnavailable)
	}

	claimed, err := tx.ClaimCode(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, reject(model.ReasonAlreadyRedeemed, MsgAlreadyRedeemed)
	}

	data, err := apply()
	if err != nil {
		return nil, err
	}

	packageData, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal package snapshot: %w", err)
	}

	var originKey *string
	if origin != "" {
		originKey = &origin
	}

	_, err = tx.InsertRedemption(ctx, model.RedemptionRecord{
		CodeID:      c.ID,
		UserID:      userID,
		OriginKey:   originKey,
		PackageType: c.PackageType,
		PackageName: name,
		PackageData: packageData,
	})
	if err != nil {
		return nil, err
	}

	return data, nil
}

func (e *RedemptionEngine) grantPoints(ctx context.Context, tx repository.RedemptionTx, userID string, pkg *model.PointsPackage, now time.Time) (*model.RedemptionData, error) {
	if _, err := tx.AddEarned(ctx, userID, pkg.Points, "CDK兑换: "+pkg.Name, expiresIn(now, pointsPackageExpiryDays)); err != nil {
		return nil, err
	}

	return &model.RedemptionData{
		PackageType:   model.PackagePoints,
		PackageName:   pkg.Name,
		PointsGranted: pkg.Points,
	}, nil
}

func (e *RedemptionEngine) extendSubscription(ctx context.Context, tx repository.RedemptionTx, userID string, plan *model.SubscriptionPlan, now time.Time) (*model.RedemptionData, error) {
	current, err := tx.LockSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	expiresAt := model.ExtendSubscription(current, now, plan.PlanType.Duration())
	err = tx.SaveSubscription(ctx, model.Subscription{
		UserID:    userID,
		PlanID:    plan.ID,
		PlanType:  plan.PlanType,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, err
	}

	if plan.BonusPoints > 0 {
		if _, err := tx.AddEarned(ctx, userID, plan.BonusPoints, "订阅赠送: "+plan.Name, expiresIn(now, planBonusExpiryDays)); err != nil {
			return nil, err
		}
	}

	return &model.RedemptionData{
		PackageType:           model.PackageSubscription,
		PackageName:           plan.Name,
		PointsGranted:         plan.BonusPoints,
		SubscriptionExpiresAt: &expiresAt,
	}, nil
}

func (e *RedemptionEngine) rejected(reason model.RedemptionReason, message string) *model.RedemptionResult {
	metrics.IncRedemption(string(reason))
	return failure(reason, message)
}

func failure(reason model.RedemptionReason, message string) *model.RedemptionResult {
	return &model.RedemptionResult{
		Success: false,
		Reason:  reason,
		Message: message,
	}
}

// Subscription возвращает подписку пользователя или nil, если её нет.
func (e *RedemptionEngine) Subscription(ctx context.Context, userID string) (*model.Subscription, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	sub, err := e.repo.GetSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// SubscriptionStatus возвращает подписку пользователя с признаком активности
// на текущий момент или nil, если подписки нет.
func (e *RedemptionEngine) SubscriptionStatus(ctx context.Context, userID string) (*model.SubscriptionStatus, error) {
	sub, err := e.Subscription(ctx, userID)
	if err != nil || sub == nil {
		return nil, err
	}
	return &model.SubscriptionStatus{
		PlanID:    sub.PlanID,
		PlanType:  sub.PlanType,
		ExpiresAt: sub.ExpiresAt,
		Active:    sub.Active(e.now()),
	}, nil
}

// IsPremium сообщает, есть ли у пользователя действующая подписка.
func (e *RedemptionEngine) IsPremium(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	sub, err := e.Subscription(ctx, userID)
	if err != nil {
		return false, err
	}
	return sub.Active(e.now()), nil
}

// Stats возвращает число активаций с начала текущих суток в часовом поясе loc.
func (e *RedemptionEngine) Stats(ctx context.Context, loc *time.Location) (model.RedemptionStats, error) {
	if loc == nil {
		loc = time.UTC
	}
	since := calendar.DayStart(loc, e.now())

	count, err := e.repo.CountRedemptionsSince(ctx, since)
	if err != nil {
		return model.RedemptionStats{}, fmt.Errorf("count redemptions: %w", err)
	}

	return model.RedemptionStats{
		Timezone: loc.String(),
		Since:    since,
		Count:    count,
	}, nil
}
