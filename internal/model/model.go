// Package model содержит доменные сущности ядра управления ресурсами.
package model

import (
	"encoding/json"
	"time"
)

// ConcurrencySlot описывает счётчик одновременных генераций для одного сетевого источника.
// Max == nil означает отсутствие ограничения (администратор).
type ConcurrencySlot struct {
	OriginKey string
	Current   int
	Max       *int
	UpdatedAt time.Time
}

// AdmissionResult описывает итог проверки допуска к генерации.
type AdmissionResult struct {
	Admitted bool `json:"admitted"`
	Current  int  `json:"current"`
	Max      *int `json:"max"`
}

// PackageType определяет, что выдаёт код при активации.
type PackageType string

const (
	PackagePoints       PackageType = "points_package"
	PackageSubscription PackageType = "subscription_plan"
)

// Valid сообщает, известен ли тип пакета.
func (t PackageType) Valid() bool {
	return t == PackagePoints || t == PackageSubscription
}

// RedeemableCode описывает одноразовый промокод (CDK).
type RedeemableCode struct {
	ID          int64
	Code        string
	PackageType PackageType
	PackageID   int64
	IsRedeemed  bool
	ExpiresAt   *time.Time
	CreatedBy   string
	BatchID     string
	CreatedAt   time.Time
}

// Expired сообщает, истёк ли срок действия кода к моменту now.
func (c *RedeemableCode) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// RedemptionRecord хранит запись об активации кода со снимком пакета.
type RedemptionRecord struct {
	ID          int64
	CodeID      int64
	UserID      string
	RedeemedAt  time.Time
	OriginKey   *string
	PackageType PackageType
	PackageName string
	PackageData json.RawMessage
}

// RedemptionReason задаёт машиночитаемый исход попытки активации.
type RedemptionReason string

const (
	ReasonRedeemed           RedemptionReason = "redeemed"
	ReasonQuotaExceeded      RedemptionReason = "quota_exceeded"
	ReasonInvalidFormat      RedemptionReason = "invalid_format"
	ReasonNotFound           RedemptionReason = "not_found"
	ReasonAlreadyRedeemed    RedemptionReason = "already_redeemed"
	ReasonExpired            RedemptionReason = "expired"
	ReasonPackageUnavailable RedemptionReason = "package_unavailable"
	ReasonUnexpected         RedemptionReason = "unexpected"
)

// RedemptionResult содержит ответ движка активации, пригодный для показа пользователю.
type RedemptionResult struct {
	Success bool             `json:"success"`
	Reason  RedemptionReason `json:"reason"`
	Message string           `json:"message"`
	Data    *RedemptionData  `json:"data,omitempty"`
}

// RedemptionData описывает эффект успешной активации.
type RedemptionData struct {
	PackageType           PackageType `json:"package_type"`
	PackageName           string      `json:"package_name"`
	PointsGranted         int64       `json:"points_granted,omitempty"`
	SubscriptionExpiresAt *time.Time  `json:"subscription_expires_at,omitempty"`
}

// QuotaDecision описывает состояние суточного счётчика попыток активации.
type QuotaDecision struct {
	Allowed  bool      `json:"allowed"`
	Attempts int       `json:"attempts"`
	Limit    int       `json:"limit"`
	ResetsAt time.Time `json:"resets_at"`
}

// Remaining возвращает число оставшихся попыток.
func (q QuotaDecision) Remaining() int {
	if q.Attempts >= q.Limit {
		return 0
	}
	return q.Limit - q.Attempts
}

// EntryKind задаёт направление движения баллов.
type EntryKind string

const (
	EntryEarned EntryKind = "earned"
	EntrySpent  EntryKind = "spent"
)

// LedgerEntry описывает запись журнала баллов. Amount всегда положителен, знак задаёт Kind.
type LedgerEntry struct {
	ID          int64      `json:"id"`
	UserID      string     `json:"user_id"`
	Amount      int64      `json:"amount"`
	Kind        EntryKind  `json:"kind"`
	Description string     `json:"description"`
	EarnedAt    time.Time  `json:"earned_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Active сообщает, учитывается ли начисление в балансе на момент now.
func (e LedgerEntry) Active(now time.Time) bool {
	return e.Kind == EntryEarned && (e.ExpiresAt == nil || e.ExpiresAt.After(now))
}

// PointsPackage описывает пакет баллов из каталога.
type PointsPackage struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Points   int64  `json:"points"`
	IsActive bool   `json:"is_active"`
}

// PlanType задаёт период подписки.
type PlanType string

const (
	PlanMonthly   PlanType = "monthly"
	PlanQuarterly PlanType = "quarterly"
	PlanYearly    PlanType = "yearly"
)

// Duration возвращает длительность периода подписки.
func (p PlanType) Duration() time.Duration {
	switch p {
	case PlanQuarterly:
		return 90 * 24 * time.Hour
	case PlanYearly:
		return 365 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

// SubscriptionPlan описывает тарифный план из каталога.
type SubscriptionPlan struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	PlanType    PlanType `json:"plan_type"`
	BonusPoints int64    `json:"bonus_points"`
	IsActive    bool     `json:"is_active"`
}

// Subscription описывает текущее состояние подписки пользователя.
type Subscription struct {
	UserID    string    `json:"user_id"`
	PlanID    int64     `json:"plan_id"`
	PlanType  PlanType  `json:"plan_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Active сообщает, действует ли подписка на момент now.
func (s *Subscription) Active(now time.Time) bool {
	return s != nil && s.ExpiresAt.After(now)
}

// SubscriptionStatus описывает подписку вместе с её состоянием на момент запроса.
type SubscriptionStatus struct {
	PlanID    int64     `json:"plan_id"`
	PlanType  PlanType  `json:"plan_type"`
	ExpiresAt time.Time `json:"expires_at"`
	Active    bool      `json:"active"`
}

// ExtendSubscription вычисляет новую дату окончания подписки: действующая подписка
// продлевается от своей даты окончания, иначе срок отсчитывается от now.
func ExtendSubscription(current *Subscription, now time.Time, d time.Duration) time.Time {
	if current.Active(now) {
		return current.ExpiresAt.Add(d)
	}
	return now.Add(d)
}

// RedemptionStats содержит число активаций с начала текущих суток в заданном часовом поясе.
type RedemptionStats struct {
	Timezone string    `json:"timezone"`
	Since    time.Time `json:"since"`
	Count    int64     `json:"count"`
}
