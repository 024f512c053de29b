// Package handler содержит HTTP-обработчики API сервиса genquota.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/genquota/internal/middleware"
	"github.com/mmeshcher/genquota/internal/model"
	"github.com/mmeshcher/genquota/internal/ratelimit"
	"github.com/mmeshcher/genquota/internal/service"
)

// Admission определяет контракт контроллера допуска к генерации.
type Admission interface {
	TryAdmit(ctx context.Context, origin, callerID string, isAdmin, isPremium bool) (model.AdmissionResult, error)
	Release(ctx context.Context, origin string) (model.ConcurrencySlot, error)
	Info(ctx context.Context, origin string) (model.ConcurrencySlot, error)
}

// Redemption определяет контракт движка активации промокодов.
type Redemption interface {
	Redeem(ctx context.Context, code, userID, origin string) (*model.RedemptionResult, error)
	IssueCodes(ctx context.Context, req service.IssueRequest) ([]model.RedeemableCode, error)
	SubscriptionStatus(ctx context.Context, userID string) (*model.SubscriptionStatus, error)
	IsPremium(ctx context.Context, userID string) (bool, error)
	Stats(ctx context.Context, loc *time.Location) (model.RedemptionStats, error)
}

// Quota определяет контракт суточной квоты попыток активации.
type Quota interface {
	Status(ctx context.Context, userID string) (model.QuotaDecision, error)
}

// Ledger определяет контракт журнала баллов.
type Ledger interface {
	Earn(ctx context.Context, userID string, amount int64, description string, expiryDays int) (model.LedgerEntry, error)
	Balance(ctx context.Context, userID string) (int64, error)
	CheckSufficient(ctx context.Context, userID string, cost int64) (bool, error)
	Spend(ctx context.Context, userID string, amount int64, description string) (bool, error)
	History(ctx context.Context, userID string, limit int) ([]model.LedgerEntry, error)
}

// Pinger проверяет доступность хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies перечисляет компоненты, которые использует HTTP-слой.
type Dependencies struct {
	Admission  Admission
	Redemption Redemption
	Quota      Quota
	Ledger     Ledger
	Storage    Pinger
	// Limiter ограничивает частоту запросов к /api; nil отключает ограничение.
	Limiter ratelimit.Limiter
	// ReportLocation задаёт часовой пояс отчёта об активациях по умолчанию.
	ReportLocation *time.Location
}

// Handler реализует HTTP-обработчики API сервиса genquota.
type Handler struct {
	deps           Dependencies
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(deps Dependencies, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	if deps.ReportLocation == nil {
		deps.ReportLocation = time.UTC
	}
	return &Handler{
		deps:           deps,
		logger:         logger,
		authMiddleware: auth,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) internalError(w http.ResponseWriter, msg string, err error, fields ...zap.Field) {
	h.logger.Error(msg, append(fields, zap.Error(err))...)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

type slotResponse struct {
	Origin  string `json:"origin"`
	Current int    `json:"current"`
	Max     *int   `json:"max"`
}

func newSlotResponse(slot model.ConcurrencySlot) slotResponse {
	return slotResponse{Origin: slot.OriginKey, Current: slot.Current, Max: slot.Max}
}

// Admit занимает слот генерации для IP-адреса клиента. При отказе отвечает 429.
func (h *Handler) Admit(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())
	origin := middleware.ClientIP(r)

	isPremium, err := h.deps.Redemption.IsPremium(r.Context(), caller.ID)
	if err != nil {
		h.logger.Warn("premium lookup failed", zap.Error(err), zap.String("userID", caller.ID))
	}

	res, err := h.deps.Admission.TryAdmit(r.Context(), origin, caller.ID, caller.IsAdmin, isPremium)
	if err != nil {
		if errors.Is(err, service.ErrEmptyOrigin) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.internalError(w, "admit generation error", err, zap.String("origin", origin))
		return
	}

	status := http.StatusOK
	if !res.Admitted {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, res)
}

// Release освобождает слот генерации IP-адреса клиента.
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	origin := middleware.ClientIP(r)

	slot, err := h.deps.Admission.Release(r.Context(), origin)
	if err != nil {
		if errors.Is(err, service.ErrEmptyOrigin) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.internalError(w, "release generation error", err, zap.String("origin", origin))
		return
	}

	writeJSON(w, http.StatusOK, newSlotResponse(slot))
}

// Slot возвращает состояние счётчика IP-адреса клиента.
func (h *Handler) Slot(w http.ResponseWriter, r *http.Request) {
	origin := middleware.ClientIP(r)

	slot, err := h.deps.Admission.Info(r.Context(), origin)
	if err != nil {
		if errors.Is(err, service.ErrEmptyOrigin) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.internalError(w, "slot info error", err, zap.String("origin", origin))
		return
	}

	writeJSON(w, http.StatusOK, newSlotResponse(slot))
}

type redeemRequest struct {
	Code string `json:"code"`
}

// Redeem активирует промокод текущего пользователя.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.deps.Redemption.Redeem(r.Context(), req.Code, caller.ID, middleware.ClientIP(r))
	if err != nil {
		h.logger.Error("redeem error", zap.Error(err), zap.String("userID", caller.ID))
		if res == nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusInternalServerError, res)
		return
	}

	switch {
	case res.Success:
		writeJSON(w, http.StatusOK, res)
	case res.Reason == model.ReasonQuotaExceeded:
		writeJSON(w, http.StatusTooManyRequests, res)
	default:
		writeJSON(w, http.StatusBadRequest, res)
	}
}

type quotaResponse struct {
	Attempts  int    `json:"attempts"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	ResetsAt  string `json:"resets_at"`
}

// QuotaStatus возвращает использованные за сутки попытки активации.
func (h *Handler) QuotaStatus(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())

	d, err := h.deps.Quota.Status(r.Context(), caller.ID)
	if err != nil {
		h.internalError(w, "quota status error", err, zap.String("userID", caller.ID))
		return
	}

	writeJSON(w, http.StatusOK, quotaResponse{
		Attempts:  d.Attempts,
		Limit:     d.Limit,
		Remaining: d.Remaining(),
		ResetsAt:  d.ResetsAt.Format(time.RFC3339),
	})
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

// GetBalance возвращает баланс баллов текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())

	balance, err := h.deps.Ledger.Balance(r.Context(), caller.ID)
	if err != nil {
		h.internalError(w, "get balance error", err, zap.String("userID", caller.ID))
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
}

type spendRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// Spend списывает баллы. При нехватке баллов отвечает 402.
func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())

	var req spendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ok, err := h.deps.Ledger.Spend(r.Context(), caller.ID, req.Amount, req.Description)
	if err != nil {
		if errors.Is(err, service.ErrNonPositiveAmount) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.internalError(w, "spend points error", err, zap.String("userID", caller.ID))
		return
	}
	if !ok {
		http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		return
	}

	balance, err := h.deps.Ledger.Balance(r.Context(), caller.ID)
	if err != nil {
		h.internalError(w, "get balance error", err, zap.String("userID", caller.ID))
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
}

type checkRequest struct {
	Cost int64 `json:"cost"`
}

type checkResponse struct {
	Sufficient bool `json:"sufficient"`
}

// CheckPoints сообщает, хватает ли баллов на списание.
func (h *Handler) CheckPoints(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())

	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Cost < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ok, err := h.deps.Ledger.CheckSufficient(r.Context(), caller.ID, req.Cost)
	if err != nil {
		h.internalError(w, "check points error", err, zap.String("userID", caller.ID))
		return
	}

	writeJSON(w, http.StatusOK, checkResponse{Sufficient: ok})
}

// GetHistory возвращает последние записи журнала баллов текущего пользователя.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.deps.Ledger.History(r.Context(), caller.ID, limit)
	if err != nil {
		h.internalError(w, "get history error", err, zap.String("userID", caller.ID))
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

type subscriptionResponse struct {
	PlanID    int64          `json:"plan_id"`
	PlanType  model.PlanType `json:"plan_type"`
	ExpiresAt string         `json:"expires_at"`
	Active    bool           `json:"active"`
}

// GetSubscription возвращает подписку текущего пользователя, 204 если её нет.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())

	sub, err := h.deps.Redemption.SubscriptionStatus(r.Context(), caller.ID)
	if err != nil {
		h.internalError(w, "get subscription error", err, zap.String("userID", caller.ID))
		return
	}
	if sub == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, subscriptionResponse{
		PlanID:    sub.PlanID,
		PlanType:  sub.PlanType,
		ExpiresAt: sub.ExpiresAt.Format(time.RFC3339),
		Active:    sub.Active,
	})
}

type issueRequest struct {
	PackageType model.PackageType `json:"package_type"`
	PackageID   int64             `json:"package_id"`
	Count       int               `json:"count"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
}

type issueResponse struct {
	BatchID string   `json:"batch_id"`
	Codes   []string `json:"codes"`
}

// IssueCodes выпускает партию промокодов. Доступно только администратору.
func (h *Handler) IssueCodes(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())

	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	codes, err := h.deps.Redemption.IssueCodes(r.Context(), service.IssueRequest{
		PackageType: req.PackageType,
		PackageID:   req.PackageID,
		Count:       req.Count,
		ExpiresAt:   req.ExpiresAt,
		CreatedBy:   caller.ID,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidIssueRequest):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, service.ErrPackageUnavailable):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		default:
			h.internalError(w, "issue codes error", err, zap.String("adminID", caller.ID))
		}
		return
	}

	resp := issueResponse{Codes: make([]string, 0, len(codes))}
	for _, c := range codes {
		resp.BatchID = c.BatchID
		resp.Codes = append(resp.Codes, c.Code)
	}

	writeJSON(w, http.StatusCreated, resp)
}

type grantRequest struct {
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	ExpiryDays  int    `json:"expiry_days"`
}

// GrantPoints начисляет баллы пользователю. Доступно только администратору.
func (h *Handler) GrantPoints(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	entry, err := h.deps.Ledger.Earn(r.Context(), req.UserID, req.Amount, req.Description, req.ExpiryDays)
	if err != nil {
		if errors.Is(err, service.ErrNonPositiveAmount) || errors.Is(err, service.ErrEmptyUserID) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.internalError(w, "grant points error", err, zap.String("userID", req.UserID))
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// RedemptionStats возвращает число активаций за текущие сутки. Часовой пояс можно
// переопределить параметром tz.
func (h *Handler) RedemptionStats(w http.ResponseWriter, r *http.Request) {
	loc := h.deps.ReportLocation
	if tz := r.URL.Query().Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		loc = l
	}

	stats, err := h.deps.Redemption.Stats(r.Context(), loc)
	if err != nil {
		h.internalError(w, "redemption stats error", err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Ping проверяет соединение с базой данных.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	if h.deps.Storage == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := h.deps.Storage.Ping(r.Context()); err != nil {
		h.internalError(w, "storage ping error", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
