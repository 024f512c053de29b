package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/genquota/internal/metrics"
	"github.com/mmeshcher/genquota/internal/model"
	"github.com/mmeshcher/genquota/internal/repository"
)

const anonymousConcurrency = 1

// SlotRepository описывает хранилище счётчиков одновременных генераций.
type SlotRepository interface {
	AcquireSlot(ctx context.Context, origin string, maxConcurrency *int) (model.ConcurrencySlot, bool, error)
	ReleaseSlot(ctx context.Context, origin string) (model.ConcurrencySlot, error)
	GetSlot(ctx context.Context, origin string) (*model.ConcurrencySlot, error)
}

// AdmissionController ограничивает число одновременных генераций с одного сетевого источника.
type AdmissionController struct {
	repo               SlotRepository
	authenticatedLimit int
	logger             *zap.Logger
}

// NewAdmissionController создаёт контроллер допуска. authenticatedLimit задаёт лимит для
// авторизованных пользователей.
func NewAdmissionController(repo SlotRepository, authenticatedLimit int, logger *zap.Logger) *AdmissionController {
	return &AdmissionController{
		repo:               repo,
		authenticatedLimit: authenticatedLimit,
		logger:             logger,
	}
}

// ComputeLimit возвращает лимит для вызывающего: nil для администратора (без ограничения),
// настроенный лимит для авторизованного пользователя (премиум или нет) и 1 для анонима.
func (c *AdmissionController) ComputeLimit(callerID string, isAdmin, isPremium bool) *int {
	if isAdmin {
		return nil
	}
	limit := anonymousConcurrency
	if callerID != "" {
		limit = c.authenticatedLimit
	}
	return &limit
}

// TryAdmit пытается занять слот генерации для источника origin. Лимит пересчитывается
// и сохраняется при каждом вызове, поэтому он соответствует роли текущего вызывающего.
// Отказ в допуске не является ошибкой.
func (c *AdmissionController) TryAdmit(ctx context.Context, origin, callerID string, isAdmin, isPremium bool) (model.AdmissionResult, error) {
	if origin == "" {
		return model.AdmissionResult{}, ErrEmptyOrigin
	}

	limit := c.ComputeLimit(callerID, isAdmin, isPremium)

	slot, admitted, err := c.repo.AcquireSlot(ctx, origin, limit)
	if err != nil {
		return model.AdmissionResult{}, fmt.Errorf("acquire slot: %w", err)
	}

	metrics.ObserveAdmission(role(callerID, isAdmin), admitted)
	if !admitted {
		c.logger.Debug("generation not admitted",
			zap.String("origin", origin),
			zap.Int("current", slot.Current),
		)
	}

	return model.AdmissionResult{
		Admitted: admitted,
		Current:  slot.Current,
		Max:      slot.Max,
	}, nil
}

// Release освобождает слот источника. Повторный вызов не опускает счётчик ниже нуля.
func (c *AdmissionController) Release(ctx context.Context, origin string) (model.ConcurrencySlot, error) {
	if origin == "" {
		return model.ConcurrencySlot{}, ErrEmptyOrigin
	}

	slot, err := c.repo.ReleaseSlot(ctx, origin)
	if err != nil {
		return model.ConcurrencySlot{}, fmt.Errorf("release slot: %w", err)
	}

	metrics.IncRelease()
	return slot, nil
}

// Info возвращает состояние счётчика источника. Для источника без обращений
// возвращается пустой счётчик с лимитом анонимного пользователя.
func (c *AdmissionController) Info(ctx context.Context, origin string) (model.ConcurrencySlot, error) {
	if origin == "" {
		return model.ConcurrencySlot{}, ErrEmptyOrigin
	}

	slot, err := c.repo.GetSlot(ctx, origin)
	if err != nil {
		if errors.Is(err, repository.ErrSlotNotFound) {
			limit := anonymousConcurrency
			return model.ConcurrencySlot{OriginKey: origin, Max: &limit}, nil
		}
		return model.ConcurrencySlot{}, fmt.Errorf("get slot: %w", err)
	}
	return *slot, nil
}

func role(callerID string, isAdmin bool) string {
	switch {
	case isAdmin:
		return "admin"
	case callerID != "":
		return "user"
	default:
		return "anonymous"
	}
}
