// Package ratelimit ограничивает частоту HTTP-запросов с одного сетевого источника.
package ratelimit

import (
	"context"

	"go.uber.org/zap"
)

// Limiter решает, можно ли обработать очередной запрос с ключом key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Fallback использует primary, а при его ошибке переходит на secondary.
type Fallback struct {
	primary   Limiter
	secondary Limiter
	logger    *zap.Logger
}

// NewFallback создаёт ограничитель с запасным вариантом.
func NewFallback(primary, secondary Limiter, logger *zap.Logger) *Fallback {
	return &Fallback{
		primary:   primary,
		secondary: secondary,
		logger:    logger,
	}
}

// Allow реализует Limiter.
func (f *Fallback) Allow(ctx context.Context, key string) (bool, error) {
	ok, err := f.primary.Allow(ctx, key)
	if err == nil {
		return ok, nil
	}

	f.logger.Warn("primary rate limiter failed, using local limiter", zap.Error(err))
	return f.secondary.Allow(ctx, key)
}
