package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// UsageSource отдаёт данные для периодического снимка метрик.
type UsageSource interface {
	SlotUsage(ctx context.Context) (origins int64, occupied int64, err error)
	PoolStats() (total, idle, inUse int32)
}

// Snapshotter по расписанию cron обновляет метрики занятых слотов и пула соединений.
type Snapshotter struct {
	cron   *cron.Cron
	src    UsageSource
	logger *zap.Logger
}

// NewSnapshotter создаёт планировщик снимков с расписанием spec (например, "@every 30s").
func NewSnapshotter(spec string, src UsageSource, logger *zap.Logger) (*Snapshotter, error) {
	s := &Snapshotter{
		cron:   cron.New(),
		src:    src,
		logger: logger,
	}

	if _, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Snapshot(ctx)
	}); err != nil {
		return nil, fmt.Errorf("schedule metrics snapshot: %w", err)
	}

	return s, nil
}

// Run запускает планировщик и блокируется до отмены ctx.
func (s *Snapshotter) Run(ctx context.Context) {
	s.Snapshot(ctx)
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
}

// Snapshot обновляет метрики немедленно.
func (s *Snapshotter) Snapshot(ctx context.Context) {
	SetDBPoolStats(s.src.PoolStats())

	origins, occupied, err := s.src.SlotUsage(ctx)
	if err != nil {
		s.logger.Warn("slot usage snapshot failed", zap.Error(err))
		return
	}
	SetSlotUsage(origins, occupied)
}
