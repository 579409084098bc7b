package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/irgordon/whisper/api/internal/core/domain"
)

// SweepObserver is told how many records each sweep removed.
type SweepObserver interface {
	ObserveSweep(removed int64, err error)
}

// Sweeper periodically deletes expired secrets. Stores already hide expired
// records, so this only reclaims space.
type Sweeper struct {
	store    domain.SecretStore
	logger   *slog.Logger
	interval time.Duration
	observer SweepObserver
}

func NewSweeper(store domain.SecretStore, logger *slog.Logger, interval time.Duration, observer SweepObserver) *Sweeper {
	return &Sweeper{
		store:    store,
		logger:   logger,
		interval: interval,
		observer: observer,
	}
}

// Start blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single bounded sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	// 🛡️ SLA: one slow backend must not stall the next tick forever
	sweepCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	removed, err := s.store.SweepExpired(sweepCtx)
	if s.observer != nil {
		s.observer.ObserveSweep(removed, err)
	}
	if err != nil {
		s.logger.Error("Expiry sweep failed", slog.Any("error", err))
		return removed
	}
	if removed > 0 {
		s.logger.Info("Expired secrets swept", slog.Int64("removed", removed))
	}
	return removed
}
