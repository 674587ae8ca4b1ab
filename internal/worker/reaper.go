package worker

import (
	"context"
	"errors"
	"time"

	"github.com/Monthlyaway/linktrack/internal/metrics"
	"go.uber.org/zap"
)

// DefaultInterval is the sweep period when none is configured
const DefaultInterval = time.Minute

// Sweeper removes expired records and reports how many it removed
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int, error)
}

// Reaper periodically purges expired records. Reads never depend on it having
// run; it only bounds storage growth.
type Reaper struct {
	store    Sweeper
	interval time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewReaper creates a Reaper sweeping store every interval.
// Each sweep is bounded by timeout; zero disables the bound.
func NewReaper(store Sweeper, interval, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reaper{
		store:    store,
		interval: interval,
		timeout:  timeout,
		metrics:  m,
		logger:   logger.Named("reaper"),
	}
}

// Run sweeps on every tick until ctx is done
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("expiry reaper started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("expiry reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the number of records removed.
// Failures are logged; the next tick tries again.
func (r *Reaper) Sweep(ctx context.Context) int {
	sweepCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		sweepCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	removed, err := r.store.DeleteExpired(sweepCtx)
	if removed > 0 {
		r.metrics.ExpiredReapedTotal.Add(float64(removed))
	}
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return removed
		}
		r.logger.Error("expiry sweep failed", zap.Int("removed", removed), zap.Error(err))
		return removed
	}

	if removed > 0 {
		r.logger.Info("expired urls removed",
			zap.Int("removed", removed),
			zap.Duration("took", time.Since(start)),
		)
	}
	return removed
}
