package service

import (
	"context"
	"fmt"

	"github.com/Monthlyaway/linktrack/internal/metrics"
	"github.com/Monthlyaway/linktrack/internal/model"
	"github.com/Monthlyaway/linktrack/internal/repository"
	"github.com/Monthlyaway/linktrack/internal/utils"
)

// ClickRecorder is the only writer of click state. It appends one event,
// bumps the counter and moves lastClickedAt in a single store update.
type ClickRecorder struct {
	store   repository.Store
	ids     *utils.IDNode
	clock   utils.Clock
	metrics *metrics.Metrics
}

// NewClickRecorder creates a ClickRecorder
func NewClickRecorder(store repository.Store, ids *utils.IDNode, clock utils.Clock, m *metrics.Metrics) *ClickRecorder {
	return &ClickRecorder{store: store, ids: ids, clock: clock, metrics: m}
}

// RecordClick appends a click to shortCode. It returns model.ErrNotFound for
// a code that does not exist and model.ErrExpired for one past its expiry.
func (r *ClickRecorder) RecordClick(ctx context.Context, shortCode string, info model.ClickInfo) (*model.URLRecord, error) {
	rec, err := r.store.Update(ctx, shortCode, func(rec *model.URLRecord) error {
		// the timestamp is taken under the code's lock so history stays chronological
		now := r.clock.Now()
		if rec.IsExpired(now) {
			return fmt.Errorf("%w: %s", model.ErrExpired, shortCode)
		}
		ev := model.NewClickEvent(r.ids.Next(), now, info)
		rec.ClickHistory = append(rec.ClickHistory, ev)
		rec.Clicks++
		rec.LastClickedAt = &ev.Timestamp
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.metrics.ClicksRecordedTotal.Inc()
	return rec, nil
}
