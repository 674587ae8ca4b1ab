package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Monthlyaway/linktrack/internal/events"
	"github.com/Monthlyaway/linktrack/internal/metrics"
	"github.com/Monthlyaway/linktrack/internal/model"
	"github.com/Monthlyaway/linktrack/internal/repository"
	"github.com/Monthlyaway/linktrack/internal/utils"
	"go.uber.org/zap"
)

// Resolver turns a short code into its destination and records the click
type Resolver struct {
	store     repository.Store
	recorder  *ClickRecorder
	publisher events.Publisher
	clock     utils.Clock
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewResolver creates a Resolver
func NewResolver(store repository.Store, recorder *ClickRecorder, publisher events.Publisher, clock utils.Clock, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:     store,
		recorder:  recorder,
		publisher: publisher,
		clock:     clock,
		timeout:   timeout,
		metrics:   m,
		logger:    logger.Named("resolver"),
	}
}

// Resolve returns the long URL of a live short code and records the click.
//
// model.ErrNotFound and model.ErrExpired deny the redirect. A click that
// cannot be recorded for a transient reason is logged and the redirect is
// still served; a corrupted record fails the resolution.
func (r *Resolver) Resolve(ctx context.Context, shortCode string, info model.ClickInfo) (string, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	rec, err := r.store.Get(ctx, shortCode)
	if err != nil {
		return "", r.deny(shortCode, err)
	}
	if rec.IsExpired(r.clock.Now()) {
		return "", r.deny(shortCode, fmt.Errorf("%w: %s", model.ErrExpired, shortCode))
	}

	updated, err := r.recorder.RecordClick(ctx, shortCode, info)
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrExpired), errors.Is(err, model.ErrCorruption):
		return "", r.deny(shortCode, err)
	case err != nil:
		r.metrics.ClickFailuresTotal.Inc()
		r.logger.Warn("failed to record click, redirecting anyway",
			zap.String("short_code", shortCode),
			zap.Error(err),
		)
	default:
		r.publish(ctx, shortCode, updated.ClickHistory[len(updated.ClickHistory)-1])
	}

	r.metrics.RedirectsTotal.WithLabelValues("ok").Inc()
	r.logger.Info("short url resolved",
		zap.String("short_code", shortCode),
		zap.String("source", string(model.ParseSource(info.Source))),
	)
	return rec.LongURL, nil
}

func (r *Resolver) deny(shortCode string, err error) error {
	result := "error"
	switch {
	case errors.Is(err, model.ErrNotFound):
		result = "not_found"
	case errors.Is(err, model.ErrExpired):
		result = "expired"
	}
	r.metrics.RedirectsTotal.WithLabelValues(result).Inc()

	if result == "error" {
		r.logger.Error("failed to resolve short url", zap.String("short_code", shortCode), zap.Error(err))
	} else {
		r.logger.Debug("redirect denied", zap.String("short_code", shortCode), zap.String("reason", result))
	}
	return err
}

func (r *Resolver) publish(ctx context.Context, shortCode string, ev model.ClickEvent) {
	if err := r.publisher.Publish(ctx, events.NewClickMessage(shortCode, ev)); err != nil {
		r.metrics.EventsTotal.WithLabelValues("failed").Inc()
		r.logger.Warn("failed to publish click event", zap.String("short_code", shortCode), zap.Error(err))
		return
	}
	r.metrics.EventsTotal.WithLabelValues("published").Inc()
}
