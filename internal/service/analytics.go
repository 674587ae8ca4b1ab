package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Monthlyaway/linktrack/internal/model"
	"github.com/Monthlyaway/linktrack/internal/repository"
	"github.com/Monthlyaway/linktrack/internal/utils"
)

const dayLayout = "2006-01-02"

// Analyzer computes click statistics from a record snapshot
type Analyzer struct {
	store   repository.Store
	clock   utils.Clock
	timeout time.Duration
}

// NewAnalyzer creates an Analyzer
func NewAnalyzer(store repository.Store, clock utils.Clock, timeout time.Duration) *Analyzer {
	return &Analyzer{store: store, clock: clock, timeout: timeout}
}

// Analyze returns statistics for a live record. Expired records are not found.
func (a *Analyzer) Analyze(ctx context.Context, shortCode string) (*model.Stats, error) {
	ctx, cancel := withTimeout(ctx, a.timeout)
	defer cancel()

	rec, err := a.store.Get(ctx, shortCode)
	if errors.Is(err, model.ErrExpired) {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, shortCode)
	}
	if err != nil {
		return nil, err
	}
	return ComputeStats(rec, a.clock.Now()), nil
}

// ComputeStats aggregates rec's history as of now. Days are UTC calendar days.
func ComputeStats(rec *model.URLRecord, now time.Time) *model.Stats {
	stats := &model.Stats{
		ShortCode:      rec.ShortCode,
		LongURL:        rec.LongURL,
		TotalClicks:    int64(len(rec.ClickHistory)),
		ClickSources:   make(map[string]int),
		ClickLocations: make(map[string]int),
		ClickDevices:   make(map[string]int),
		DailyClicks:    make(map[string]int),
		LastClickedAt:  rec.LastClickedAt,
		CreatedAt:      rec.CreatedAt,
		ExpiresAt:      rec.ExpiresAt,
	}

	if elapsed := now.Sub(rec.CreatedAt); elapsed > 0 {
		stats.DaysActive = int64(elapsed / (24 * time.Hour))
	}
	if stats.DaysActive > 0 {
		stats.AverageClicksPerDay = float64(stats.TotalClicks) / float64(stats.DaysActive)
	} else {
		stats.AverageClicksPerDay = float64(stats.TotalClicks)
	}

	for _, ev := range rec.ClickHistory {
		stats.ClickSources[string(ev.Source)]++
		stats.ClickLocations[ev.Location]++
		stats.ClickDevices[ev.Device]++
		stats.DailyClicks[ev.Timestamp.UTC().Format(dayLayout)]++
	}
	return stats
}
