package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/Monthlyaway/linktrack/internal/metrics"
	"github.com/Monthlyaway/linktrack/internal/model"
	"github.com/Monthlyaway/linktrack/internal/repository"
	"github.com/Monthlyaway/linktrack/internal/utils"
	"go.uber.org/zap"
)

const (
	// DefaultValidityMinutes applies when a request names no validity
	DefaultValidityMinutes = 30
	// MaxBatchSize caps the number of URLs in one batch request
	MaxBatchSize = 5
	// MaxURLLength caps the length of a long URL
	MaxURLLength = 2048

	maxValidity = 100 * 365 * 24 * time.Hour
)

// CreateRequest describes one URL to shorten
type CreateRequest struct {
	LongURL string `json:"long_url"`
	// ValidityMinutes defaults to DefaultValidityMinutes when nil
	ValidityMinutes *float64 `json:"validity_minutes,omitempty"`
	CustomShortCode string   `json:"custom_short_code,omitempty"`
}

// ListRequest carries the raw list parameters of the list entry point
type ListRequest struct {
	Search    string
	TimeRange string
	SortKey   string
	Order     string
}

// URLService handles creation, lookup, listing and deletion of short URLs
type URLService struct {
	store     repository.Store
	allocator *Allocator
	ids       *utils.IDNode
	clock     utils.Clock
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewURLService creates a new URL service instance.
// Every store call is bounded by timeout; zero disables the bound.
func NewURLService(store repository.Store, allocator *Allocator, ids *utils.IDNode, clock utils.Clock, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *URLService {
	return &URLService{
		store:     store,
		allocator: allocator,
		ids:       ids,
		clock:     clock,
		timeout:   timeout,
		metrics:   m,
		logger:    logger.Named("urls"),
	}
}

// Create validates req and stores a new record under a custom or generated code
func (s *URLService) Create(ctx context.Context, req CreateRequest) (*model.URLRecord, error) {
	validity, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rec, err := s.allocator.Allocate(ctx, req.CustomShortCode, s.builder(req.LongURL, validity))
	if err != nil {
		s.logger.Warn("failed to create short url",
			zap.String("long_url", req.LongURL),
			zap.String("custom_short_code", req.CustomShortCode),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.URLsCreatedTotal.Inc()
	if req.CustomShortCode != "" {
		s.metrics.CustomCodesTotal.Inc()
	}
	s.logger.Info("short url created",
		zap.String("short_code", rec.ShortCode),
		zap.String("long_url", rec.LongURL),
		zap.Time("expires_at", rec.ExpiresAt),
	)
	return rec, nil
}

// CreateBatch creates up to MaxBatchSize records. Every item is validated
// before anything is stored; a failure part way removes the records already
// created so the batch is all or nothing.
func (s *URLService) CreateBatch(ctx context.Context, reqs []CreateRequest) ([]*model.URLRecord, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: batch is empty", model.ErrInvalidInput)
	}
	if len(reqs) > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch holds %d urls, at most %d allowed", model.ErrInvalidInput, len(reqs), MaxBatchSize)
	}

	seen := make(map[string]bool, len(reqs))
	for i, req := range reqs {
		if _, err := validateRequest(req); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if req.CustomShortCode == "" {
			continue
		}
		if err := checkCustomCode(req.CustomShortCode); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if seen[req.CustomShortCode] {
			return nil, fmt.Errorf("item %d: %w: %s repeated in batch", i, model.ErrConflict, req.CustomShortCode)
		}
		seen[req.CustomShortCode] = true
	}

	created := make([]*model.URLRecord, 0, len(reqs))
	for i, req := range reqs {
		rec, err := s.Create(ctx, req)
		if err != nil {
			s.rollback(created)
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		created = append(created, rec)
	}
	return created, nil
}

// Get returns the live record for shortCode. Expired records are reported as
// not found.
func (s *URLService) Get(ctx context.Context, shortCode string) (*model.URLRecord, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rec, err := s.store.Get(ctx, shortCode)
	if errors.Is(err, model.ErrExpired) {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, shortCode)
	}
	return rec, err
}

// List returns live records filtered and ordered by req
func (s *URLService) List(ctx context.Context, req ListRequest) ([]*model.URLRecord, error) {
	window, err := ParseTimeRange(req.TimeRange)
	if err != nil {
		return nil, err
	}
	key, err := repository.ParseSortKey(req.SortKey)
	if err != nil {
		return nil, err
	}
	descending, err := parseOrder(req.Order)
	if err != nil {
		return nil, err
	}

	opts := repository.ListOptions{
		Search:     strings.TrimSpace(req.Search),
		SortKey:    key,
		Descending: descending,
	}
	if window > 0 {
		opts.CreatedAfter = s.clock.Now().Add(-window)
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return s.store.List(ctx, opts)
}

// Delete removes shortCode. Deleting an absent code succeeds.
func (s *URLService) Delete(ctx context.Context, shortCode string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.Delete(ctx, shortCode); err != nil {
		return err
	}
	s.logger.Info("short url deleted", zap.String("short_code", shortCode))
	return nil
}

func (s *URLService) builder(longURL string, validity time.Duration) func(string) *model.URLRecord {
	return func(code string) *model.URLRecord {
		now := s.clock.Now()
		return &model.URLRecord{
			ID:        s.ids.Next(),
			ShortCode: code,
			LongURL:   longURL,
			CreatedAt: now,
			ExpiresAt: now.Add(validity),
		}
	}
}

func (s *URLService) rollback(created []*model.URLRecord) {
	// the caller's context may already be done
	ctx, cancel := withTimeout(context.Background(), s.timeout)
	defer cancel()

	for _, rec := range created {
		if err := s.store.Delete(ctx, rec.ShortCode); err != nil {
			s.logger.Error("failed to roll back batch item",
				zap.String("short_code", rec.ShortCode),
				zap.Error(err),
			)
		}
	}
}

// validateRequest checks the URL and validity of req and returns the validity
func validateRequest(req CreateRequest) (time.Duration, error) {
	if err := validateURL(req.LongURL); err != nil {
		return 0, err
	}

	minutes := float64(DefaultValidityMinutes)
	if req.ValidityMinutes != nil {
		minutes = *req.ValidityMinutes
	}
	if math.IsNaN(minutes) || minutes <= 0 {
		return 0, fmt.Errorf("%w: validity minutes must be positive", model.ErrInvalidInput)
	}
	if minutes > maxValidity.Minutes() {
		return 0, fmt.Errorf("%w: validity exceeds %s", model.ErrInvalidInput, maxValidity)
	}
	validity := time.Duration(minutes * float64(time.Minute))
	if validity <= 0 {
		return 0, fmt.Errorf("%w: validity too small", model.ErrInvalidInput)
	}
	return validity, nil
}

// validateURL validates the URL format
func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: URL cannot be empty", model.ErrInvalidInput)
	}
	if len(rawURL) > MaxURLLength {
		return fmt.Errorf("%w: URL longer than %d characters", model.ErrInvalidInput, MaxURLLength)
	}

	parsedURL, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL format", model.ErrInvalidInput)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%w: URL must use http or https scheme", model.ErrInvalidInput)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%w: URL must have a valid host", model.ErrInvalidInput)
	}
	return nil
}

// ParseTimeRange maps day, week, month and all onto a lookback window.
// Zero means unbounded.
func ParseTimeRange(s string) (time.Duration, error) {
	switch strings.ToLower(s) {
	case "", "all":
		return 0, nil
	case "day":
		return 24 * time.Hour, nil
	case "week":
		return 7 * 24 * time.Hour, nil
	case "month":
		return 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: unknown time range %q", model.ErrInvalidInput, s)
	}
}

// parseOrder defaults to descending
func parseOrder(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "", "desc":
		return true, nil
	case "asc":
		return false, nil
	default:
		return false, fmt.Errorf("%w: unknown sort order %q", model.ErrInvalidInput, s)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
