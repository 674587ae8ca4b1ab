package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Monthlyaway/linktrack/internal/metrics"
	"github.com/Monthlyaway/linktrack/internal/model"
	"github.com/Monthlyaway/linktrack/internal/repository"
	"github.com/Monthlyaway/linktrack/internal/utils"
)

// DefaultMaxAttempts bounds how many generated codes are tried per allocation
const DefaultMaxAttempts = 10

// reservedCodes are paths served by static routes that would shadow a
// redirect under the same code
var reservedCodes = map[string]bool{
	"health":  true,
	"metrics": true,
}

// checkCustomCode reports why code cannot be used as a custom short code
func checkCustomCode(code string) error {
	if !utils.ValidCustomCode(code) {
		return fmt.Errorf("%w: custom short code must match [A-Za-z0-9_-]{1,%d}",
			model.ErrInvalidInput, utils.MaxCustomCodeLength)
	}
	if reservedCodes[code] {
		return fmt.Errorf("%w: %s is reserved", model.ErrConflict, code)
	}
	return nil
}

// Allocator picks a short code and inserts the record under it in one step.
// The store's atomic create is the uniqueness check, so two concurrent
// allocations can never both win the same code.
type Allocator struct {
	store       repository.Store
	source      utils.CodeSource
	maxAttempts int
	metrics     *metrics.Metrics
}

// NewAllocator creates an Allocator drawing candidates from source
func NewAllocator(store repository.Store, source utils.CodeSource, maxAttempts int, m *metrics.Metrics) *Allocator {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Allocator{
		store:       store,
		source:      source,
		maxAttempts: maxAttempts,
		metrics:     m,
	}
}

// Allocate stores the record built by build under customCode, or under a
// generated code when customCode is empty.
func (a *Allocator) Allocate(ctx context.Context, customCode string, build func(shortCode string) *model.URLRecord) (*model.URLRecord, error) {
	if customCode != "" {
		if err := checkCustomCode(customCode); err != nil {
			return nil, err
		}
		rec := build(customCode)
		if err := a.store.Create(ctx, rec); err != nil {
			return nil, err
		}
		return rec, nil
	}

	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		code, err := a.source.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to generate short code: %w", err)
		}
		rec := build(code)
		err = a.store.Create(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, model.ErrConflict) {
			return nil, err
		}
		a.metrics.AllocationRetryTotal.Inc()
	}
	return nil, fmt.Errorf("%w: no free code after %d attempts", model.ErrResourceExhausted, a.maxAttempts)
}
