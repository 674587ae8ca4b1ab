package filter

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// CodeFilter remembers every short code ever allocated.
// Codes are never removed, so a negative answer is definite and a positive
// one may be stale or a false positive.
type CodeFilter struct {
	mu       sync.RWMutex
	bits     *bloom.BloomFilter
	capacity uint
}

// NewCodeFilter sizes a filter for capacity codes at the given false positive rate
func NewCodeFilter(capacity uint, fpRate float64) *CodeFilter {
	return &CodeFilter{
		bits:     bloom.NewWithEstimates(capacity, fpRate),
		capacity: capacity,
	}
}

// Remember records codes
func (f *CodeFilter) Remember(codes ...string) {
	f.mu.Lock()
	for _, code := range codes {
		f.bits.AddString(code)
	}
	f.mu.Unlock()
}

// MayExist reports false only if code was never remembered
func (f *CodeFilter) MayExist(code string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bits.TestString(code)
}

// Estimate approximates how many distinct codes were remembered
func (f *CodeFilter) Estimate() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bits.ApproximatedSize()
}

// Saturated reports whether more codes were remembered than the filter was
// sized for. Past that point the false positive rate climbs above the target.
func (f *CodeFilter) Saturated() bool {
	return uint(f.Estimate()) > f.capacity
}
