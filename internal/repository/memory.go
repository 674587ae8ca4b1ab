package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/Monthlyaway/linktrack/internal/model"
	"github.com/Monthlyaway/linktrack/internal/utils"
)

// MemoryStore keeps records in process memory.
//
// Stored records are never mutated in place: an update builds a new record
// and swaps it in, so readers holding the read lock always see a complete
// version. Writers of one code are serialized by a per-key lock.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*model.URLRecord
	locks   *keyLocks
	clock   utils.Clock
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(clock utils.Clock) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*model.URLRecord),
		locks:   newKeyLocks(),
		clock:   clock,
	}
}

func (s *MemoryStore) Create(ctx context.Context, rec *model.URLRecord) error {
	if err := validateNew(rec); err != nil {
		return err
	}
	release, err := s.locks.acquire(ctx, rec.ShortCode)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.ShortCode]; ok && !existing.IsExpired(s.clock.Now()) {
		return fmt.Errorf("%w: %s", model.ErrConflict, rec.ShortCode)
	}
	s.records[rec.ShortCode] = rec.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, shortCode string) (*model.URLRecord, error) {
	if err := checkCtx(ctx, "get "+shortCode); err != nil {
		return nil, err
	}

	s.mu.RLock()
	rec, ok := s.records[shortCode]
	s.mu.RUnlock()

	return s.live(rec, ok, shortCode)
}

func (s *MemoryStore) Update(ctx context.Context, shortCode string, fn Mutator) (*model.URLRecord, error) {
	release, err := s.locks.acquire(ctx, shortCode)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.RLock()
	current, ok := s.records[shortCode]
	s.mu.RUnlock()

	before, err := s.live(current, ok, shortCode)
	if err != nil {
		return nil, err
	}

	after := before.Clone()
	if err := fn(after); err != nil {
		return nil, err
	}
	if err := checkMutation(before, after); err != nil {
		return nil, err
	}
	if err := checkCtx(ctx, "update "+shortCode); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.records[shortCode] = after.Clone()
	s.mu.Unlock()

	return after, nil
}

func (s *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*model.URLRecord, error) {
	if err := checkCtx(ctx, "list"); err != nil {
		return nil, err
	}
	now := s.clock.Now()

	s.mu.RLock()
	out := make([]*model.URLRecord, 0, len(s.records))
	for _, rec := range s.records {
		if rec.IsExpired(now) || !opts.matches(rec) {
			continue
		}
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()

	sortRecords(out, opts)
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, shortCode string) error {
	release, err := s.locks.acquire(ctx, shortCode)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	delete(s.records, shortCode)
	s.mu.Unlock()
	return nil
}

// DeleteExpired removes every expired record, taking each code's write lock
func (s *MemoryStore) DeleteExpired(ctx context.Context) (int, error) {
	now := s.clock.Now()

	s.mu.RLock()
	var candidates []string
	for code, rec := range s.records {
		if rec.IsExpired(now) {
			candidates = append(candidates, code)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for _, code := range candidates {
		ok, err := s.deleteIfExpired(ctx, code)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) deleteIfExpired(ctx context.Context, code string) (bool, error) {
	release, err := s.locks.acquire(ctx, code)
	if err != nil {
		return false, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	// the code may have been re-created since the scan
	rec, ok := s.records[code]
	if !ok || !rec.IsExpired(s.clock.Now()) {
		return false, nil
	}
	delete(s.records, code)
	return true, nil
}

// ShortCodes returns every stored code, expired ones included
func (s *MemoryStore) ShortCodes(ctx context.Context) ([]string, error) {
	if err := checkCtx(ctx, "list short codes"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	codes := make([]string, 0, len(s.records))
	for code := range s.records {
		codes = append(codes, code)
	}
	return codes, nil
}

// live returns a copy of rec if it exists and has not expired
func (s *MemoryStore) live(rec *model.URLRecord, ok bool, shortCode string) (*model.URLRecord, error) {
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, shortCode)
	}
	if rec.IsExpired(s.clock.Now()) {
		return nil, fmt.Errorf("%w: %s", model.ErrExpired, shortCode)
	}
	if err := rec.Verify(); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}
