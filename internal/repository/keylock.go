package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Monthlyaway/linktrack/internal/model"
)

// keyLocks serializes writers per short code. Waiting honors the context.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// acquire blocks until the lock for key is held or ctx is done.
// The returned func releases the lock.
func (k *keyLocks) acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			k.unref(key, l)
		}, nil
	case <-ctx.Done():
		k.unref(key, l)
		return nil, ctxError(ctx.Err(), "waiting for lock on "+key)
	}
}

func (k *keyLocks) unref(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// ctxError maps context errors onto store errors: deadlines become ErrTimeout,
// cancellation is passed through.
func ctxError(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", model.ErrTimeout, op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// checkCtx returns a mapped error if ctx is already done
func checkCtx(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return ctxError(err, op)
	}
	return nil
}
