package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Monthlyaway/linktrack/internal/metrics"
	"github.com/Monthlyaway/linktrack/internal/model"
	"github.com/Monthlyaway/linktrack/internal/repository"
	"github.com/Monthlyaway/linktrack/internal/utils"
	"github.com/Monthlyaway/linktrack/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) DeleteExpired(context.Context) (int, error) {
	s.calls.Add(1)
	return 0, s.err
}

func TestReaper_SweepRemovesExpired(t *testing.T) {
	clock := utils.NewMockClock(baseTime)
	store := repository.NewMemoryStore(clock)
	ctx := context.Background()

	for i, validity := range []time.Duration{time.Minute, time.Minute, time.Hour} {
		require.NoError(t, store.Create(ctx, &model.URLRecord{
			ID:        int64(i + 1),
			ShortCode: string(rune('a'+i)) + "00000",
			LongURL:   "https://example.com",
			CreatedAt: baseTime,
			ExpiresAt: baseTime.Add(validity),
		}))
	}
	clock.Advance(time.Minute)

	core, logs := observer.New(zap.InfoLevel)
	m := metrics.New(prometheus.NewRegistry())
	r := worker.NewReaper(store, time.Minute, time.Second, m, zap.New(core))

	assert.Equal(t, 2, r.Sweep(ctx))
	assert.Equal(t, 0, r.Sweep(ctx))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ExpiredReapedTotal))
	assert.Equal(t, 1, logs.FilterMessage("expired urls removed").Len())

	codes, err := store.ShortCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c00000"}, codes)
}

func TestReaper_SweepFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := &countingSweeper{err: errors.New("db down")}
	r := worker.NewReaper(s, time.Minute, 0, metrics.New(prometheus.NewRegistry()), zap.New(core))

	assert.Equal(t, 0, r.Sweep(context.Background()))
	assert.Equal(t, 1, logs.FilterMessage("expiry sweep failed").Len())
}

func TestReaper_RunTicksUntilCancelled(t *testing.T) {
	s := &countingSweeper{}
	r := worker.NewReaper(s, 10*time.Millisecond, 0, metrics.New(prometheus.NewRegistry()), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return s.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after cancellation")
	}
}
