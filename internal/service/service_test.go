package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Monthlyaway/linktrack/internal/events"
	"github.com/Monthlyaway/linktrack/internal/metrics"
	"github.com/Monthlyaway/linktrack/internal/repository"
	"github.com/Monthlyaway/linktrack/internal/service"
	"github.com/Monthlyaway/linktrack/internal/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

// recordingPublisher keeps every published message
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []events.ClickMessage
}

func (p *recordingPublisher) Publish(_ context.Context, msg events.ClickMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) messages() []events.ClickMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.ClickMessage(nil), p.msgs...)
}

type fixture struct {
	store     repository.Store
	clock     *utils.MockClock
	metrics   *metrics.Metrics
	logs      *observer.ObservedLogs
	urls      *service.URLService
	recorder  *service.ClickRecorder
	analyzer  *service.Analyzer
	resolver  *service.Resolver
	publisher *recordingPublisher
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	source utils.CodeSource
	wrap   func(repository.Store) repository.Store
}

func withSource(src utils.CodeSource) fixtureOption {
	return func(c *fixtureConfig) { c.source = src }
}

func withStoreWrapper(wrap func(repository.Store) repository.Store) fixtureOption {
	return func(c *fixtureConfig) { c.wrap = wrap }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := fixtureConfig{source: utils.NewRandomSource(utils.MinCodeLength)}
	for _, opt := range opts {
		opt(&cfg)
	}

	clock := utils.NewMockClock(baseTime)
	var store repository.Store = repository.NewMemoryStore(clock)
	if cfg.wrap != nil {
		store = cfg.wrap(store)
	}

	ids, err := utils.NewIDNode(1, 1)
	require.NoError(t, err)

	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	m := metrics.New(prometheus.NewRegistry())
	pub := &recordingPublisher{}

	allocator := service.NewAllocator(store, cfg.source, 10, m)
	recorder := service.NewClickRecorder(store, ids, clock, m)

	return &fixture{
		store:     store,
		clock:     clock,
		metrics:   m,
		logs:      logs,
		urls:      service.NewURLService(store, allocator, ids, clock, time.Second, m, logger),
		recorder:  recorder,
		analyzer:  service.NewAnalyzer(store, clock, time.Second),
		resolver:  service.NewResolver(store, recorder, pub, clock, time.Second, m, logger),
		publisher: pub,
	}
}

func minutes(v float64) *float64 { return &v }
