package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Monthlyaway/linktrack/internal/metrics"
)

const (
	defaultBuffer  = 1024
	defaultTimeout = 3 * time.Second
)

// Event is one structured log record shipped to the remote endpoint
type Event struct {
	Stack     string    `json:"stack"`
	Level     string    `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Config configures a Sink
type Config struct {
	URL string
	// Stack is stamped on every event, e.g. "backend"
	Stack string
	// Buffer is the number of events queued before new ones are dropped
	Buffer int
	// Timeout bounds each POST
	Timeout time.Duration
}

// Sink posts events to a remote endpoint from one background goroutine.
// Send never blocks and delivery failures never reach the caller.
type Sink struct {
	url     string
	stack   string
	client  *http.Client
	queue   chan Event
	done    chan struct{}
	metrics *metrics.Metrics

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// New starts a Sink
func New(cfg Config, m *metrics.Metrics) *Sink {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	s := &Sink{
		url:     cfg.URL,
		stack:   cfg.Stack,
		client:  &http.Client{Timeout: cfg.Timeout},
		queue:   make(chan Event, cfg.Buffer),
		done:    make(chan struct{}),
		metrics: m,
	}
	go s.loop()
	return s
}

// Send queues ev for delivery, dropping it if the queue is full or the sink is closed
func (s *Sink) Send(ev Event) {
	if ev.Stack == "" {
		ev.Stack = s.stack
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.Timestamp = ev.Timestamp.UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.metrics.LogSinkDropped.Inc()
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.metrics.LogSinkDropped.Inc()
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end
func (s *Sink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("log sink not drained: %w", ctx.Err())
	}
}

func (s *Sink) loop() {
	defer close(s.done)
	for ev := range s.queue {
		if err := s.post(ev); err != nil {
			s.metrics.LogSinkErrors.Inc()
		}
	}
}

func (s *Sink) post(ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("log sink answered %d", resp.StatusCode)
	}
	return nil
}
