package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrHubClosed is returned by Emit once Close has begun.
	ErrHubClosed = errors.New("notification hub closed")
	// ErrBackpressure is returned by Emit when the buffer is full.
	ErrBackpressure = errors.New("notification buffer full")
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 256).
//   - MaxBatchEvents: flush once this many events queue (default 64).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 200ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 256
	defaultMaxBatchEvents = 64
	defaultMaxBatchWait   = 200 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub fans notification batches out to registered sinks. Emit never blocks;
// delivery happens on a background goroutine. Sink failures are logged as
// they happen and reported together by Close.
type Hub struct {
	cfg     Config
	sinks   []Sink
	events  chan Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	dropLog rate.Sometimes
	dropped atomic.Int64

	// mu orders Emit against Close so no send races the shutdown drain.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeCtx  context.Context

	failMu   sync.Mutex
	failures []error
}

// NewHub initializes a Hub and starts the background batching goroutine.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink{}, sinks...),
		events:  make(chan Event, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logger,
		dropLog: rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit enqueues an Event for batching. A full buffer drops the event and
// returns ErrBackpressure.
func (h *Hub) Emit(evt Event) error {
	if h == nil {
		return ErrHubClosed
	}
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("invalid %s event: %w", evt.Kind, err)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHubClosed
	}
	select {
	case h.events <- evt:
		return nil
	default:
		h.dropped.Add(1)
		h.dropLog.Do(func() {
			h.logger.Warn("notifications dropped due to backpressure", zap.Int64("dropped", h.dropped.Swap(0)))
		})
		return ErrBackpressure
	}
}

// Close delivers every queued event, closes the sinks and waits for the
// background goroutine. It returns the joined errors of every failed sink
// call over the hub's lifetime, so a lost save is visible to the caller.
// Repeated calls wait and report the same errors.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.closeCtx = ctx
		h.mu.Unlock()
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
	case <-ctx.Done():
		return fmt.Errorf("notification hub close wait: %w", ctx.Err())
	}
	h.failMu.Lock()
	defer h.failMu.Unlock()
	return errors.Join(h.failures...)
}

func (h *Hub) run() {
	defer close(h.doneCh)
	var (
		batch    []Event
		deadline <-chan time.Time
	)
	for {
		select {
		case evt := <-h.events:
			if len(batch) == 0 {
				deadline = time.After(h.cfg.MaxBatchWait)
			}
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				h.flush(batch)
				batch, deadline = nil, nil
			}
		case <-deadline:
			h.flush(batch)
			batch, deadline = nil, nil
		case <-h.stopCh:
			h.drain(batch)
			return
		}
	}
}

// drain delivers what is left in the channel once Emit is refused, then
// closes the sinks.
func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				h.flush(batch)
				batch = nil
			}
		default:
			h.flush(batch)
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		err := sink.Consume(ctx, append([]Event{}, batch...))
		cancel()
		if err != nil {
			h.logger.Warn("notification sink consume failed", zap.Error(err), zap.Int("events", len(batch)))
			h.fail(fmt.Errorf("deliver %d events: %w", len(batch), err))
		}
	}
}

func (h *Hub) closeSinks() {
	h.mu.RLock()
	ctx := h.closeCtx
	h.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("notification sink close failed", zap.Error(err))
			h.fail(fmt.Errorf("close sink: %w", err))
		}
	}
}

func (h *Hub) fail(err error) {
	h.failMu.Lock()
	h.failures = append(h.failures, err)
	h.failMu.Unlock()
}
