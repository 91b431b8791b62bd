package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/extendspider-console/internal/spider"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	require.NoError(t, hub.Emit(sampleEvent(KindSwitch)))
	require.NoError(t, hub.Emit(sampleEvent(KindClose)))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	require.NoError(t, hub.Emit(sampleEvent(KindRefreshed)))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitReportsBackpressure asserts Emit never blocks and reports a full buffer.
func TestHubEmitReportsBackpressure(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	err := hub.Emit(sampleEvent(KindSwitch))
	require.ErrorIs(t, err, ErrBackpressure)
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

// TestHubRejectsInvalidEvents keeps malformed events out of the sinks.
func TestHubRejectsInvalidEvents(t *testing.T) {
	t.Parallel()

	hub := NewHub(Config{})
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	require.Error(t, hub.Emit(Event{Kind: KindSwitch}))
	require.Error(t, hub.Emit(Event{TS: time.Now(), Kind: KindSave}))
	require.Error(t, hub.Emit(Event{TS: time.Now(), Kind: "bogus"}))
}

// TestHubFlushOnClose ensures Close drains buffered events and rejects later ones.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	cfg := spider.DefaultConfig(spider.DefaultRegistry())
	require.NoError(t, hub.Emit(Event{ID: "save-1", TS: time.Now(), Kind: KindSave, Config: &cfg}))

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Equal(t, "save-1", sink.Batches()[0][0].ID)
	require.True(t, sink.Closed())
	require.ErrorIs(t, hub.Emit(sampleEvent(KindClose)), ErrHubClosed)
}

// TestHubCloseReportsSinkFailures makes a failed delivery visible to the caller.
func TestHubCloseReportsSinkFailures(t *testing.T) {
	t.Parallel()

	denied := errors.New("permission denied")
	failing := SinkFunc(func(context.Context, []Event) error { return denied })
	healthy := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: time.Minute}, failing, healthy)

	cfg := spider.DefaultConfig(spider.DefaultRegistry())
	require.NoError(t, hub.Emit(Event{ID: "save-1", TS: time.Now(), Kind: KindSave, Config: &cfg}))

	err := hub.Close(context.Background())
	require.ErrorIs(t, err, denied)
	require.ErrorIs(t, hub.Close(context.Background()), denied)
	require.Len(t, healthy.Batches(), 1)
	require.True(t, healthy.Closed())
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func sampleEvent(kind Kind) Event {
	return Event{ID: "evt", TS: time.Now(), Kind: kind}
}
