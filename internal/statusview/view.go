// Package statusview is the read-only status panel: it pulls the aggregate
// status and the recent-activity feed from the backend on demand.
package statusview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/extendspider-console/internal/clock/system"
	"github.com/JakeFAU/extendspider-console/internal/id/uuid"
	"github.com/JakeFAU/extendspider-console/internal/notify"
	"github.com/JakeFAU/extendspider-console/internal/spider"
)

// FetchFailedMessage is the error shown when a failed read carries no message.
const FetchFailedMessage = "fetch failed"

// State is what the panel displays.
type State struct {
	Loading     bool              `json:"loading"`
	Status      spider.Status     `json:"status"`
	Activity    []spider.Activity `json:"activity"`
	LastUpdated time.Time         `json:"last_updated"`
	Error       string            `json:"error,omitempty"`
}

// TagCount is the length of the tag list the backend reports.
func (s State) TagCount() int {
	return len(s.Status.Tags)
}

// Option customizes a View.
type Option func(*View)

// WithEmitter sets where refreshed notifications go.
func WithEmitter(emitter notify.Emitter) Option {
	return func(v *View) { v.emitter = emitter }
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(v *View) { v.logger = logger }
}

// WithClock sets the clock used for LastUpdated.
func WithClock(clock spider.Clock) Option {
	return func(v *View) { v.clock = clock }
}

// WithIDGenerator sets the generator for notification IDs.
func WithIDGenerator(ids spider.IDGenerator) Option {
	return func(v *View) { v.ids = ids }
}

// WithEndpoints sets the plugin segment of remote paths.
func WithEndpoints(endpoints spider.Endpoints) Option {
	return func(v *View) { v.endpoints = endpoints }
}

// View holds the panel state. It never mutates configuration.
type View struct {
	client    spider.Client
	emitter   notify.Emitter
	logger    *zap.Logger
	clock     spider.Clock
	ids       spider.IDGenerator
	endpoints spider.Endpoints

	mu    sync.Mutex
	state State

	observerMu sync.RWMutex
	observers  []func(State)
}

// New returns a View with empty data.
func New(client spider.Client, opts ...Option) (*View, error) {
	if client == nil {
		return nil, errors.New("statusview: api client is required")
	}
	v := &View{
		client: client,
		logger: zap.NewNop(),
		clock:  system.New(),
		ids:    uuid.New(),
		state: State{
			Status:   spider.Status{Tags: []string{}, Status: "running"},
			Activity: []spider.Activity{},
		},
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = zap.NewNop()
	}
	v.logger = v.logger.Named("statusview")
	return v, nil
}

// Observe registers fn to receive the state after every change.
func (v *View) Observe(fn func(State)) {
	if fn == nil {
		return
	}
	v.observerMu.Lock()
	defer v.observerMu.Unlock()
	v.observers = append(v.observers, fn)
}

// State returns a copy of the current panel state.
func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshot()
}

func (v *View) snapshot() State {
	cp := v.state
	cp.Status.Tags = append([]string{}, v.state.Status.Tags...)
	cp.Activity = append([]spider.Activity{}, v.state.Activity...)
	return cp
}

// Refresh fetches status and activity concurrently. Whichever read succeeds
// is applied; a failed read leaves its previous data in place and sets the
// error message. Loading is always cleared and a refreshed notification is
// always emitted. The returned error joins both read failures.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	v.state.Loading = true
	v.state.Error = ""
	v.mu.Unlock()
	v.notify()

	defer func() {
		v.mu.Lock()
		v.state.Loading = false
		note := v.state.Error
		v.mu.Unlock()
		v.notify()
		if emitErr := v.emit(notify.KindRefreshed, note); emitErr != nil {
			v.logger.Warn("emit refreshed", zap.Error(emitErr))
		}
	}()

	var (
		wg                    sync.WaitGroup
		statusRaw, historyRaw json.RawMessage
		statusErr, historyErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		statusRaw, statusErr = v.client.Get(ctx, v.endpoints.Path(spider.OpStatus))
	}()
	go func() {
		defer wg.Done()
		historyRaw, historyErr = v.client.Get(ctx, v.endpoints.Path(spider.OpHistory))
	}()
	wg.Wait()

	if statusErr != nil {
		statusErr = asTransport(spider.OpStatus, statusErr)
	}
	if historyErr != nil {
		historyErr = asTransport(spider.OpHistory, historyErr)
	}

	v.mu.Lock()
	if statusErr == nil {
		if st, ok := spider.DecodeStatus(statusRaw); ok {
			v.state.Status = st
			v.state.LastUpdated = v.clock.Now()
		}
	}
	if historyErr == nil {
		v.state.Activity = spider.DecodeActivity(historyRaw)
	}
	switch {
	case statusErr != nil:
		v.state.Error = spider.Message(statusErr, FetchFailedMessage)
	case historyErr != nil:
		v.state.Error = spider.Message(historyErr, FetchFailedMessage)
	}
	v.mu.Unlock()

	err := errors.Join(statusErr, historyErr)
	if err != nil {
		v.logger.Warn("refresh failed", zap.Error(err))
	}
	return err
}

// SwitchView emits the switch notification asking the host to show the
// configuration panel.
func (v *View) SwitchView() error {
	return v.emit(notify.KindSwitch, "")
}

// Close emits the close notification.
func (v *View) Close() error {
	return v.emit(notify.KindClose, "")
}

func (v *View) emit(kind notify.Kind, note string) error {
	if v.emitter == nil {
		return nil
	}
	id, err := v.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate event id: %w", err)
	}
	evt := notify.Event{ID: id, TS: v.clock.Now(), Kind: kind, Note: note}
	if err := v.emitter.Emit(evt); err != nil {
		return fmt.Errorf("emit %s: %w", evt.Kind, err)
	}
	return nil
}

func (v *View) notify() {
	state := v.State()
	v.observerMu.RLock()
	observers := append([]func(State){}, v.observers...)
	v.observerMu.RUnlock()
	for _, fn := range observers {
		fn(state)
	}
}

func asTransport(op string, err error) error {
	var transport *spider.TransportError
	if errors.As(err, &transport) {
		return err
	}
	return &spider.TransportError{Op: op, Err: err}
}
