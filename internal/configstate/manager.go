// Package configstate owns the editable plugin configuration: it merges the
// persisted document over the built-in spider registry, keeps per-spider JSON
// drafts with validation, and synchronizes toggle, reset and tag edits with
// the backend.
package configstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/extendspider-console/internal/clock/system"
	"github.com/JakeFAU/extendspider-console/internal/id/uuid"
	"github.com/JakeFAU/extendspider-console/internal/notify"
	"github.com/JakeFAU/extendspider-console/internal/spider"
)

// InvalidJSONMessage is shown next to a spider's JSON draft when a commit is
// rejected.
const InvalidJSONMessage = "invalid JSON or missing required fields"

// FormInvalidMessage is the save error when the host form is invalid.
const FormInvalidMessage = "please fix form errors"

// ErrBusy is returned when the same action on the same spider is already in
// flight.
var ErrBusy = errors.New("operation already in progress")

// OpSave names the local save operation in OpError.Op.
const OpSave = "save"

var fallbackMessages = map[string]string{
	spider.OpToggle:   "toggle failed",
	spider.OpReset:    "reset failed",
	spider.OpResetAll: "reset failed",
	spider.OpAddTag:   "add tag failed",
	spider.OpRemove:   "remove tag failed",
	OpSave:            "save failed",
}

// Option customizes a Manager.
type Option func(*Manager)

// WithRegistry replaces the built-in registry.
func WithRegistry(reg *spider.Registry) Option {
	return func(m *Manager) { m.registry = reg }
}

// WithEmitter sets where save/switch/close notifications go.
func WithEmitter(emitter notify.Emitter) Option {
	return func(m *Manager) { m.emitter = emitter }
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock sets the clock used to stamp notifications.
func WithClock(clock spider.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithIDGenerator sets the generator for correlation IDs.
func WithIDGenerator(ids spider.IDGenerator) Option {
	return func(m *Manager) { m.ids = ids }
}

// WithEndpoints sets the plugin segment of remote paths.
func WithEndpoints(endpoints spider.Endpoints) Option {
	return func(m *Manager) { m.endpoints = endpoints }
}

// Manager is the configuration state machine. All methods are safe for
// concurrent use. Remote calls run without the lock held; each operation's
// mutation is applied atomically when its call completes.
type Manager struct {
	client    spider.Client
	registry  *spider.Registry
	emitter   notify.Emitter
	logger    *zap.Logger
	clock     spider.Clock
	ids       spider.IDGenerator
	endpoints spider.Endpoints

	mu        sync.Mutex
	cfg       spider.GlobalConfig
	texts     map[string]string
	textErrs  map[string]string
	pending   map[string]string
	inFlight  map[string]struct{}
	formValid bool
	saving    bool

	// lastErr is governed by the most recently issued operation that has
	// completed; slotSeq is that operation's issue number.
	lastErr *OpError
	slotSeq uint64
	issued  uint64

	observerMu sync.RWMutex
	observers  []func(Change)
}

// New builds a Manager from the persisted document (nil when nothing was
// persisted). The form starts valid.
func New(client spider.Client, initial *spider.Document, opts ...Option) (*Manager, error) {
	if client == nil {
		return nil, errors.New("configstate: api client is required")
	}
	m := &Manager{
		client:    client,
		registry:  spider.DefaultRegistry(),
		logger:    zap.NewNop(),
		clock:     system.New(),
		ids:       uuid.New(),
		formValid: true,
		inFlight:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.logger = m.logger.Named("configstate")
	m.cfg = spider.Merge(initial, m.registry)
	if err := m.rebuildDrafts(); err != nil {
		return nil, err
	}
	return m, nil
}

// rebuildDrafts regenerates every unit's text from its record, clears every
// text error and keeps pending tags of surviving units. Callers hold mu or
// own m exclusively.
func (m *Manager) rebuildDrafts() error {
	texts := make(map[string]string, m.cfg.Spiders.Len())
	pending := make(map[string]string, m.cfg.Spiders.Len())
	for _, name := range m.cfg.Spiders.Names() {
		rec, _ := m.cfg.Spiders.Get(name)
		text, err := spider.EncodeRecord(rec)
		if err != nil {
			return err
		}
		texts[name] = text
		pending[name] = m.pending[name]
	}
	m.texts = texts
	m.pending = pending
	m.textErrs = make(map[string]string)
	return nil
}

// Observe registers fn to be called after every state change. Observers run
// synchronously on the goroutine that made the change, without locks held.
func (m *Manager) Observe(fn func(Change)) {
	if fn == nil {
		return
	}
	m.observerMu.Lock()
	defer m.observerMu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *Manager) notify(change Change) {
	m.observerMu.RLock()
	observers := append([]func(Change){}, m.observers...)
	m.observerMu.RUnlock()
	for _, fn := range observers {
		fn(change)
	}
}

// ToggleUnitEnabled flips the spider's enabled flag locally and then notifies
// the backend. The flip is not reverted when the notification fails.
func (m *Manager) ToggleUnitEnabled(ctx context.Context, name string) error {
	key := spider.OpToggle + "/" + name
	m.mu.Lock()
	rec, ok := m.cfg.Spiders.Get(name)
	if !ok {
		m.mu.Unlock()
		return unknownUnit(name)
	}
	if !m.begin(key) {
		m.mu.Unlock()
		return ErrBusy
	}
	rec.Enabled = !rec.Enabled
	m.cfg.Spiders.Set(name, rec)
	seq := m.issue()
	m.mu.Unlock()
	m.notify(Change{Kind: ChangeRecord, Unit: name})

	err := m.post(ctx, spider.OpToggle, spider.UnitRequest{Name: name})
	return m.finish(key, seq, spider.OpToggle, name, err, nil)
}

// CommitUnitJSON parses text as the spider's complete record. On success the
// record is replaced exactly with the parsed value; otherwise the record is
// untouched and the spider's text error is set. Purely local.
func (m *Manager) CommitUnitJSON(name, text string) error {
	m.mu.Lock()
	if !m.cfg.Spiders.Has(name) {
		m.mu.Unlock()
		return unknownUnit(name)
	}
	m.texts[name] = text
	rec, err := parseRecord(name, text)
	if err != nil {
		m.textErrs[name] = InvalidJSONMessage
		m.mu.Unlock()
		m.notify(Change{Kind: ChangeText, Unit: name})
		return err
	}
	m.cfg.Spiders.Set(name, rec)
	delete(m.textErrs, name)
	m.mu.Unlock()
	m.notify(Change{Kind: ChangeRecord, Unit: name})
	return nil
}

func parseRecord(name, text string) (spider.Record, error) {
	var rec spider.Record
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		return spider.Record{}, &spider.ValidationError{Unit: name, Reason: InvalidJSONMessage, Err: err}
	}
	if err := rec.Validate(); err != nil {
		var verr *spider.ValidationError
		if errors.As(err, &verr) {
			verr.Unit = name
		}
		return spider.Record{}, err
	}
	if rec.Name != name {
		return spider.Record{}, &spider.ValidationError{
			Unit:   name,
			Field:  "spider_name",
			Reason: fmt.Sprintf("must equal %q", name),
		}
	}
	return rec, nil
}

// ResetUnit asks the backend to reset the spider and, on success, restores
// its registry definition and regenerates its text.
func (m *Manager) ResetUnit(ctx context.Context, name string) error {
	key := spider.OpReset + "/" + name
	m.mu.Lock()
	if !m.cfg.Spiders.Has(name) {
		m.mu.Unlock()
		return unknownUnit(name)
	}
	def, ok := m.registry.Lookup(name)
	if !ok {
		m.mu.Unlock()
		return &spider.ValidationError{Unit: name, Reason: "cannot reset", Err: spider.ErrNoDefault}
	}
	if !m.begin(key) {
		m.mu.Unlock()
		return ErrBusy
	}
	seq := m.issue()
	m.mu.Unlock()

	err := m.post(ctx, spider.OpReset, spider.UnitRequest{Name: name})
	return m.finish(key, seq, spider.OpReset, name, err, func() (Change, error) {
		text, encErr := spider.EncodeRecord(def)
		if encErr != nil {
			return Change{}, encErr
		}
		m.cfg.Spiders.Set(name, def)
		m.texts[name] = text
		delete(m.textErrs, name)
		return Change{Kind: ChangeRecord, Unit: name}, nil
	})
}

// ResetAll asks the backend to reset every spider and, on success, replaces
// the whole spider mapping with a fresh copy of the registry. Spiders that
// exist only in the persisted document are dropped.
func (m *Manager) ResetAll(ctx context.Context) error {
	key := spider.OpResetAll
	m.mu.Lock()
	if !m.begin(key) {
		m.mu.Unlock()
		return ErrBusy
	}
	seq := m.issue()
	m.mu.Unlock()

	err := m.post(ctx, spider.OpResetAll, struct{}{})
	return m.finish(key, seq, spider.OpResetAll, "", err, func() (Change, error) {
		prev := m.cfg.Spiders
		m.cfg.Spiders = m.registry.Units()
		if encErr := m.rebuildDrafts(); encErr != nil {
			m.cfg.Spiders = prev
			return Change{}, encErr
		}
		return Change{Kind: ChangeAll}, nil
	})
}

// AddTag asks the backend to add tag and, on success, appends it to the
// spider's tags and clears the pending tag buffer. The tag is sent and stored
// as given; a blank tag is a no-op.
func (m *Manager) AddTag(ctx context.Context, name, tag string) error {
	if strings.TrimSpace(tag) == "" {
		return nil
	}
	key := spider.OpAddTag + "/" + name
	m.mu.Lock()
	if !m.cfg.Spiders.Has(name) {
		m.mu.Unlock()
		return unknownUnit(name)
	}
	if !m.begin(key) {
		m.mu.Unlock()
		return ErrBusy
	}
	seq := m.issue()
	m.mu.Unlock()

	err := m.post(ctx, spider.OpAddTag, spider.TagRequest{Name: name, Tag: tag})
	return m.finish(key, seq, spider.OpAddTag, name, err, func() (Change, error) {
		rec, ok := m.cfg.Spiders.Get(name)
		if !ok {
			return Change{}, nil
		}
		rec.Tags = append(rec.Tags, tag)
		m.cfg.Spiders.Set(name, rec)
		m.pending[name] = ""
		return Change{Kind: ChangeRecord, Unit: name}, nil
	})
}

// AddPendingTag submits the spider's pending tag buffer through AddTag.
func (m *Manager) AddPendingTag(ctx context.Context, name string) error {
	return m.AddTag(ctx, name, m.PendingTag(name))
}

// RemoveTag asks the backend to remove tag and, on success, removes the first
// occurrence of tag from the spider's tags.
func (m *Manager) RemoveTag(ctx context.Context, name, tag string) error {
	key := spider.OpRemove + "/" + name
	m.mu.Lock()
	if !m.cfg.Spiders.Has(name) {
		m.mu.Unlock()
		return unknownUnit(name)
	}
	if !m.begin(key) {
		m.mu.Unlock()
		return ErrBusy
	}
	seq := m.issue()
	m.mu.Unlock()

	err := m.post(ctx, spider.OpRemove, spider.TagRequest{Name: name, Tag: tag})
	return m.finish(key, seq, spider.OpRemove, name, err, func() (Change, error) {
		rec, ok := m.cfg.Spiders.Get(name)
		if !ok {
			return Change{}, nil
		}
		for i, t := range rec.Tags {
			if t == tag {
				rec.Tags = append(rec.Tags[:i], rec.Tags[i+1:]...)
				break
			}
		}
		m.cfg.Spiders.Set(name, rec)
		return Change{Kind: ChangeRecord, Unit: name}, nil
	})
}

// Save emits the full configuration snapshot as a save notification. It
// fails locally, without emitting, while the host form is invalid. Save
// performs no network I/O of its own.
func (m *Manager) Save(_ context.Context) error {
	m.mu.Lock()
	if m.saving {
		m.mu.Unlock()
		return ErrBusy
	}
	seq := m.issue()
	if !m.formValid {
		m.mu.Unlock()
		verr := &spider.ValidationError{Reason: FormInvalidMessage}
		return m.settle(seq, OpSave, "", verr)
	}
	m.saving = true
	snapshot := m.cfg.Clone()
	m.mu.Unlock()
	m.notify(Change{Kind: ChangeSaving})

	defer func() {
		m.mu.Lock()
		m.saving = false
		m.mu.Unlock()
		m.notify(Change{Kind: ChangeSaving})
	}()

	err := m.emit(notify.KindSave, &snapshot)
	if err == nil {
		m.logger.Info("configuration saved", zap.Int("units", snapshot.Spiders.Len()))
	}
	return m.settle(seq, OpSave, "", err)
}

// SwitchView emits a switch notification.
func (m *Manager) SwitchView() error {
	return m.emit(notify.KindSwitch, nil)
}

// Close emits a close notification.
func (m *Manager) Close() error {
	return m.emit(notify.KindClose, nil)
}

func (m *Manager) emit(kind notify.Kind, cfg *spider.GlobalConfig) error {
	if m.emitter == nil {
		return fmt.Errorf("%s: no notification emitter configured", kind)
	}
	evt := notify.Event{ID: m.newID(), TS: m.clock.Now(), Kind: kind, Config: cfg}
	if err := m.emitter.Emit(evt); err != nil {
		return fmt.Errorf("emit %s: %w", kind, err)
	}
	return nil
}

// post sends a mutating request and converts the outcome into the error
// taxonomy: a failed call is a TransportError, success=false a
// RemoteRejection.
func (m *Manager) post(ctx context.Context, op string, body any) error {
	raw, err := m.client.Post(ctx, m.endpoints.Path(op), body)
	if err != nil {
		var transport *spider.TransportError
		if errors.As(err, &transport) {
			return err
		}
		return &spider.TransportError{Op: op, Err: err}
	}
	res := spider.DecodeResult(raw)
	if !res.Success {
		return &spider.RemoteRejection{Op: op, Message: res.Message}
	}
	return nil
}

// begin marks key in flight. Callers hold mu.
func (m *Manager) begin(key string) bool {
	if _, busy := m.inFlight[key]; busy {
		return false
	}
	m.inFlight[key] = struct{}{}
	return true
}

// issue hands out the next issue number. Callers hold mu.
func (m *Manager) issue() uint64 {
	m.issued++
	return m.issued
}

// finish completes a remote operation: on success apply runs under the lock,
// then the shared error slot is settled and the in-flight mark released.
func (m *Manager) finish(
	key string,
	seq uint64,
	op, unit string,
	err error,
	apply func() (Change, error),
) error {
	var change Change
	m.mu.Lock()
	delete(m.inFlight, key)
	if err == nil && apply != nil {
		change, err = apply()
	}
	m.mu.Unlock()
	if change.Kind != "" {
		m.notify(change)
	}
	return m.settle(seq, op, unit, err)
}

// settle records the outcome of operation seq in the shared error slot unless
// a later-issued operation has already settled it, and returns the
// operation's own error.
func (m *Manager) settle(seq uint64, op, unit string, err error) error {
	var opErr *OpError
	if err != nil {
		opErr = &OpError{
			ID:      m.newID(),
			Op:      op,
			Unit:    unit,
			Message: spider.Message(err, fallbackMessages[op]),
			Err:     err,
		}
		m.logger.Warn("operation failed",
			zap.String("op", op),
			zap.String("unit", unit),
			zap.String("id", opErr.ID),
			zap.Error(err),
		)
	}

	m.mu.Lock()
	applied := seq > m.slotSeq
	if applied {
		m.slotSeq = seq
		m.lastErr = opErr
	}
	m.mu.Unlock()
	if applied {
		m.notify(Change{Kind: ChangeError, Unit: unit})
	}
	if opErr == nil {
		return nil
	}
	return opErr
}

func (m *Manager) newID() string {
	id, err := m.ids.NewID()
	if err != nil {
		m.logger.Warn("generate correlation id", zap.Error(err))
		return ""
	}
	return id
}

func unknownUnit(name string) error {
	return &spider.ValidationError{Unit: name, Reason: "not configured", Err: spider.ErrUnknownUnit}
}
