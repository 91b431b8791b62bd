package configstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/extendspider-console/internal/notify"
	"github.com/JakeFAU/extendspider-console/internal/spider"
)

func TestNewMergesRegistryDefaults(t *testing.T) {
	t.Parallel()

	m, client, _ := newTestManager(t, nil)
	reg := spider.DefaultRegistry()

	require.Equal(t, reg.Names(), m.Names())
	for _, name := range reg.Names() {
		want, _ := reg.Lookup(name)
		got, ok := m.Unit(name)
		require.True(t, ok)
		require.Equal(t, want, got)

		text, err := spider.EncodeRecord(want)
		require.NoError(t, err)
		require.Equal(t, text, m.UnitText(name))
		require.Empty(t, m.UnitTextError(name))
		require.Empty(t, m.PendingTag(name))
	}
	snap := m.Snapshot()
	require.Equal(t, spider.DefaultCron, snap.Cron)
	require.Nil(t, m.LastError())
	require.Empty(t, client.Calls())
}

func TestNewOverridesWholeRecords(t *testing.T) {
	t.Parallel()

	doc := mustDocument(t, `{
		"enabled": true,
		"spider_config": {
			"BtttSpider": {"spider_name": "BtttSpider", "spider_desc": "mine", "spider_tags": ["x"]},
			"ExtraSpider": {"spider_name": "ExtraSpider", "spider_desc": "extra"}
		}
	}`)
	m, _, _ := newTestManager(t, doc)

	names := m.Names()
	require.Equal(t, "ExtraSpider", names[len(names)-1])
	bttt, _ := m.Unit("BtttSpider")
	require.Equal(t, "mine", bttt.Description)
	require.False(t, bttt.Enabled)
	require.Empty(t, bttt.ProxyType)
	require.True(t, m.Snapshot().Enabled)
}

func TestCommitUnitJSONMissingDescriptionLeavesRecord(t *testing.T) {
	t.Parallel()

	m, client, _ := newTestManager(t, nil)
	before, _ := m.Unit("BtttSpider")

	err := m.CommitUnitJSON("BtttSpider", `{"spider_name":"BtttSpider","spider_enable":false}`)
	var verr *spider.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "spider_desc", verr.Field)

	after, _ := m.Unit("BtttSpider")
	require.Equal(t, before, after)
	require.Equal(t, InvalidJSONMessage, m.UnitTextError("BtttSpider"))
	require.Empty(t, client.Calls())
	require.Nil(t, m.LastError())
}

func TestCommitUnitJSONRejectsBadInput(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t, nil)
	before, _ := m.Unit("BtdxSpider")

	for _, text := range []string{
		`{"spider_name":`,
		`[1,2,3]`,
		`{"spider_name":"OtherSpider","spider_desc":"d"}`,
		`{"spider_name":"BtdxSpider","spider_desc":"d","proxy_type":"foo"}`,
	} {
		err := m.CommitUnitJSON("BtdxSpider", text)
		var verr *spider.ValidationError
		require.ErrorAs(t, err, &verr, text)
		after, _ := m.Unit("BtdxSpider")
		require.Equal(t, before, after)
		require.Equal(t, InvalidJSONMessage, m.UnitTextError("BtdxSpider"))
		require.Equal(t, text, m.UnitText("BtdxSpider"))
	}
}

func TestCommitUnitJSONReplacesExactly(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t, nil)
	require.Error(t, m.CommitUnitJSON("Bt1louSpider", `not json`))
	require.NotEmpty(t, m.UnitTextError("Bt1louSpider"))

	text := `{
  "spider_name": "Bt1louSpider",
  "spider_enable": false,
  "spider_proxy": true,
  "spider_desc": "edited",
  "spider_tags": ["a", "a"],
  "spider_max_pages": 3
}`
	require.NoError(t, m.CommitUnitJSON("Bt1louSpider", text))
	require.Empty(t, m.UnitTextError("Bt1louSpider"))

	var want spider.Record
	require.NoError(t, json.Unmarshal([]byte(text), &want))
	got, _ := m.Unit("Bt1louSpider")
	require.Equal(t, want, got)
	require.Nil(t, got.BypassProtection)
	require.Equal(t, json.RawMessage(`3`), got.Extra["spider_max_pages"])
	require.Equal(t, text, m.UnitText("Bt1louSpider"))
}

func TestRemoveTagRemovesFirstOccurrence(t *testing.T) {
	t.Parallel()

	m, client, _ := newTestManager(t, nil)
	setTags(t, m, "BtttSpider", "x", "y", "x")

	require.NoError(t, m.RemoveTag(context.Background(), "BtttSpider", "x"))
	rec, _ := m.Unit("BtttSpider")
	require.Equal(t, []string{"y", "x"}, rec.Tags)

	calls := client.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "plugin/ExtendSpider/remove_tag", calls[0].Path)
	require.Equal(t, spider.TagRequest{Name: "BtttSpider", Tag: "x"}, calls[0].Body)
}

func TestRemoveTagFailureLeavesTags(t *testing.T) {
	t.Parallel()

	m, client, _ := newTestManager(t, nil)
	setTags(t, m, "BtttSpider", "x", "y")
	client.Respond(spider.OpRemove, `{"success":false,"message":"tag locked"}`, nil)

	err := m.RemoveTag(context.Background(), "BtttSpider", "x")
	var rejection *spider.RemoteRejection
	require.ErrorAs(t, err, &rejection)

	rec, _ := m.Unit("BtttSpider")
	require.Equal(t, []string{"x", "y"}, rec.Tags)
	require.Equal(t, "tag locked", m.LastError().Message)
	require.Equal(t, "BtttSpider", m.LastError().Unit)
}

func TestAddTagConfirmsBeforeAppending(t *testing.T) {
	t.Parallel()

	m, client, _ := newTestManager(t, nil)
	setTags(t, m, "BtttSpider", "a")
	require.NoError(t, m.SetPendingTag("BtttSpider", "a"))

	require.NoError(t, m.AddPendingTag(context.Background(), "BtttSpider"))
	rec, _ := m.Unit("BtttSpider")
	require.Equal(t, []string{"a", "a"}, rec.Tags)
	require.Empty(t, m.PendingTag("BtttSpider"))
	require.Equal(t, spider.TagRequest{Name: "BtttSpider", Tag: "a"}, client.Calls()[0].Body)

	client.Respond(spider.OpAddTag, `{"success":false}`, nil)
	require.NoError(t, m.SetPendingTag("BtttSpider", "b"))
	err := m.AddPendingTag(context.Background(), "BtttSpider")
	require.Error(t, err)
	rec, _ = m.Unit("BtttSpider")
	require.Equal(t, []string{"a", "a"}, rec.Tags)
	require.Equal(t, "b", m.PendingTag("BtttSpider"))
	require.Equal(t, "add tag failed", m.LastError().Message)
}

func TestAddTagBlankIsNoop(t *testing.T) {
	t.Parallel()

	m, client, _ := newTestManager(t, nil)
	require.NoError(t, m.AddTag(context.Background(), "BtttSpider", ""))
	require.NoError(t, m.AddTag(context.Background(), "BtttSpider", "   "))
	require.Empty(t, client.Calls())
}

func TestAddTagKeepsTagAsGiven(t *testing.T) {
	t.Parallel()

	m, client, _ := newTestManager(t, nil)
	setTags(t, m, "BtttSpider")
	require.NoError(t, m.AddTag(context.Background(), "BtttSpider", " nightly "))

	require.Equal(t, spider.TagRequest{Name: "BtttSpider", Tag: " nightly "}, client.Calls()[0].Body)
	rec, _ := m.Unit("BtttSpider")
	require.Equal(t, []string{" nightly "}, rec.Tags)
}

func TestToggleFlipsBeforeNotifying(t *testing.T) {
	t.Parallel()

	m, client, _ := newTestManager(t, nil)
	client.OnPost(func(path string) {
		if strings.HasSuffix(path, spider.OpToggle) {
			rec, _ := m.Unit("BtttSpider")
			require.False(t, rec.Enabled, "flag must already be flipped when the backend is told")
		}
	})
	require.NoError(t, m.ToggleUnitEnabled(context.Background(), "BtttSpider"))
	require.Equal(t, spider.UnitRequest{Name: "BtttSpider"}, client.Calls()[0].Body)
	require.Equal(t, "plugin/ExtendSpider/toggle_spider", client.Calls()[0].Path)
}

func TestToggleFailureKeepsLocalFlip(t *testing.T) {
	t.Parallel()

	m, client, _ := newTestManager(t, nil)
	client.Respond(spider.OpToggle, "", errors.New("connection refused"))

	err := m.ToggleUnitEnabled(context.Background(), "BtttSpider")
	var transport *spider.TransportError
	require.ErrorAs(t, err, &transport)

	rec, _ := m.Unit("BtttSpider")
	require.False(t, rec.Enabled)
	require.Equal(t, "connection refused", m.LastError().Message)
	require.Equal(t, spider.OpToggle, m.LastError().Op)
	require.NotEmpty(t, m.LastError().ID)

	client.Respond(spider.OpToggle, `{"success":true}`, nil)
	require.NoError(t, m.ToggleUnitEnabled(context.Background(), "BtttSpider"))
	require.Nil(t, m.LastError())
}

func TestResetUnitRestoresDefault(t *testing.T) {
	t.Parallel()

	m, client, _ := newTestManager(t, nil)
	require.NoError(t, m.CommitUnitJSON("Bt1louSpider", `{"spider_name":"Bt1louSpider","spider_desc":"x"}`))
	require.NoError(t, m.SetUnitText("Bt1louSpider", "draft in progress"))

	client.Respond(spider.OpReset, `{"success":false,"message":"busy"}`, nil)
	require.Error(t, m.ResetUnit(context.Background(), "Bt1louSpider"))
	rec, _ := m.Unit("Bt1louSpider")
	require.Equal(t, "x", rec.Description)
	require.Equal(t, "draft in progress", m.UnitText("Bt1louSpider"))
	require.Equal(t, "busy", m.LastError().Message)

	client.Respond(spider.OpReset, `{"success":true}`, nil)
	require.NoError(t, m.ResetUnit(context.Background(), "Bt1louSpider"))
	def, _ := spider.DefaultRegistry().Lookup("Bt1louSpider")
	rec, _ = m.Unit("Bt1louSpider")
	require.Equal(t, def, rec)
	text, err := spider.EncodeRecord(def)
	require.NoError(t, err)
	require.Equal(t, text, m.UnitText("Bt1louSpider"))
	require.Nil(t, m.LastError())
}

func TestResetUnitWithoutDefault(t *testing.T) {
	t.Parallel()

	doc := mustDocument(t, `{"spider_config":{"ExtraSpider":{"spider_name":"ExtraSpider","spider_desc":"e"}}}`)
	m, client, _ := newTestManager(t, doc)
	err := m.ResetUnit(context.Background(), "ExtraSpider")
	require.ErrorIs(t, err, spider.ErrNoDefault)
	require.Empty(t, client.Calls())
}

func TestResetAllReplacesWithDeepCopy(t *testing.T) {
	t.Parallel()

	doc := mustDocument(t, `{"spider_config":{
		"ExtraSpider":{"spider_name":"ExtraSpider","spider_desc":"e"},
		"BtttSpider":{"spider_name":"BtttSpider","spider_desc":"changed"}}}`)
	m, client, _ := newTestManager(t, doc)
	require.Error(t, m.CommitUnitJSON("BtBtlSpider", "{"))

	client.Respond(spider.OpResetAll, `{"success":false,"message":"nope"}`, nil)
	require.Error(t, m.ResetAll(context.Background()))
	require.Contains(t, m.Names(), "ExtraSpider")

	client.Respond(spider.OpResetAll, `{"success":true}`, nil)
	require.NoError(t, m.ResetAll(context.Background()))
	reg := spider.DefaultRegistry()
	require.Equal(t, reg.Names(), m.Names())
	require.Empty(t, m.UnitTextError("BtBtlSpider"))
	require.Empty(t, m.UnitText("ExtraSpider"))
	for _, name := range reg.Names() {
		want, _ := reg.Lookup(name)
		got, _ := m.Unit(name)
		require.Equal(t, want, got)
	}

	// Mutating the working copy must not reach the registry.
	require.NoError(t, m.AddTag(context.Background(), "Bt1louSpider", "extra"))
	require.NoError(t, m.CommitUnitJSON("BtttSpider", `{"spider_name":"BtttSpider","spider_desc":"mutated"}`))
	snap := m.Snapshot()
	rec, _ := snap.Spiders.Get("Bt1louSpider")
	rec.Tags[0] = "scribble"

	def, _ := reg.Lookup("Bt1louSpider")
	require.Len(t, def.Tags, 5)
	require.Equal(t, "电影", def.Tags[0])
	bttt, _ := reg.Lookup("BtttSpider")
	require.NotEqual(t, "mutated", bttt.Description)
	require.Equal(t, "plugin/ExtendSpider/reset_all_config", client.Calls()[1].Path)
}

func TestSaveWithInvalidFormNeverEmits(t *testing.T) {
	t.Parallel()

	m, client, emitter := newTestManager(t, nil)
	m.SetFormValid(false)

	err := m.Save(context.Background())
	var verr *spider.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Empty(t, emitter.Events())
	require.Empty(t, client.Calls())
	require.False(t, m.Saving())
	require.Equal(t, FormInvalidMessage, m.LastError().Message)
	require.Equal(t, OpSave, m.LastError().Op)
}

func TestSaveEmitsDeepSnapshot(t *testing.T) {
	t.Parallel()

	m, client, emitter := newTestManager(t, nil)
	var savingDuringEmit bool
	emitter.onEmit = func() { savingDuringEmit = m.Saving() }
	m.UpdateGlobals(func(cfg *spider.GlobalConfig) {
		cfg.Enabled = true
		cfg.Cron = "*/10 * * * *"
	})

	require.NoError(t, m.Save(context.Background()))
	require.True(t, savingDuringEmit)
	require.False(t, m.Saving())
	require.Empty(t, client.Calls())

	events := emitter.Events()
	require.Len(t, events, 1)
	evt := events[0]
	require.Equal(t, notify.KindSave, evt.Kind)
	require.Equal(t, fixedNow, evt.TS)
	require.NotEmpty(t, evt.ID)
	require.True(t, evt.Config.Enabled)
	require.Equal(t, "*/10 * * * *", evt.Config.Cron)
	require.Equal(t, 9, evt.Config.Spiders.Len())

	require.NoError(t, m.CommitUnitJSON("BtttSpider", `{"spider_name":"BtttSpider","spider_desc":"later"}`))
	rec, _ := evt.Config.Spiders.Get("BtttSpider")
	require.NotEqual(t, "later", rec.Description)
}

func TestSaveEmitFailureClearsSaving(t *testing.T) {
	t.Parallel()

	m, _, emitter := newTestManager(t, nil)
	emitter.err = notify.ErrBackpressure

	err := m.Save(context.Background())
	require.ErrorIs(t, err, notify.ErrBackpressure)
	require.False(t, m.Saving())
	require.NotNil(t, m.LastError())
}

func TestSaveWithoutEmitterFails(t *testing.T) {
	t.Parallel()

	m, err := New(newFakeClient(), nil)
	require.NoError(t, err)
	require.Error(t, m.Save(context.Background()))
	require.Error(t, m.SwitchView())
	require.False(t, m.Saving())
}

func TestSwitchAndCloseEmit(t *testing.T) {
	t.Parallel()

	m, _, emitter := newTestManager(t, nil)
	require.NoError(t, m.SwitchView())
	require.NoError(t, m.Close())
	events := emitter.Events()
	require.Len(t, events, 2)
	require.Equal(t, notify.KindSwitch, events[0].Kind)
	require.Equal(t, notify.KindClose, events[1].Kind)
	require.Nil(t, events[0].Config)
}

func TestErrorSlotOrderedByIssue(t *testing.T) {
	t.Parallel()

	m, client, _ := newTestManager(t, nil)
	release := client.Block(spider.OpToggle)
	client.Respond(spider.OpToggle, `{"success":false,"message":"older failure"}`, nil)
	client.Respond(spider.OpReset, `{"success":false,"message":"newer failure"}`, nil)

	toggleDone := make(chan error, 1)
	go func() { toggleDone <- m.ToggleUnitEnabled(context.Background(), "BtttSpider") }()
	require.Eventually(t, func() bool { return len(client.Calls()) == 1 }, time.Second, time.Millisecond)

	require.Error(t, m.ResetUnit(context.Background(), "BtdxSpider"))
	require.Equal(t, "newer failure", m.LastError().Message)

	close(release)
	toggleErr := <-toggleDone
	require.ErrorContains(t, toggleErr, "older failure")
	require.Equal(t, "newer failure", m.LastError().Message)
}

func TestOlderFailureCannotOverwriteNewerSuccess(t *testing.T) {
	t.Parallel()

	m, client, _ := newTestManager(t, nil)
	release := client.Block(spider.OpRemove)
	client.Respond(spider.OpRemove, "", errors.New("timeout"))

	done := make(chan error, 1)
	go func() { done <- m.RemoveTag(context.Background(), "BtttSpider", "x") }()
	require.Eventually(t, func() bool { return len(client.Calls()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, m.AddTag(context.Background(), "BtdxSpider", "new"))
	close(release)
	require.Error(t, <-done)
	require.Nil(t, m.LastError())
}

func TestDismissError(t *testing.T) {
	t.Parallel()

	m, client, _ := newTestManager(t, nil)
	client.Respond(spider.OpToggle, `{"success":false}`, nil)
	require.Error(t, m.ToggleUnitEnabled(context.Background(), "BtttSpider"))
	require.Equal(t, "toggle failed", m.LastError().Message)
	m.DismissError()
	require.Nil(t, m.LastError())
}

func TestConcurrentSameActionIsBusy(t *testing.T) {
	t.Parallel()

	m, client, _ := newTestManager(t, nil)
	release := client.Block(spider.OpAddTag)

	done := make(chan error, 1)
	go func() { done <- m.AddTag(context.Background(), "BtttSpider", "a") }()
	require.Eventually(t, func() bool { return len(client.Calls()) == 1 }, time.Second, time.Millisecond)

	require.ErrorIs(t, m.AddTag(context.Background(), "BtttSpider", "b"), ErrBusy)
	require.NoError(t, m.AddTag(context.Background(), "BtdxSpider", "b"))

	close(release)
	require.NoError(t, <-done)
	require.NoError(t, m.AddTag(context.Background(), "BtttSpider", "c"))
	rec, _ := m.Unit("BtttSpider")
	require.Equal(t, []string{"a", "c"}, rec.Tags)
}

func TestUnknownUnitNeverCallsBackend(t *testing.T) {
	t.Parallel()

	m, client, _ := newTestManager(t, nil)
	ctx := context.Background()
	for _, err := range []error{
		m.ToggleUnitEnabled(ctx, "Nope"),
		m.ResetUnit(ctx, "Nope"),
		m.AddTag(ctx, "Nope", "t"),
		m.RemoveTag(ctx, "Nope", "t"),
		m.CommitUnitJSON("Nope", `{}`),
		m.SetUnitText("Nope", ""),
		m.SetPendingTag("Nope", ""),
	} {
		require.ErrorIs(t, err, spider.ErrUnknownUnit)
	}
	require.Empty(t, client.Calls())
}

func TestObserversSeeChanges(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t, nil)
	var mu sync.Mutex
	var changes []Change
	m.Observe(func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	})

	require.NoError(t, m.ToggleUnitEnabled(context.Background(), "BtttSpider"))
	require.NoError(t, m.Save(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []Change{
		{Kind: ChangeRecord, Unit: "BtttSpider"},
		{Kind: ChangeError, Unit: "BtttSpider"},
		{Kind: ChangeSaving},
		{Kind: ChangeError},
		{Kind: ChangeSaving},
	}, changes)
}

func TestCustomEndpoints(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	m, err := New(client, nil, WithEndpoints(spider.Endpoints{Plugin: "Custom"}))
	require.NoError(t, err)
	require.NoError(t, m.ResetAll(context.Background()))
	require.Equal(t, "plugin/Custom/reset_all_config", client.Calls()[0].Path)
	require.Equal(t, struct{}{}, client.Calls()[0].Body)
}

func TestNewRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil)
	require.Error(t, err)
}

// --- helpers ---

var fixedNow = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return fixedNow }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

func newTestManager(t *testing.T, doc *spider.Document) (*Manager, *fakeClient, *recordingEmitter) {
	t.Helper()
	client := newFakeClient()
	emitter := &recordingEmitter{}
	m, err := New(client, doc,
		WithEmitter(emitter),
		WithClock(fixedClock{}),
		WithIDGenerator(&seqIDs{}),
	)
	require.NoError(t, err)
	return m, client, emitter
}

func mustDocument(t *testing.T, raw string) *spider.Document {
	t.Helper()
	doc, err := spider.ParseDocument([]byte(raw))
	require.NoError(t, err)
	return doc
}

func setTags(t *testing.T, m *Manager, name string, tags ...string) {
	t.Helper()
	rec, ok := m.Unit(name)
	require.True(t, ok)
	rec.Tags = tags
	text, err := spider.EncodeRecord(rec)
	require.NoError(t, err)
	require.NoError(t, m.CommitUnitJSON(name, text))
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
	onEmit func()
}

func (r *recordingEmitter) Emit(evt notify.Event) error {
	if r.onEmit != nil {
		r.onEmit()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, evt)
	return nil
}

func (r *recordingEmitter) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

type postCall struct {
	Path string
	Body any
}

type cannedResponse struct {
	raw string
	err error
}

type fakeClient struct {
	mu        sync.Mutex
	calls     []postCall
	responses map[string]cannedResponse
	gates     map[string]chan struct{}
	onPost    func(path string)
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		responses: make(map[string]cannedResponse),
		gates:     make(map[string]chan struct{}),
	}
}

// Respond sets the response for op; unset ops succeed.
func (f *fakeClient) Respond(op, raw string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[op] = cannedResponse{raw: raw, err: err}
}

// Block holds the next call to op until the returned channel is closed.
func (f *fakeClient) Block(op string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gates[op] = gate
	return gate
}

func (f *fakeClient) OnPost(fn func(path string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onPost = fn
}

func (f *fakeClient) Calls() []postCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]postCall(nil), f.calls...)
}

func (f *fakeClient) Get(context.Context, string) (json.RawMessage, error) {
	return nil, errors.New("unexpected get")
}

func (f *fakeClient) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	op := path[strings.LastIndex(path, "/")+1:]
	f.mu.Lock()
	f.calls = append(f.calls, postCall{Path: path, Body: body})
	gate := f.gates[op]
	delete(f.gates, op)
	hook := f.onPost
	f.mu.Unlock()

	if hook != nil {
		hook(path)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	resp, ok := f.responses[op]
	f.mu.Unlock()
	if !ok {
		return json.RawMessage(`{"success":true}`), nil
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return json.RawMessage(resp.raw), nil
}
