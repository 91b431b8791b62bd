package configstate

import "github.com/JakeFAU/extendspider-console/internal/spider"

// ChangeKind classifies a state change delivered to observers.
type ChangeKind string

// Change kinds.
const (
	// ChangeRecord: one spider's record changed (Unit is set).
	ChangeRecord ChangeKind = "record"
	// ChangeAll: the whole spider mapping was replaced.
	ChangeAll ChangeKind = "all"
	// ChangeText: a spider's draft text or text error changed.
	ChangeText ChangeKind = "text"
	// ChangeError: the shared error slot changed.
	ChangeError ChangeKind = "error"
	// ChangeSaving: the saving flag changed.
	ChangeSaving ChangeKind = "saving"
	// ChangeForm: global settings or the form validity flag changed.
	ChangeForm ChangeKind = "form"
)

// Change describes one state transition.
type Change struct {
	Kind ChangeKind
	Unit string
}

// OpError is a failed operation as shown in the shared error slot. ID
// correlates it with the log line written when it failed.
type OpError struct {
	ID      string
	Op      string
	Unit    string
	Message string
	Err     error
}

func (e *OpError) Error() string {
	if e.Unit != "" {
		return e.Op + " " + e.Unit + ": " + e.Message
	}
	return e.Op + ": " + e.Message
}

func (e *OpError) Unwrap() error { return e.Err }

// LastError returns the shared error slot, or nil when the most recent
// settled operation succeeded.
func (m *Manager) LastError() *OpError {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastErr == nil {
		return nil
	}
	cp := *m.lastErr
	return &cp
}

// DismissError clears the shared error slot. Operations issued before the
// dismissal can no longer set it.
func (m *Manager) DismissError() {
	m.mu.Lock()
	m.lastErr = nil
	m.slotSeq = m.issued
	m.mu.Unlock()
	m.notify(Change{Kind: ChangeError})
}

// Snapshot returns a deep copy of the working configuration.
func (m *Manager) Snapshot() spider.GlobalConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Clone()
}

// Names returns the spider names in display order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Spiders.Names()
}

// Unit returns a copy of the named spider's record.
func (m *Manager) Unit(name string) (spider.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Spiders.Get(name)
}

// UnitText returns the spider's current JSON draft.
func (m *Manager) UnitText(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.texts[name]
}

// UnitTextError returns the spider's draft validation message, empty when the
// last commit succeeded.
func (m *Manager) UnitTextError(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.textErrs[name]
}

// SetUnitText replaces the spider's draft without committing it.
func (m *Manager) SetUnitText(name, text string) error {
	m.mu.Lock()
	if !m.cfg.Spiders.Has(name) {
		m.mu.Unlock()
		return unknownUnit(name)
	}
	m.texts[name] = text
	m.mu.Unlock()
	m.notify(Change{Kind: ChangeText, Unit: name})
	return nil
}

// PendingTag returns the spider's new-tag input buffer.
func (m *Manager) PendingTag(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[name]
}

// SetPendingTag replaces the spider's new-tag input buffer.
func (m *Manager) SetPendingTag(name, tag string) error {
	m.mu.Lock()
	if !m.cfg.Spiders.Has(name) {
		m.mu.Unlock()
		return unknownUnit(name)
	}
	m.pending[name] = tag
	m.mu.Unlock()
	m.notify(Change{Kind: ChangeText, Unit: name})
	return nil
}

// UpdateGlobals applies fn to a copy of the global settings (enabled, cron,
// onlyonce, tags). Changes to Spiders made by fn are ignored.
func (m *Manager) UpdateGlobals(fn func(*spider.GlobalConfig)) {
	m.mu.Lock()
	cp := m.cfg.Clone()
	fn(&cp)
	m.cfg.Enabled = cp.Enabled
	m.cfg.Cron = cp.Cron
	m.cfg.OnlyOnce = cp.OnlyOnce
	m.cfg.Tags = cp.Tags
	m.mu.Unlock()
	m.notify(Change{Kind: ChangeForm})
}

// SetFormValid records the host form's validity, which gates Save.
func (m *Manager) SetFormValid(valid bool) {
	m.mu.Lock()
	m.formValid = valid
	m.mu.Unlock()
	m.notify(Change{Kind: ChangeForm})
}

// FormValid reports the recorded form validity.
func (m *Manager) FormValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.formValid
}

// Saving reports whether a save is in progress.
func (m *Manager) Saving() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saving
}
