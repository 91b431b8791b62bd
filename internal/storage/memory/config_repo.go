package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/extendspider-console/internal/store"
)

// ConfigRepository keeps plugin documents and activity in memory.
type ConfigRepository struct {
	mu        sync.RWMutex
	documents map[string][]byte
	activity  map[string][]store.ActivityEntry
}

// NewConfigRepository constructs an empty ConfigRepository.
func NewConfigRepository() *ConfigRepository {
	return &ConfigRepository{
		documents: make(map[string][]byte),
		activity:  make(map[string][]store.ActivityEntry),
	}
}

// LoadDocument returns a copy of the stored document.
func (r *ConfigRepository) LoadDocument(_ context.Context, plugin string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.documents[plugin]
	if !ok {
		return nil, fmt.Errorf("plugin %s: %w", plugin, store.ErrNotFound)
	}
	return append([]byte(nil), doc...), nil
}

// SaveDocument stores a copy of document.
func (r *ConfigRepository) SaveDocument(_ context.Context, plugin string, document []byte, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.documents[plugin] = append([]byte(nil), document...)
	return nil
}

// AppendActivity records entry.
func (r *ConfigRepository) AppendActivity(_ context.Context, entry store.ActivityEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activity[entry.Plugin] = append(r.activity[entry.Plugin], entry)
	return nil
}

// ListActivity returns up to limit entries, newest first.
func (r *ConfigRepository) ListActivity(_ context.Context, plugin string, limit int) ([]store.ActivityEntry, error) {
	if limit <= 0 {
		limit = store.DefaultActivityLimit
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.activity[plugin]
	out := make([]store.ActivityEntry, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}
