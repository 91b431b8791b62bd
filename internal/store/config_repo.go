package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record or object does not exist.
var ErrNotFound = errors.New("record not found")

// DefaultActivityLimit caps activity listings when callers pass no limit.
const DefaultActivityLimit = 20

// ActivityEntry models one row of the plugin_activity table.
type ActivityEntry struct {
	// ID is a UUIDv7 so entries sort by creation.
	ID uuid.UUID
	// Plugin scopes the entry to one plugin document.
	Plugin string
	// Kind is the activity type tag (movie, tv, download, error, success).
	Kind string
	// Title is the human-readable summary.
	Title string
	// At is when the activity happened.
	At time.Time
}

// ConfigRepository persists plugin configuration documents and the recent
// activity feed.
type ConfigRepository interface {
	// LoadDocument returns the stored JSON document or ErrNotFound.
	LoadDocument(ctx context.Context, plugin string) ([]byte, error)
	// SaveDocument replaces the stored document.
	SaveDocument(ctx context.Context, plugin string, document []byte, at time.Time) error
	// AppendActivity records an activity entry.
	AppendActivity(ctx context.Context, entry ActivityEntry) error
	// ListActivity returns up to limit entries, newest first.
	ListActivity(ctx context.Context, plugin string, limit int) ([]ActivityEntry, error)
}
