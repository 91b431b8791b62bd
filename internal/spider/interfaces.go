package spider

import (
	"context"
	"encoding/json"
	"time"
)

// Client is the host-supplied API collaborator. A non-nil error means the call
// itself failed; a backend rejection arrives as a successful call whose body
// reports success=false.
type Client interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Post(ctx context.Context, path string, body any) (json.RawMessage, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces correlation IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// DefaultPlugin is the plugin segment used in remote paths.
const DefaultPlugin = "ExtendSpider"

// Remote operation names, used both as path suffixes and metric labels.
// OpConfig addresses the whole document (GET to read, PUT to replace).
const (
	OpToggle   = "toggle_spider"
	OpReset    = "reset_config"
	OpResetAll = "reset_all_config"
	OpAddTag   = "add_tag"
	OpRemove   = "remove_tag"
	OpStatus   = "status"
	OpHistory  = "history"
	OpConfig   = "config"
)

// Endpoints builds the remote paths for one plugin.
type Endpoints struct {
	Plugin string
}

// Path returns the relative path of op, e.g. "plugin/ExtendSpider/status".
func (e Endpoints) Path(op string) string {
	plugin := e.Plugin
	if plugin == "" {
		plugin = DefaultPlugin
	}
	return "plugin/" + plugin + "/" + op
}

// UnitRequest is the body of toggle and reset-one requests.
type UnitRequest struct {
	Name string `json:"spider_name"`
}

// TagRequest is the body of add-tag and remove-tag requests.
type TagRequest struct {
	Name string `json:"spider_name"`
	Tag  string `json:"tag"`
}

// Result is the acknowledgement every mutating endpoint returns.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Status is the aggregate returned by the status endpoint.
type Status struct {
	Total    int      `json:"total"`
	Enabled  int      `json:"enabled"`
	Disabled int      `json:"disabled"`
	Tags     []string `json:"tags"`
	Status   string   `json:"status"`
}

// Activity is one entry of the recent-activity feed.
type Activity struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Time  string `json:"time"`
}

// Activity types understood by the status view.
const (
	ActivityMovie    = "movie"
	ActivityTV       = "tv"
	ActivityDownload = "download"
	ActivityError    = "error"
	ActivitySuccess  = "success"
)
