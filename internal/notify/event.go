package notify

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/extendspider-console/internal/spider"
)

// Kind names an outbound notification.
type Kind string

// Supported notification kinds.
const (
	KindSave      Kind = "save"
	KindSwitch    Kind = "switch"
	KindClose     Kind = "close"
	KindRefreshed Kind = "refreshed"
)

// Event is one notification toward the host.
type Event struct {
	// ID correlates the event with the operation that produced it.
	ID string `json:"id"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Kind selects how sinks treat the event.
	Kind Kind `json:"kind"`
	// Config is the full configuration snapshot carried by save events.
	Config *spider.GlobalConfig `json:"config,omitempty"`
	// Note lets emitters attach low-volume context (e.g. an error text).
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindSave:
		if e.Config == nil {
			return errors.New("save requires a config snapshot")
		}
	case KindSwitch, KindClose, KindRefreshed:
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	return nil
}
