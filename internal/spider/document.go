package spider

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is a persisted configuration as the host stored it. Keys missing
// from the stored JSON stay nil so Merge can tell "absent" from "zero".
type Document struct {
	Enabled  *bool    `json:"enabled,omitempty"`
	Cron     *string  `json:"cron,omitempty"`
	OnlyOnce *bool    `json:"onlyonce,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Spiders  *Units   `json:"spider_config,omitempty"`
}

// ParseDocument decodes a persisted document. Empty input and JSON null yield
// a nil document.
func ParseDocument(data []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("parse persisted config: %w", err)
	}
	return &doc, nil
}

// DefaultConfig returns the document used when nothing has been persisted.
func DefaultConfig(reg *Registry) GlobalConfig {
	return GlobalConfig{
		Enabled:  false,
		Cron:     DefaultCron,
		OnlyOnce: false,
		Tags:     []string{},
		Spiders:  reg.Units(),
	}
}

// Merge overlays doc on the defaults. Top-level keys present in doc win.
// Spider records are merged per whole record: registry names come first in
// registry order, persisted-only names follow in their persisted order, and a
// persisted record replaces the default record entirely.
func Merge(doc *Document, reg *Registry) GlobalConfig {
	cfg := DefaultConfig(reg)
	if doc == nil {
		return cfg
	}
	if doc.Enabled != nil {
		cfg.Enabled = *doc.Enabled
	}
	if doc.Cron != nil {
		cfg.Cron = *doc.Cron
	}
	if doc.OnlyOnce != nil {
		cfg.OnlyOnce = *doc.OnlyOnce
	}
	if doc.Tags != nil {
		cfg.Tags = cloneStrings(doc.Tags)
	}
	if doc.Spiders != nil {
		for _, name := range doc.Spiders.Names() {
			rec, _ := doc.Spiders.Get(name)
			cfg.Spiders.Set(name, rec)
		}
	}
	return cfg
}
