package spider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// DefaultCron is the schedule used when the persisted document carries none.
const DefaultCron = "0 0 */24 * *"

// ProxyType selects how a spider reaches its site.
type ProxyType string

// Supported proxy types.
const (
	ProxyPlaywright ProxyType = "playwright"
	ProxyRequests   ProxyType = "requests"
)

// Record is the configuration of one spider. Field names on the wire follow
// the plugin's persisted document.
type Record struct {
	Name             string    `json:"spider_name"`
	Enabled          bool      `json:"spider_enable"`
	UseProxy         bool      `json:"spider_proxy"`
	BypassProtection *bool     `json:"pass_cloud_flare,omitempty"`
	ProxyType        ProxyType `json:"proxy_type,omitempty"`
	Description      string    `json:"spider_desc"`
	Tags             []string  `json:"spider_tags,omitempty"`
	Username         *string   `json:"spider_username,omitempty"`
	Password         *string   `json:"spider_password,omitempty"`

	// Extra holds keys this package does not model so they survive a
	// decode/encode round trip untouched.
	Extra map[string]json.RawMessage `json:"-"`
}

var recordKeys = map[string]struct{}{
	"spider_name":      {},
	"spider_enable":    {},
	"spider_proxy":     {},
	"pass_cloud_flare": {},
	"proxy_type":       {},
	"spider_desc":      {},
	"spider_tags":      {},
	"spider_username":  {},
	"spider_password":  {},
}

// Valid reports whether p is a known proxy type. The empty value means the
// spider does not choose one.
func (p ProxyType) Valid() bool {
	switch p {
	case "", ProxyPlaywright, ProxyRequests:
		return true
	default:
		return false
	}
}

// Validate reports whether the record carries the required fields and a
// known proxy type.
func (r Record) Validate() error {
	if r.Name == "" {
		return &ValidationError{Unit: r.Name, Field: "spider_name", Reason: "is required"}
	}
	if r.Description == "" {
		return &ValidationError{Unit: r.Name, Field: "spider_desc", Reason: "is required"}
	}
	if !r.ProxyType.Valid() {
		return &ValidationError{
			Unit:   r.Name,
			Field:  "proxy_type",
			Reason: fmt.Sprintf("must be %q or %q", ProxyPlaywright, ProxyRequests),
		}
	}
	return nil
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	cp := r
	cp.Tags = cloneStrings(r.Tags)
	if r.BypassProtection != nil {
		v := *r.BypassProtection
		cp.BypassProtection = &v
	}
	if r.Username != nil {
		v := *r.Username
		cp.Username = &v
	}
	if r.Password != nil {
		v := *r.Password
		cp.Password = &v
	}
	if r.Extra != nil {
		cp.Extra = make(map[string]json.RawMessage, len(r.Extra))
		for k, v := range r.Extra {
			cp.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return cp
}

// MarshalJSON encodes the modelled fields in declaration order followed by any
// extra keys in lexical order.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	base, err := json.Marshal(plain(r))
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	if len(r.Extra) == 0 {
		return base, nil
	}
	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(base[:len(base)-1])
	for _, k := range keys {
		key, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal record key: %w", err)
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		if err := json.Compact(&buf, r.Extra[k]); err != nil {
			return nil, fmt.Errorf("marshal record field %s: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes the modelled fields and keeps the rest in Extra.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err //nolint:wrapcheck // keep the decoder's syntax error intact
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err //nolint:wrapcheck // see above
	}
	for k, v := range raw {
		if _, known := recordKeys[k]; known {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]json.RawMessage)
		}
		p.Extra[k] = v
	}
	*r = Record(p)
	return nil
}

// Units is an insertion-ordered mapping from spider name to Record. The zero
// value is not usable; construct with NewUnits. A nil *Units reads as empty.
type Units struct {
	order []string
	items map[string]Record
}

// NewUnits returns an empty mapping.
func NewUnits() *Units {
	return &Units{items: make(map[string]Record)}
}

// Len returns the number of units.
func (u *Units) Len() int {
	if u == nil {
		return 0
	}
	return len(u.order)
}

// Names returns the unit names in insertion order.
func (u *Units) Names() []string {
	if u == nil {
		return nil
	}
	return cloneStrings(u.order)
}

// Has reports whether name is present.
func (u *Units) Has(name string) bool {
	if u == nil {
		return false
	}
	_, ok := u.items[name]
	return ok
}

// Get returns a copy of the named record.
func (u *Units) Get(name string) (Record, bool) {
	if u == nil {
		return Record{}, false
	}
	rec, ok := u.items[name]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Set stores a copy of rec under name. New names are appended to the order;
// existing names keep their position.
func (u *Units) Set(name string, rec Record) {
	if _, ok := u.items[name]; !ok {
		u.order = append(u.order, name)
	}
	u.items[name] = rec.Clone()
}

// Clone returns a deep copy.
func (u *Units) Clone() *Units {
	out := NewUnits()
	if u == nil {
		return out
	}
	for _, name := range u.order {
		out.Set(name, u.items[name])
	}
	return out
}

// MarshalJSON encodes the mapping as an object in insertion order.
func (u *Units) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if u != nil {
		for i, name := range u.order {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(name)
			if err != nil {
				return nil, fmt.Errorf("marshal unit name: %w", err)
			}
			val, err := json.Marshal(u.items[name])
			if err != nil {
				return nil, fmt.Errorf("marshal unit %s: %w", name, err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object, keeping the key order of the document.
func (u *Units) UnmarshalJSON(data []byte) error {
	fresh := NewUnits()
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode units: %w", err)
	}
	if tok == nil {
		*u = *fresh
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decode units: expected object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode units: %w", err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("decode units: unexpected key %v", keyTok)
		}
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return fmt.Errorf("decode unit %s: %w", name, err)
		}
		fresh.Set(name, rec)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode units: %w", err)
	}
	*u = *fresh
	return nil
}

// GlobalConfig is the whole plugin configuration document.
type GlobalConfig struct {
	Enabled  bool     `json:"enabled"`
	Cron     string   `json:"cron"`
	OnlyOnce bool     `json:"onlyonce"`
	Tags     []string `json:"tags"`
	Spiders  *Units   `json:"spider_config"`
}

// Clone returns a deep copy of the document.
func (c GlobalConfig) Clone() GlobalConfig {
	cp := c
	cp.Tags = cloneStrings(c.Tags)
	if cp.Tags == nil {
		cp.Tags = []string{}
	}
	cp.Spiders = c.Spiders.Clone()
	return cp
}

// EncodeRecord renders a record as the canonical two-space indented JSON text
// used by the per-unit editors.
func EncodeRecord(rec Record) (string, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode record %s: %w", rec.Name, err)
	}
	return string(data), nil
}

func cloneStrings(src []string) []string {
	if src == nil {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}
