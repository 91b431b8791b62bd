// Package backend is a reference implementation of the plugin API: it keeps
// each plugin's configuration document in a ConfigRepository and answers the
// toggle, reset, tag, status and history operations the console calls.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	guuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/extendspider-console/internal/clock/system"
	"github.com/JakeFAU/extendspider-console/internal/id/uuid"
	"github.com/JakeFAU/extendspider-console/internal/metrics"
	"github.com/JakeFAU/extendspider-console/internal/spider"
	"github.com/JakeFAU/extendspider-console/internal/store"
)

// ActivityTimeLayout formats activity timestamps for the feed.
const ActivityTimeLayout = "2006-01-02 15:04:05"

// Status labels.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// RawIDGenerator produces entry IDs for the activity feed.
type RawIDGenerator interface {
	NewRawID() (guuid.UUID, error)
}

// Option customizes a Service.
type Option func(*Service)

// WithRegistry replaces the built-in registry.
func WithRegistry(reg *spider.Registry) Option {
	return func(s *Service) { s.registry = reg }
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock sets the clock used for persistence and activity timestamps.
func WithClock(clock spider.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithIDGenerator sets the activity ID generator.
func WithIDGenerator(ids RawIDGenerator) Option {
	return func(s *Service) { s.ids = ids }
}

// WithActivityLimit sets the default history length.
func WithActivityLimit(limit int) Option {
	return func(s *Service) { s.activityLimit = limit }
}

// Service implements the plugin operations over a ConfigRepository.
type Service struct {
	repo          store.ConfigRepository
	registry      *spider.Registry
	logger        *zap.Logger
	clock         spider.Clock
	ids           RawIDGenerator
	activityLimit int

	// mu serializes read-modify-write cycles on documents.
	mu sync.Mutex
}

// New builds a Service.
func New(repo store.ConfigRepository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("backend: config repository is required")
	}
	s := &Service{
		repo:          repo,
		registry:      spider.DefaultRegistry(),
		logger:        zap.NewNop(),
		clock:         system.New(),
		ids:           uuid.New(),
		activityLimit: store.DefaultActivityLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("backend")
	return s, nil
}

// Config returns the plugin's configuration merged over the registry.
func (s *Service) Config(ctx context.Context, plugin string) (spider.GlobalConfig, error) {
	return s.load(ctx, plugin)
}

// PutConfig replaces the plugin's stored configuration.
func (s *Service) PutConfig(ctx context.Context, plugin string, cfg spider.GlobalConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Spiders == nil {
		cfg.Spiders = spider.NewUnits()
	}
	for _, name := range cfg.Spiders.Names() {
		rec, _ := cfg.Spiders.Get(name)
		if err := rec.Validate(); err != nil {
			return err
		}
	}
	if err := s.persist(ctx, plugin, cfg); err != nil {
		return err
	}
	s.record(ctx, plugin, spider.ActivitySuccess, "configuration saved")
	return nil
}

// Toggle flips a spider's enabled flag.
func (s *Service) Toggle(ctx context.Context, plugin, name string) (spider.Result, error) {
	return s.mutate(ctx, plugin, spider.OpToggle, func(cfg *spider.GlobalConfig) (string, error) {
		rec, ok := cfg.Spiders.Get(name)
		if !ok {
			return "", unknown(name)
		}
		rec.Enabled = !rec.Enabled
		cfg.Spiders.Set(name, rec)
		state := "disabled"
		if rec.Enabled {
			state = "enabled"
		}
		return fmt.Sprintf("%s %s", name, state), nil
	})
}

// Reset restores one spider's registry definition.
func (s *Service) Reset(ctx context.Context, plugin, name string) (spider.Result, error) {
	return s.mutate(ctx, plugin, spider.OpReset, func(cfg *spider.GlobalConfig) (string, error) {
		if !cfg.Spiders.Has(name) {
			return "", unknown(name)
		}
		def, ok := s.registry.Lookup(name)
		if !ok {
			return "", rejectf("%s has no default configuration", name)
		}
		cfg.Spiders.Set(name, def)
		return name + " reset to defaults", nil
	})
}

// ResetAll restores every spider to the registry, dropping custom spiders.
func (s *Service) ResetAll(ctx context.Context, plugin string) (spider.Result, error) {
	return s.mutate(ctx, plugin, spider.OpResetAll, func(cfg *spider.GlobalConfig) (string, error) {
		cfg.Spiders = s.registry.Units()
		return "all spiders reset to defaults", nil
	})
}

// AddTag appends tag to a spider's tags. Duplicates are kept.
func (s *Service) AddTag(ctx context.Context, plugin, name, tag string) (spider.Result, error) {
	return s.mutate(ctx, plugin, spider.OpAddTag, func(cfg *spider.GlobalConfig) (string, error) {
		if tag == "" {
			return "", rejectf("tag is required")
		}
		rec, ok := cfg.Spiders.Get(name)
		if !ok {
			return "", unknown(name)
		}
		rec.Tags = append(rec.Tags, tag)
		cfg.Spiders.Set(name, rec)
		return fmt.Sprintf("tag %s added to %s", tag, name), nil
	})
}

// RemoveTag removes the first occurrence of tag from a spider's tags.
func (s *Service) RemoveTag(ctx context.Context, plugin, name, tag string) (spider.Result, error) {
	return s.mutate(ctx, plugin, spider.OpRemove, func(cfg *spider.GlobalConfig) (string, error) {
		rec, ok := cfg.Spiders.Get(name)
		if !ok {
			return "", unknown(name)
		}
		for i, t := range rec.Tags {
			if t == tag {
				rec.Tags = append(rec.Tags[:i], rec.Tags[i+1:]...)
				cfg.Spiders.Set(name, rec)
				return fmt.Sprintf("tag %s removed from %s", tag, name), nil
			}
		}
		return "", rejectf("%s has no tag %s", name, tag)
	})
}

// Status aggregates the plugin's spider counts and distinct tags.
func (s *Service) Status(ctx context.Context, plugin string) (spider.Status, error) {
	cfg, err := s.load(ctx, plugin)
	if err != nil {
		return spider.Status{}, err
	}
	st := spider.Status{Tags: []string{}, Status: StatusStopped}
	if cfg.Enabled {
		st.Status = StatusRunning
	}
	seen := make(map[string]struct{})
	for _, name := range cfg.Spiders.Names() {
		rec, _ := cfg.Spiders.Get(name)
		st.Total++
		if rec.Enabled {
			st.Enabled++
		} else {
			st.Disabled++
		}
		for _, tag := range rec.Tags {
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			st.Tags = append(st.Tags, tag)
		}
	}
	return st, nil
}

// History returns up to limit recent activity entries, newest first. A
// non-positive limit uses the configured default.
func (s *Service) History(ctx context.Context, plugin string, limit int) ([]spider.Activity, error) {
	if limit <= 0 {
		limit = s.activityLimit
	}
	entries, err := s.repo.ListActivity(ctx, plugin, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	items := make([]spider.Activity, 0, len(entries))
	for _, e := range entries {
		items = append(items, spider.Activity{
			Type:  e.Kind,
			Title: e.Title,
			Time:  e.At.Format(ActivityTimeLayout),
		})
	}
	return items, nil
}

// rejection is a business-rule failure reported as success=false.
type rejection struct{ msg string }

func (r *rejection) Error() string { return r.msg }

func rejectf(format string, args ...any) error {
	return &rejection{msg: fmt.Sprintf(format, args...)}
}

func unknown(name string) error {
	return rejectf("unknown spider %s", name)
}

// mutate runs fn against the current document and persists the result. A
// rejection from fn becomes a success=false Result; other errors are returned.
func (s *Service) mutate(
	ctx context.Context,
	plugin, op string,
	fn func(*spider.GlobalConfig) (string, error),
) (spider.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.load(ctx, plugin)
	if err != nil {
		metrics.ObserveBackendOp(op, false)
		return spider.Result{}, err
	}
	title, err := fn(&cfg)
	var rej *rejection
	if errors.As(err, &rej) {
		metrics.ObserveBackendOp(op, false)
		s.logger.Info("operation rejected", zap.String("plugin", plugin), zap.String("op", op), zap.String("reason", rej.msg))
		s.record(ctx, plugin, spider.ActivityError, rej.msg)
		return spider.Result{Success: false, Message: rej.msg}, nil
	}
	if err != nil {
		metrics.ObserveBackendOp(op, false)
		return spider.Result{}, err
	}
	if err := s.persist(ctx, plugin, cfg); err != nil {
		metrics.ObserveBackendOp(op, false)
		return spider.Result{}, err
	}
	metrics.ObserveBackendOp(op, true)
	s.logger.Info("operation applied", zap.String("plugin", plugin), zap.String("op", op), zap.String("title", title))
	s.record(ctx, plugin, spider.ActivitySuccess, title)
	return spider.Result{Success: true, Message: title}, nil
}

func (s *Service) load(ctx context.Context, plugin string) (spider.GlobalConfig, error) {
	raw, err := s.repo.LoadDocument(ctx, plugin)
	if errors.Is(err, store.ErrNotFound) {
		return spider.DefaultConfig(s.registry), nil
	}
	if err != nil {
		return spider.GlobalConfig{}, fmt.Errorf("load %s config: %w", plugin, err)
	}
	doc, err := spider.ParseDocument(raw)
	if err != nil {
		return spider.GlobalConfig{}, err
	}
	return spider.Merge(doc, s.registry), nil
}

func (s *Service) persist(ctx context.Context, plugin string, cfg spider.GlobalConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode %s config: %w", plugin, err)
	}
	if err := s.repo.SaveDocument(ctx, plugin, data, s.clock.Now()); err != nil {
		return fmt.Errorf("save %s config: %w", plugin, err)
	}
	return nil
}

// record appends to the activity feed. Failures are logged, not returned.
func (s *Service) record(ctx context.Context, plugin, kind, title string) {
	id, err := s.ids.NewRawID()
	if err != nil {
		s.logger.Warn("generate activity id", zap.Error(err))
		return
	}
	entry := store.ActivityEntry{ID: id, Plugin: plugin, Kind: kind, Title: title, At: s.clock.Now()}
	if err := s.repo.AppendActivity(ctx, entry); err != nil {
		s.logger.Warn("append activity", zap.String("plugin", plugin), zap.Error(err))
	}
}

// Ready reports whether the repository answers. Repositories without a Ping
// method are always ready.
func (s *Service) Ready(ctx context.Context) error {
	pinger, ok := s.repo.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pinger.Ping(ctx); err != nil {
		return fmt.Errorf("repository not ready: %w", err)
	}
	return nil
}
