// Package app assembles the console from configuration: API client,
// notification hub and sinks, snapshot storage, the configuration state
// manager and the status view.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/extendspider-console/internal/client"
	"github.com/JakeFAU/extendspider-console/internal/config"
	"github.com/JakeFAU/extendspider-console/internal/configstate"
	"github.com/JakeFAU/extendspider-console/internal/notify"
	"github.com/JakeFAU/extendspider-console/internal/notify/sinks"
	"github.com/JakeFAU/extendspider-console/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/extendspider-console/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/extendspider-console/internal/publisher/pubsub"
	"github.com/JakeFAU/extendspider-console/internal/spider"
	"github.com/JakeFAU/extendspider-console/internal/statusview"
	"github.com/JakeFAU/extendspider-console/internal/storage"
	"github.com/JakeFAU/extendspider-console/internal/store"
)

// ErrInvalidCron is reported by ValidateCron.
var ErrInvalidCron = errors.New("cron must have five fields")

// Option overrides a dependency BuildConsole would otherwise construct.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	client     spider.Client
	blobs      store.BlobStore
	publisher  sinks.Publisher
}

// WithRegisterer sets the registry notification metrics are registered on.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithClient replaces the HTTP API client.
func WithClient(c spider.Client) Option {
	return func(o *options) { o.client = c }
}

// WithBlobStore replaces the configured snapshot store.
func WithBlobStore(blobs store.BlobStore) Option {
	return func(o *options) { o.blobs = blobs }
}

// WithPublisher replaces the notification publisher.
func WithPublisher(p sinks.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// Console holds the long-lived console services.
type Console struct {
	Manager *configstate.Manager
	View    *statusview.View

	logger  *zap.Logger
	hub     *notify.Hub
	blobs   store.BlobStore
	closers []func() error
}

// BuildConsole wires a Console from cfg. The initial configuration is the
// backend's document, or the latest snapshot in the blob store when the
// backend is unreachable; neither means defaults. Saves are written to both.
func BuildConsole(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*Console, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Console{logger: logger}

	apiClient := o.client
	if apiClient == nil {
		httpClient, err := client.New(client.Config{
			BaseURL: cfg.Backend.BaseURL,
			APIKey:  cfg.Backend.APIKey,
			Timeout: cfg.BackendTimeout(),
			RateLimiter: ratelimit.New(ratelimit.Config{
				DefaultRPS:   cfg.Backend.RateLimitRPS,
				DefaultBurst: cfg.Backend.RateLimitBurst,
			}),
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("api client init failed: %w", err)
		}
		apiClient = httpClient
	}

	c.blobs = o.blobs
	if c.blobs == nil {
		blobs, closeBlobs, err := storage.Open(ctx, storage.Config{
			Backend: cfg.Storage.Backend,
			Bucket:  cfg.Storage.Bucket,
			BaseDir: cfg.Storage.BaseDir,
		}, logger.Named("storage"))
		if err != nil {
			return nil, err
		}
		c.blobs = blobs
		c.closers = append(c.closers, closeBlobs)
	}

	publisher, err := c.setupPublisher(ctx, cfg, o.publisher)
	if err != nil {
		c.closeAll()
		return nil, err
	}

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		c.closeAll()
		return nil, err
	}
	endpoints := spider.Endpoints{Plugin: cfg.Backend.Plugin}
	hubSinks := []notify.Sink{
		sinks.NewLogSink(logger.Named("notify_log")),
		promSink,
	}
	if writer, ok := apiClient.(sinks.DocumentWriter); ok {
		hubSinks = append(hubSinks, sinks.NewBackendSink(writer, endpoints, logger.Named("backend_sink")))
	}
	hubSinks = append(hubSinks,
		sinks.NewSnapshotSink(c.blobs, cfg.Storage.Prefix, logger.Named("snapshot")),
		sinks.NewPublisherSink(publisher, cfg.PubSub.TopicName, logger.Named("publisher")),
	)
	c.hub = notify.NewHub(notify.Config{
		BufferSize:     cfg.Notify.BufferSize,
		MaxBatchEvents: cfg.Notify.MaxBatchEvents,
		MaxBatchWait:   cfg.MaxBatchWait(),
		SinkTimeout:    cfg.SinkTimeout(),
		Logger:         logger.Named("notify_hub"),
	}, hubSinks...)

	initial, source, err := c.loadInitial(ctx, apiClient, endpoints, cfg.Storage.Prefix)
	if err != nil {
		_ = c.hub.Close(ctx)
		c.closeAll()
		return nil, err
	}

	c.Manager, err = configstate.New(apiClient, initial,
		configstate.WithEmitter(c.hub),
		configstate.WithEndpoints(endpoints),
		configstate.WithLogger(logger),
	)
	if err != nil {
		c.closeAll()
		return nil, fmt.Errorf("config state init failed: %w", err)
	}
	c.View, err = statusview.New(apiClient,
		statusview.WithEmitter(c.hub),
		statusview.WithEndpoints(endpoints),
		statusview.WithLogger(logger),
	)
	if err != nil {
		c.closeAll()
		return nil, fmt.Errorf("status view init failed: %w", err)
	}
	c.Manager.SetFormValid(ValidateCron(c.Manager.Snapshot().Cron) == nil)

	logger.Info("console ready",
		zap.String("backend", cfg.Backend.BaseURL),
		zap.String("plugin", endpoints.Plugin),
		zap.String("initial_config", source),
	)
	return c, nil
}

func (c *Console) setupPublisher(ctx context.Context, cfg config.Config, override sinks.Publisher) (sinks.Publisher, error) {
	if override != nil {
		return override, nil
	}
	if cfg.PubSub.ProjectID == "" {
		c.logger.Debug("no Pub/Sub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	publisher, err := gcppublisher.Open(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	c.closers = append(c.closers, publisher.Close)
	c.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.PubSub.ProjectID),
		zap.String("topic", cfg.PubSub.TopicName),
	)
	return publisher, nil
}

// loadInitial prefers the backend's document, which toggles are applied to,
// and falls back to the latest snapshot when the backend cannot be reached.
func (c *Console) loadInitial(
	ctx context.Context,
	apiClient spider.Client,
	endpoints spider.Endpoints,
	prefix string,
) (*spider.Document, string, error) {
	doc, err := LoadRemote(ctx, apiClient, endpoints)
	if err == nil {
		return doc, "backend", nil
	}
	var transport *spider.TransportError
	if !errors.As(err, &transport) {
		return nil, "", err
	}
	c.logger.Warn("backend configuration unavailable, using latest snapshot", zap.Error(err))
	doc, err = LoadInitial(ctx, c.blobs, prefix)
	if err != nil {
		return nil, "", err
	}
	if doc == nil {
		return nil, "defaults", nil
	}
	return doc, "snapshot", nil
}

// LoadRemote reads the plugin's current document from the backend. A failed
// call is a *spider.TransportError.
func LoadRemote(ctx context.Context, apiClient spider.Client, endpoints spider.Endpoints) (*spider.Document, error) {
	raw, err := apiClient.Get(ctx, endpoints.Path(spider.OpConfig))
	if err != nil {
		var transport *spider.TransportError
		if errors.As(err, &transport) {
			return nil, err
		}
		return nil, &spider.TransportError{Op: spider.OpConfig, Err: err}
	}
	doc, err := spider.ParseDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("decode backend configuration: %w", err)
	}
	return doc, nil
}

// LoadInitial reads the latest snapshot under prefix. It returns nil when no
// snapshot exists.
func LoadInitial(ctx context.Context, blobs store.BlobStore, prefix string) (*spider.Document, error) {
	data, err := blobs.GetObject(ctx, sinks.LatestPath(prefix))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest snapshot: %w", err)
	}
	return spider.ParseDocument(data)
}

// ValidateCron checks that expr is a five-field cron expression.
func ValidateCron(expr string) error {
	if len(strings.Fields(expr)) != 5 {
		return fmt.Errorf("%w: %q", ErrInvalidCron, expr)
	}
	return nil
}

// UpdateGlobals applies fn to the global settings and revalidates the form.
func (c *Console) UpdateGlobals(fn func(*spider.GlobalConfig)) error {
	c.Manager.UpdateGlobals(fn)
	err := ValidateCron(c.Manager.Snapshot().Cron)
	c.Manager.SetFormValid(err == nil)
	return err
}

// Close emits the close notification, drains the hub and releases storage
// and publisher clients.
func (c *Console) Close(ctx context.Context) error {
	var errs []error
	if c.Manager != nil {
		if err := c.Manager.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.hub != nil {
		if err := c.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("notification hub close failed: %w", err))
		}
	}
	if err := c.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Console) closeAll() error {
	var errs []error
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			c.logger.Warn("close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
