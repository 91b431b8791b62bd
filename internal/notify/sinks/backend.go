package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/extendspider-console/internal/notify"
	"github.com/JakeFAU/extendspider-console/internal/spider"
)

// DocumentWriter replaces a remote document with body.
type DocumentWriter interface {
	Put(ctx context.Context, path string, body any) (json.RawMessage, error)
}

// BackendSink writes every saved configuration back to the plugin backend so
// the backend's document matches what the console saved.
type BackendSink struct {
	writer    DocumentWriter
	endpoints spider.Endpoints
	logger    *zap.Logger
}

// NewBackendSink constructs a BackendSink writing to the plugin's config
// endpoint.
func NewBackendSink(writer DocumentWriter, endpoints spider.Endpoints, logger *zap.Logger) *BackendSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackendSink{writer: writer, endpoints: endpoints, logger: logger}
}

// Consume writes the configuration of the last save event in the batch;
// earlier saves are superseded by it. Other kinds are ignored.
func (s *BackendSink) Consume(ctx context.Context, batch []notify.Event) error {
	if s == nil || s.writer == nil {
		return nil
	}
	var last *notify.Event
	for i := range batch {
		if batch[i].Kind == notify.KindSave && batch[i].Config != nil {
			last = &batch[i]
		}
	}
	if last == nil {
		return nil
	}
	path := s.endpoints.Path(spider.OpConfig)
	if _, err := s.writer.Put(ctx, path, last.Config); err != nil {
		return fmt.Errorf("write config %s to backend: %w", last.ID, err)
	}
	s.logger.Info("configuration written to backend", zap.String("path", path), zap.String("id", last.ID))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *BackendSink) Close(context.Context) error {
	return nil
}
