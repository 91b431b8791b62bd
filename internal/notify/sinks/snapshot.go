package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/extendspider-console/internal/notify"
)

// LatestObject is the object name, relative to the prefix, that always holds
// the most recently saved configuration.
const LatestObject = "latest.json"

const snapshotTimeLayout = "20060102T150405Z"

// ObjectWriter stores an object and returns its URI.
type ObjectWriter interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// SnapshotSink persists save notifications. Every save is written twice: an
// immutable <prefix>/<timestamp>-<id>.json history object and
// <prefix>/latest.json.
type SnapshotSink struct {
	store  ObjectWriter
	prefix string
	logger *zap.Logger
}

// NewSnapshotSink constructs a SnapshotSink writing under prefix.
func NewSnapshotSink(store ObjectWriter, prefix string, logger *zap.Logger) *SnapshotSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotSink{store: store, prefix: prefix, logger: logger}
}

// LatestPath returns the object path of the latest snapshot under prefix.
func LatestPath(prefix string) string {
	return path.Join(prefix, LatestObject)
}

// Consume writes the snapshots carried by save events; other kinds are
// ignored.
func (s *SnapshotSink) Consume(ctx context.Context, batch []notify.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Kind != notify.KindSave || evt.Config == nil {
			continue
		}
		if err := s.write(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SnapshotSink) write(ctx context.Context, evt notify.Event) error {
	data, err := json.MarshalIndent(evt.Config, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", evt.ID, err)
	}
	id := evt.ID
	if id == "" {
		id = "snapshot"
	}
	historyPath := path.Join(s.prefix, fmt.Sprintf("%s-%s.json", evt.TS.UTC().Format(snapshotTimeLayout), id))
	uri, err := s.store.PutObject(ctx, historyPath, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", historyPath, err)
	}
	if _, err := s.store.PutObject(ctx, LatestPath(s.prefix), "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write latest snapshot: %w", err)
	}
	s.logger.Info("configuration snapshot stored", zap.String("uri", uri), zap.String("id", evt.ID))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}
