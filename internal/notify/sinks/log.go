package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/extendspider-console/internal/notify"
)

// LogSink emits one structured log line per notification.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []notify.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("id", evt.ID),
			zap.String("kind", string(evt.Kind)),
			zap.Time("ts", evt.TS),
		}
		if evt.Config != nil {
			fields = append(fields,
				zap.Int("units", evt.Config.Spiders.Len()),
				zap.Bool("enabled", evt.Config.Enabled),
				zap.String("cron", evt.Config.Cron),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("console notification", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
