package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/extendspider-console/internal/notify"
)

// PrometheusSink counts notifications and exposes the shape of the last saved
// configuration.
type PrometheusSink struct {
	notifications *prometheus.CounterVec
	savedUnits    prometheus.Gauge
	savedEnabled  prometheus.Gauge
	lastSave      prometheus.Gauge
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spider_console_notifications_total",
			Help: "Notifications delivered to sinks partitioned by kind.",
		}, []string{"kind"}),
		savedUnits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spider_console_saved_units",
			Help: "Number of spiders in the most recently saved configuration.",
		}),
		savedEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spider_console_saved_enabled_units",
			Help: "Number of enabled spiders in the most recently saved configuration.",
		}),
		lastSave: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spider_console_last_save_timestamp_seconds",
			Help: "Unix time of the most recent save notification.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.notifications,
		s.savedUnits,
		s.savedEnabled,
		s.lastSave,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register notification collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []notify.Event) error {
	for _, evt := range batch {
		s.notifications.WithLabelValues(string(evt.Kind)).Inc()
		if evt.Kind == notify.KindSave && evt.Config != nil {
			s.observeSave(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) observeSave(evt notify.Event) {
	units := evt.Config.Spiders
	enabled := 0
	for _, name := range units.Names() {
		if rec, ok := units.Get(name); ok && rec.Enabled {
			enabled++
		}
	}
	s.savedUnits.Set(float64(units.Len()))
	s.savedEnabled.Set(float64(enabled))
	s.lastSave.Set(float64(evt.TS.Unix()))
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

