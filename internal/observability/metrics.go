// Package observability provides the Prometheus registry of eqroute and
// the HTTP endpoint that serves it.
package observability

import (
	"fmt"
	stdlog "log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/eqroute/internal/errors"
	"github.com/tphakala/eqroute/internal/events"
	"github.com/tphakala/eqroute/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry      *prometheus.Registry
	Session       *metrics.SessionMetrics
	Pipeline      *metrics.PipelineMetrics
	MQTT          *metrics.MQTTMetrics
	notifications *prometheus.CounterVec
	errors        *prometheus.CounterVec
}

// NewMetrics creates a registry with the runtime collectors and every
// eqroute collector registered on it.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sessionMetrics, err := metrics.NewSessionMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create session metrics: %w", err)
	}

	pipelineMetrics, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT metrics: %w", err)
	}

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eqroute_notifications_total",
		Help: "Total number of session notifications by kind",
	}, []string{"kind"})
	if err := registry.Register(notifications); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}

	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eqroute_errors_total",
		Help: "Total number of built errors by component and category",
	}, []string{"component", "category"})
	if err := registry.Register(errorsTotal); err != nil {
		return nil, fmt.Errorf("failed to register error metrics: %w", err)
	}

	return &Metrics{
		registry:      registry,
		Session:       sessionMetrics,
		Pipeline:      pipelineMetrics,
		MQTT:          mqttMetrics,
		notifications: notifications,
		errors:        errorsTotal,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// NotificationConsumer returns a bus consumer that counts notifications.
func (m *Metrics) NotificationConsumer() events.Consumer {
	return events.ConsumerFunc{
		ConsumerName: "metrics",
		Fn: func(n events.Notification) error {
			m.notifications.WithLabelValues(string(n.Kind)).Inc()
			return nil
		},
	}
}

// ErrorHook returns a hook for errors.AddErrorHook that counts every
// built error.
func (m *Metrics) ErrorHook() errors.ErrorHook {
	return func(ee *errors.EnhancedError) {
		m.errors.WithLabelValues(ee.GetComponent(), ee.GetCategory()).Inc()
	}
}

// StatsProvider exposes bus statistics.
type StatsProvider interface {
	GetStats() events.Stats
}

// RegisterBusStats exports the notification bus counters.
func (m *Metrics) RegisterBusStats(bus StatsProvider) error {
	counter := func(name, help string, value func(events.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "eqroute_events_" + name,
			Help: help,
		}, func() float64 { return float64(value(bus.GetStats())) })
	}
	for _, c := range []prometheus.Collector{
		counter("received_total", "Notifications accepted by the bus", func(s events.Stats) uint64 { return s.EventsReceived }),
		counter("processed_total", "Notifications delivered to consumers", func(s events.Stats) uint64 { return s.EventsProcessed }),
		counter("dropped_total", "Notifications dropped on a full queue", func(s events.Stats) uint64 { return s.EventsDropped }),
		counter("consumer_errors_total", "Consumer errors", func(s events.Stats) uint64 { return s.ConsumerErrors }),
	} {
		if err := m.registry.Register(c); err != nil {
			return fmt.Errorf("failed to register bus metrics: %w", err)
		}
	}
	return nil
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      stdlog.New(os.Stderr, "metrics handler: ", stdlog.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
}
