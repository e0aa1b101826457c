// Package metrics provides Prometheus instrumentation for the moderation
// service: pipeline verdicts, emitted moderation events, report session
// lifecycle, and failures of the stores and delivery sinks.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesTotal counts inbound messages by pipeline result:
	// "clean", "flagged", "exempt", "universal", or "invalid".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modguard_messages_total",
		Help: "Total number of inbound messages processed by the antispam pipeline",
	}, []string{"result"})

	// ModEventsTotal counts emitted moderation events by kind and source.
	ModEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modguard_modevents_total",
		Help: "Total number of moderation events emitted",
	}, []string{"kind", "source"})

	// ModerationLatency records how long the pipeline took per message.
	ModerationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "modguard_moderation_latency_seconds",
		Help:    "Antispam pipeline latency in seconds",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// TrustErrors counts trust lookups that failed and were treated as
	// untrusted.
	TrustErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "modguard_trust_errors_total",
		Help: "Trust provider failures (member treated as untrusted)",
	})

	// StoreErrors counts state store failures, labeled by store.
	StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modguard_store_errors_total",
		Help: "State store failures",
	}, []string{"store"})

	// DeliveryFailures counts failed side-effect deliveries, labeled by sink:
	// "notice", "webhook", "archive", or "executor".
	DeliveryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modguard_delivery_failures_total",
		Help: "Failed deliveries of notices, webhooks, archive rows and events",
	}, []string{"sink"})

	// ActiveReports tracks open report sessions.
	ActiveReports = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "modguard_active_reports",
		Help: "Current number of open report sessions",
	})

	// ReportsTotal counts finished report sessions by outcome:
	// "submitted", "cancelled", or "expired".
	ReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "modguard_reports_total",
		Help: "Report sessions that reached a terminal state",
	}, []string{"outcome"})

	// ConsoleConnections tracks open moderator console connections.
	ConsoleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "modguard_console_connections",
		Help: "Current number of moderator console WebSocket connections",
	})
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		ModEventsTotal,
		ModerationLatency,
		TrustErrors,
		StoreErrors,
		DeliveryFailures,
		ActiveReports,
		ReportsTotal,
		ConsoleConnections,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
