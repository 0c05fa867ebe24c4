package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"responder/internal/logger"
)

var (
	// EventsConsumed counts events popped from the intake queue.
	EventsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "responder_events_consumed_total",
		Help: "Security events consumed from the intake queue.",
	})

	// EventsRejected counts events the analyzer rejected as invalid.
	EventsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "responder_events_rejected_total",
		Help: "Security events rejected as invalid.",
	})

	// IncidentsCreated counts new incidents per type.
	IncidentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "responder_incidents_created_total",
		Help: "Incidents created, by incident type.",
	}, []string{"type"})

	// IncidentsMerged counts events correlated into open incidents per type.
	IncidentsMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "responder_incidents_merged_total",
		Help: "Events merged into open incidents, by incident type.",
	}, []string{"type"})

	// EscalationsFired counts escalation timer activations that acted.
	EscalationsFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "responder_escalations_fired_total",
		Help: "Escalation deadlines that fired on an unattended incident.",
	})

	// ActionsRequested counts containment actions handed to the actuator.
	ActionsRequested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "responder_actions_requested_total",
		Help: "Containment actions requested from the actuator.",
	})

	// ActionsFailed counts containment actions that came back failed.
	ActionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "responder_actions_failed_total",
		Help: "Containment actions reported or marked failed.",
	})

	// OpenIncidents tracks the current number of open incidents.
	OpenIncidents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "responder_open_incidents",
		Help: "Currently open incidents.",
	})
)

// Serve exposes /metrics on addr in a background goroutine and returns the
// server for shutdown.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Metrics server error: %v", err)
		}
	}()
	return srv
}
