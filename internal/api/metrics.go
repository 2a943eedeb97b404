package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/AaronLay10/SentientViewer/internal/events"
	"github.com/AaronLay10/SentientViewer/internal/orchestrator"
	"github.com/AaronLay10/SentientViewer/internal/version"
)

var metricsState = &MetricsState{}

// MetricsState holds process-level values for the /metrics endpoint.
type MetricsState struct {
	mu         sync.RWMutex
	startTime  time.Time
	viewerName string
}

// InitMetrics records the process start. Must be called at startup.
func InitMetrics() {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.startTime = time.Now()
}

// SetViewerName sets the viewer label used in metrics and alerts.
func SetViewerName(name string) {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.viewerName = name
}

// GetViewerName returns the viewer label.
func GetViewerName() string {
	metricsState.mu.RLock()
	defer metricsState.mu.RUnlock()
	return metricsState.viewerName
}

var allStates = []orchestrator.State{
	orchestrator.StateIdle,
	orchestrator.StateAnimatedEntering,
	orchestrator.StateApplying,
	orchestrator.StateAnimatedExiting,
	orchestrator.StateBypassPending,
	orchestrator.StateBypassSettling,
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

// metricsHandler returns Prometheus-compatible metrics in text format.
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	metricsState.mu.RLock()
	startTime := metricsState.startTime
	viewerName := metricsState.viewerName
	metricsState.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	st, statusErr := s.ctrl.Status(ctx)

	readiness.mu.RLock()
	mqttConnected := readiness.mqttConnected
	postgresConnected := readiness.postgresConnected
	readiness.mu.RUnlock()

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeMetric := func(name, mtype, help string, value interface{}, labels string) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		fmt.Fprintf(w, "%s{%s} %v\n", name, labels, value)
	}

	labels := fmt.Sprintf(`viewer="%s",instance="%s",version="%s"`, viewerName, hostname, version.Version)

	writeMetric("viewer_uptime_seconds", "gauge",
		"Number of seconds since the viewer started", time.Since(startTime).Seconds(), labels)
	writeMetric("viewer_events_total", "counter",
		"Total number of events emitted since startup", events.TotalCount(), labels)
	writeMetric("viewer_mqtt_connected", "gauge",
		"Whether the MQTT broker is connected (1) or not (0)", boolGauge(mqttConnected), labels)
	writeMetric("viewer_postgres_connected", "gauge",
		"Whether PostgreSQL is connected (1) or not (0)", boolGauge(postgresConnected), labels)
	writeMetric("viewer_ws_clients", "gauge",
		"Number of live event subscribers", events.SubscriberCount(), labels)

	if statusErr != nil {
		return
	}

	writeMetric("viewer_ready", "gauge",
		"Whether the first frame has been rendered (1) or not (0)", boolGauge(st.Ready), labels)
	writeMetric("viewer_transitions_started_total", "counter",
		"Transitions started since startup", st.Started, labels)
	writeMetric("viewer_transitions_total", "counter",
		"Transitions completed since startup", st.Completed, labels)
	writeMetric("viewer_queue_length", "gauge",
		"Scene changes waiting behind the current transition", len(st.Queue), labels)
	writeMetric("viewer_cooldown_active", "gauge",
		"Whether the cooldown window is open (1) or not (0)", boolGauge(st.CooldownActive), labels)

	fmt.Fprintf(w, "# HELP viewer_state Current transition state (1 for the active state)\n")
	fmt.Fprintf(w, "# TYPE viewer_state gauge\n")
	for _, state := range allStates {
		fmt.Fprintf(w, "viewer_state{%s,state=\"%s\"} %d\n", labels, state, boolGauge(st.State == state))
	}
}
