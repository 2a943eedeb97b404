package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// readiness tracks the dependencies /ready reports on. MQTT and Postgres
// may be marked optional, in which case their absence does not fail the
// check.
var readiness = &readinessState{}

type readinessState struct {
	mu                sync.RWMutex
	orchestratorReady bool
	mqttConnected     bool
	mqttOptional      bool
	postgresConnected bool
	postgresOptional  bool
}

// SetOrchestratorReady records whether the viewer has rendered its first
// frame.
func SetOrchestratorReady(ready bool) {
	readiness.mu.Lock()
	readiness.orchestratorReady = ready
	readiness.mu.Unlock()
}

// SetMQTTState records the broker connection state.
func SetMQTTState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.mqttConnected = connected
	readiness.mqttOptional = optional
	readiness.mu.Unlock()
}

// SetPostgresState records the event store connection state.
func SetPostgresState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.postgresConnected = connected
	readiness.postgresOptional = optional
	readiness.mu.Unlock()
}

type ReadinessCheck struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
}

type ReadinessResponse struct {
	Ready       bool                      `json:"ready"`
	Checks      map[string]ReadinessCheck `json:"checks"`
	NotReadyMsg string                    `json:"message,omitempty"`
}

func dependencyCheck(connected, optional bool) (ReadinessCheck, bool) {
	switch {
	case connected:
		return ReadinessCheck{Status: "ok", Optional: optional}, true
	case optional:
		return ReadinessCheck{Status: "unavailable", Optional: true}, true
	default:
		return ReadinessCheck{Status: "not_connected"}, false
	}
}

func readyHandler(w http.ResponseWriter, r *http.Request) {
	readiness.mu.RLock()
	orchestratorReady := readiness.orchestratorReady
	mqttConnected, mqttOptional := readiness.mqttConnected, readiness.mqttOptional
	pgConnected, pgOptional := readiness.postgresConnected, readiness.postgresOptional
	readiness.mu.RUnlock()

	resp := ReadinessResponse{Ready: true, Checks: make(map[string]ReadinessCheck)}
	var reasons []string

	if orchestratorReady {
		resp.Checks["orchestrator"] = ReadinessCheck{Status: "ok"}
	} else {
		resp.Checks["orchestrator"] = ReadinessCheck{Status: "not_ready"}
		reasons = append(reasons, "viewer has not rendered its first frame")
	}

	check, ok := dependencyCheck(mqttConnected, mqttOptional)
	resp.Checks["mqtt"] = check
	if !ok {
		reasons = append(reasons, "mqtt broker not connected")
	}

	check, ok = dependencyCheck(pgConnected, pgOptional)
	resp.Checks["postgres"] = check
	if !ok {
		reasons = append(reasons, "postgres not connected")
	}

	w.Header().Set("Content-Type", "application/json")
	if len(reasons) > 0 {
		resp.Ready = false
		resp.NotReadyMsg = strings.Join(reasons, "; ")
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
