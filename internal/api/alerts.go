package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Alert severity levels
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Alert event types
const (
	AlertMQTTDisconnected    = "mqtt_disconnected"
	AlertPostgresUnavailable = "postgres_unavailable"
	AlertTransitionStalled   = "transition_stalled"
)

// AlertPayload is the JSON structure sent to the webhook.
type AlertPayload struct {
	ViewerName string                 `json:"viewer_name"`
	Event      string                 `json:"event"`
	Timestamp  string                 `json:"timestamp"`
	Severity   string                 `json:"severity"`
	Message    string                 `json:"message,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// AlertConfig holds alert configuration.
type AlertConfig struct {
	WebhookURL              string
	MQTTDisconnectDelay     time.Duration // How long MQTT must be disconnected before alerting
	PostgresDisconnectDelay time.Duration // How long Postgres must be disconnected before alerting
}

// outageTracker raises one alert per outage once it has lasted long enough,
// and a recovery notice when it ends.
type outageTracker struct {
	event     string
	severity  string
	message   string
	since     time.Time
	alertSent bool
	connected bool
}

var (
	alertConfig = &AlertConfig{
		MQTTDisconnectDelay:     30 * time.Second,
		PostgresDisconnectDelay: 5 * time.Second,
	}
	alertMu sync.Mutex

	mqttOutage     = &outageTracker{event: AlertMQTTDisconnected, severity: SeverityWarning, message: "MQTT broker disconnected", connected: true}
	postgresOutage = &outageTracker{event: AlertPostgresUnavailable, severity: SeverityCritical, message: "PostgreSQL unavailable", connected: true}

	alertMonitorInitialized bool

	// sendAlert is replaced in tests.
	sendAlert = SendAlert
)

// InitAlerts reads VIEWER_ALERT_WEBHOOK_URL, VIEWER_MQTT_ALERT_DELAY and
// VIEWER_POSTGRES_ALERT_DELAY.
func InitAlerts() {
	alertMu.Lock()
	defer alertMu.Unlock()

	alertConfig.WebhookURL = os.Getenv("VIEWER_ALERT_WEBHOOK_URL")

	if delayStr := os.Getenv("VIEWER_MQTT_ALERT_DELAY"); delayStr != "" {
		if d, err := time.ParseDuration(delayStr); err == nil {
			alertConfig.MQTTDisconnectDelay = d
		}
	}
	if delayStr := os.Getenv("VIEWER_POSTGRES_ALERT_DELAY"); delayStr != "" {
		if d, err := time.ParseDuration(delayStr); err == nil {
			alertConfig.PostgresDisconnectDelay = d
		}
	}

	if alertConfig.WebhookURL != "" {
		log.Info().
			Dur("mqtt_delay", alertConfig.MQTTDisconnectDelay).
			Dur("pg_delay", alertConfig.PostgresDisconnectDelay).
			Msg("alerts enabled")
	}

	*mqttOutage = outageTracker{event: mqttOutage.event, severity: mqttOutage.severity, message: mqttOutage.message, connected: true}
	*postgresOutage = outageTracker{event: postgresOutage.event, severity: postgresOutage.severity, message: postgresOutage.message, connected: true}
	alertMonitorInitialized = true
}

// GetAlertWebhookURL returns the configured webhook URL.
func GetAlertWebhookURL() string {
	alertMu.Lock()
	defer alertMu.Unlock()
	return alertConfig.WebhookURL
}

// SendAlert posts an alert to the configured webhook in the background, or
// logs it when no webhook is set.
func SendAlert(event, severity, message string, details map[string]interface{}) {
	alertMu.Lock()
	webhookURL := alertConfig.WebhookURL
	alertMu.Unlock()

	if webhookURL == "" {
		log.Warn().Str("alert", event).Str("severity", severity).Interface("details", details).Msg(message)
		return
	}

	viewerName := GetViewerName()
	if viewerName == "" {
		viewerName = "unknown"
	}

	payload := AlertPayload{
		ViewerName: viewerName,
		Event:      event,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Severity:   severity,
		Message:    message,
		Details:    details,
	}

	go sendWebhook(webhookURL, payload)
}

func sendWebhook(url string, payload AlertPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("alert: failed to marshal payload")
		return
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Msg("alert: webhook POST failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Error().Int("status", resp.StatusCode).Msg("alert: webhook rejected alert")
	}
}

// AlertStalled reports a transition the watchdog caught.
func AlertStalled(sceneID, state string, forced bool) {
	sendAlert(AlertTransitionStalled, SeverityWarning, "scene transition stalled", map[string]interface{}{
		"scene_id": sceneID,
		"state":    state,
		"forced":   forced,
	})
}

// check must be called with alertMu held.
func (o *outageTracker) check(connected bool, delay time.Duration, now time.Time) {
	if connected {
		if !o.connected && o.alertSent {
			go sendAlert(o.event, SeverityInfo, o.message+" (recovered)", map[string]interface{}{
				"recovered_at": now.UTC().Format(time.RFC3339),
			})
		}
		o.since = time.Time{}
		o.alertSent = false
		o.connected = true
		return
	}

	if o.connected {
		o.since = now
	}
	o.connected = false

	if !o.alertSent && !o.since.IsZero() {
		down := now.Sub(o.since)
		if down >= delay {
			o.alertSent = true
			go sendAlert(o.event, o.severity, o.message, map[string]interface{}{
				"disconnected_since":   o.since.UTC().Format(time.RFC3339),
				"disconnected_seconds": int(down.Seconds()),
			})
		}
	}
}

// CheckAndAlertMQTT records the broker state and alerts once an outage has
// lasted longer than the configured delay.
func CheckAndAlertMQTT(connected bool) {
	checkAndAlertAt(mqttOutage, connected, time.Now())
}

// CheckAndAlertPostgres is CheckAndAlertMQTT for the event store.
func CheckAndAlertPostgres(connected bool) {
	checkAndAlertAt(postgresOutage, connected, time.Now())
}

func checkAndAlertAt(o *outageTracker, connected bool, now time.Time) {
	alertMu.Lock()
	defer alertMu.Unlock()

	if !alertMonitorInitialized {
		return
	}
	delay := alertConfig.MQTTDisconnectDelay
	if o == postgresOutage {
		delay = alertConfig.PostgresDisconnectDelay
	}
	o.check(connected, delay, now)
}

// RunAlertMonitor checks connection states every interval until ctx is
// cancelled.
func RunAlertMonitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			readiness.mu.RLock()
			mqttConnected, mqttOptional := readiness.mqttConnected, readiness.mqttOptional
			postgresConnected, postgresOptional := readiness.postgresConnected, readiness.postgresOptional
			readiness.mu.RUnlock()

			if !mqttOptional {
				CheckAndAlertMQTT(mqttConnected)
			}
			if !postgresOptional {
				CheckAndAlertPostgres(postgresConnected)
			}
		}
	}
}
