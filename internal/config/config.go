// Package config loads viewer.yaml.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultUIPort       = 8080
	DefaultFPS          = 60
	DefaultEnterMS      = 1200
	DefaultExitMS       = 900
	DefaultPeakSettleMS = 300
	DefaultCooldownMS   = 2000
	DefaultBypassPreMS  = 150
	DefaultBypassPostMS = 250
	DefaultMQTTURL      = "tcp://127.0.0.1:1883"
	DefaultCatalogPath  = "scenes.json"
)

type ViewerConfig struct {
	Version int `yaml:"version"`
	Viewer  struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"viewer"`
	Network struct {
		UIPort int `yaml:"ui_port"`
		TLS    struct {
			Cert       string `yaml:"cert"`
			Key        string `yaml:"key"`
			MinVersion string `yaml:"min_version"`
		} `yaml:"tls"`
	} `yaml:"network"`
	MQTT struct {
		URL      string `yaml:"url"`
		ClientID string `yaml:"client_id"`
		Enabled  *bool  `yaml:"enabled"`
	} `yaml:"mqtt"`
	Scenes struct {
		Catalog string `yaml:"catalog"`
		Initial string `yaml:"initial"`
		Watch   bool   `yaml:"watch"`
	} `yaml:"scenes"`
	Render struct {
		FPS int `yaml:"fps"`
	} `yaml:"render"`
	Transition TransitionConfig `yaml:"transition"`
}

// TransitionConfig holds the transition timings in milliseconds. Nil
// pointers take the defaults, so an explicit zero is preserved.
type TransitionConfig struct {
	EnterMS           *int `yaml:"enter_ms"`
	ExitMS            *int `yaml:"exit_ms"`
	PeakSettleMS      *int `yaml:"peak_settle_ms"`
	CooldownMS        *int `yaml:"cooldown_ms"`
	BypassPreApplyMS  *int `yaml:"bypass_pre_apply_ms"`
	BypassPostApplyMS *int `yaml:"bypass_post_apply_ms"`
	WatchdogMS        int  `yaml:"watchdog_ms"`
	WatchdogForce     bool `yaml:"watchdog_force"`
}

// UIPort returns the configured UI port, defaulting to 8080 if not set.
func (c *ViewerConfig) UIPort() int {
	if c.Network.UIPort == 0 {
		return DefaultUIPort
	}
	return c.Network.UIPort
}

// TLSEnabled reports whether the API should serve TLS.
func (c *ViewerConfig) TLSEnabled() bool {
	return c.Network.TLS.Cert != "" && c.Network.TLS.Key != ""
}

// TLSMinVersion maps network.tls.min_version to a crypto/tls constant.
// Empty means TLS 1.2.
func (c *ViewerConfig) TLSMinVersion() uint16 {
	if c.Network.TLS.MinVersion == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

// FPS returns the render rate.
func (c *ViewerConfig) FPS() int {
	if c.Render.FPS <= 0 {
		return DefaultFPS
	}
	return c.Render.FPS
}

// MQTTEnabled reports whether the MQTT bridge should run. Defaults to true.
func (c *ViewerConfig) MQTTEnabled() bool {
	return c.MQTT.Enabled == nil || *c.MQTT.Enabled
}

// MQTTURL returns the broker URL.
func (c *ViewerConfig) MQTTURL() string {
	if c.MQTT.URL == "" {
		return DefaultMQTTURL
	}
	return c.MQTT.URL
}

// MQTTClientID returns the client id, derived from the viewer id if unset.
func (c *ViewerConfig) MQTTClientID() string {
	if c.MQTT.ClientID == "" {
		return "viewer-" + c.Viewer.ID
	}
	return c.MQTT.ClientID
}

// CatalogPath returns the scene catalog path.
func (c *ViewerConfig) CatalogPath() string {
	if c.Scenes.Catalog == "" {
		return DefaultCatalogPath
	}
	return c.Scenes.Catalog
}

func ms(v *int, def int) time.Duration {
	if v == nil {
		return time.Duration(def) * time.Millisecond
	}
	return time.Duration(*v) * time.Millisecond
}

func (t TransitionConfig) Enter() time.Duration      { return ms(t.EnterMS, DefaultEnterMS) }
func (t TransitionConfig) Exit() time.Duration       { return ms(t.ExitMS, DefaultExitMS) }
func (t TransitionConfig) PeakSettle() time.Duration { return ms(t.PeakSettleMS, DefaultPeakSettleMS) }
func (t TransitionConfig) Cooldown() time.Duration   { return ms(t.CooldownMS, DefaultCooldownMS) }
func (t TransitionConfig) BypassPreApply() time.Duration {
	return ms(t.BypassPreApplyMS, DefaultBypassPreMS)
}
func (t TransitionConfig) BypassPostApply() time.Duration {
	return ms(t.BypassPostApplyMS, DefaultBypassPostMS)
}
func (t TransitionConfig) Watchdog() time.Duration {
	return time.Duration(t.WatchdogMS) * time.Millisecond
}

// Validate checks the loaded values.
func (c *ViewerConfig) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported viewer.yaml version: %d", c.Version)
	}
	if c.Viewer.ID == "" {
		return errors.New("viewer.id is required")
	}
	if c.Network.UIPort < 0 || c.Network.UIPort > 65535 {
		return fmt.Errorf("network.ui_port out of range: %d", c.Network.UIPort)
	}
	if (c.Network.TLS.Cert == "") != (c.Network.TLS.Key == "") {
		return errors.New("network.tls needs both cert and key")
	}
	switch c.Network.TLS.MinVersion {
	case "", "1.2", "1.3":
	default:
		return fmt.Errorf("network.tls.min_version must be 1.2 or 1.3: %q", c.Network.TLS.MinVersion)
	}
	t := c.Transition
	for name, v := range map[string]*int{
		"enter_ms":             t.EnterMS,
		"exit_ms":              t.ExitMS,
		"peak_settle_ms":       t.PeakSettleMS,
		"cooldown_ms":          t.CooldownMS,
		"bypass_pre_apply_ms":  t.BypassPreApplyMS,
		"bypass_post_apply_ms": t.BypassPostApplyMS,
		"watchdog_ms":          &t.WatchdogMS,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("transition.%s must not be negative: %d", name, *v)
		}
	}
	return nil
}

// ApplyEnv overrides selected values from VIEWER_* environment variables.
func (c *ViewerConfig) ApplyEnv() error {
	if v := os.Getenv(EnvPrefix + "ID"); v != "" {
		c.Viewer.ID = v
	}
	if v := os.Getenv(EnvPrefix + "MQTT_URL"); v != "" {
		c.MQTT.URL = v
	}
	if v := os.Getenv(EnvPrefix + "TLS_CERT"); v != "" {
		c.Network.TLS.Cert = v
	}
	if v := os.Getenv(EnvPrefix + "TLS_KEY"); v != "" {
		c.Network.TLS.Key = v
	}
	if v := os.Getenv(EnvPrefix + "UI_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sUI_PORT: %w", EnvPrefix, err)
		}
		c.Network.UIPort = port
	}
	return nil
}

// Parse decodes and validates viewer.yaml content.
func Parse(b []byte) (*ViewerConfig, error) {
	var cfg ViewerConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func LoadViewerConfig(path string) (*ViewerConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}
