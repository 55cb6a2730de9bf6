package gateway

import (
	"fmt"
	"time"
)

// Config holds YAML configuration for the gateway.bridge module.
type Config struct {
	// Bind is the TCP address for the raw bridge listener.
	Bind string `yaml:"bind"`
	// HTTPBind is the address for the HTTP surface (health, status,
	// metrics, websocket nodes). Empty disables it.
	HTTPBind string `yaml:"http_bind"`

	ServerName    string `yaml:"server_name"`
	CanvasHostURL string `yaml:"canvas_host_url"`

	// Tokens are the accepted node tokens. Tokens issued through pairing
	// are added to the accepted set at runtime.
	Tokens []string `yaml:"tokens"`
	// AllowPairing permits nodes without a token to request one.
	AllowPairing bool `yaml:"allow_pairing"`

	// EventBuffer caps the node event feed. Zero means the default.
	EventBuffer int `yaml:"event_buffer"`

	HelloTimeout  string `yaml:"hello_timeout"`
	PingInterval  string `yaml:"ping_interval"`
	InvokeTimeout string `yaml:"invoke_timeout"`
	// StaleAfter is how long a silent node survives before the sweep
	// disconnects it.
	StaleAfter string `yaml:"stale_after"`

	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// defaults fills zero values with sensible defaults.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:18790"
	}
	if c.ServerName == "" {
		c.ServerName = "clawbridge"
	}
	if c.HelloTimeout == "" {
		c.HelloTimeout = "10s"
	}
	if c.PingInterval == "" {
		c.PingInterval = "30s"
	}
	if c.InvokeTimeout == "" {
		c.InvokeTimeout = "30s"
	}
	if c.StaleAfter == "" {
		c.StaleAfter = "90s"
	}
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "5s"
	}
}

type timings struct {
	helloTimeout    time.Duration
	pingInterval    time.Duration
	invokeTimeout   time.Duration
	staleAfter      time.Duration
	shutdownTimeout time.Duration
}

func (c *Config) parseTimings() (timings, error) {
	var t timings
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"hello_timeout", c.HelloTimeout, &t.helloTimeout},
		{"ping_interval", c.PingInterval, &t.pingInterval},
		{"invoke_timeout", c.InvokeTimeout, &t.invokeTimeout},
		{"stale_after", c.StaleAfter, &t.staleAfter},
		{"shutdown_timeout", c.ShutdownTimeout, &t.shutdownTimeout},
	} {
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return t, fmt.Errorf("gateway: invalid %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return t, nil
}
