package config

import "time"

// Config holds runtime settings for the Saytro chat client.
//
// Fields:
//   - BackendURL: base URL of the hosted backend (auth, REST, RPC).
//   - AnonKey: public API key sent with every backend request.
//   - RealtimeURL: websocket endpoint of the change-feed; derived from
//     BackendURL when empty.
//   - BeaconURL: relay endpoint for the best-effort offline beacon sent
//     on teardown; derived from BackendURL when empty.
//   - StorageBucket / S3*: object-storage settings for avatar uploads.
//   - RefreshInterval: directory polling period.
//   - PresenceDebounce: quiet window for presence updates.
//   - RequestTimeout: per-call deadline for backend requests.
//
// Units: all intervals are time.Duration values.
type Config struct {
	BackendURL  string
	AnonKey     string
	RealtimeURL string
	BeaconURL   string

	StorageBucket  string
	S3BaseEndpoint string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string

	RefreshInterval  time.Duration
	PresenceDebounce time.Duration
	RequestTimeout   time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.BackendURL = "http://127.0.0.1:8000"
	c.StorageBucket = "avatars"
	c.S3Region = "us-east-1"
	c.RefreshInterval = 10 * time.Second
	c.PresenceDebounce = 500 * time.Millisecond
	c.RequestTimeout = 12 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present). Later
// sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	cfg.applyDerived()
	return cfg
}

// applyDerived fills endpoints that default to paths under BackendURL.
func (c *Config) applyDerived() {
	if c.RealtimeURL == "" {
		c.RealtimeURL = httpToWs(c.BackendURL) + "/realtime/v1/websocket"
	}
	if c.BeaconURL == "" {
		c.BeaconURL = c.BackendURL + "/relay/user-status"
	}
}

func httpToWs(u string) string {
	switch {
	case len(u) >= 8 && u[:8] == "https://":
		return "wss://" + u[8:]
	case len(u) >= 7 && u[:7] == "http://":
		return "ws://" + u[7:]
	default:
		return u
	}
}
