package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config holds the externally configured surface of the client: where the
// Pond API lives, where its STOMP endpoint lives, and where session state is
// persisted between runs. Defaults target a local development backend.
type Config struct {
	// APIBaseURL is the HTTP base of the Pond backend. ENV: POND_API_URL
	APIBaseURL string `env:"POND_API_URL,default=http://localhost:8080"`
	// WSURL is the websocket endpoint negotiated for STOMP. ENV: POND_WS_URL
	WSURL string `env:"POND_WS_URL,default=ws://localhost:8080/ws"`
	// SessionDBPath is the SQLite file holding the persisted session.
	// Empty means a per-user default under the OS config directory.
	// ENV: POND_SESSION_DB
	SessionDBPath string `env:"POND_SESSION_DB"`
	// ReconnectDelay is the fixed delay between websocket reconnect
	// attempts. ENV: POND_RECONNECT_DELAY
	ReconnectDelay time.Duration `env:"POND_RECONNECT_DELAY,default=5s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := validateURL(cfg.APIBaseURL, "http", "https"); err != nil {
		return nil, fmt.Errorf("POND_API_URL: %w", err)
	}
	if err := validateURL(cfg.WSURL, "ws", "wss"); err != nil {
		return nil, fmt.Errorf("POND_WS_URL: %w", err)
	}
	if cfg.ReconnectDelay <= 0 {
		return nil, fmt.Errorf("POND_RECONNECT_DELAY must be positive, got %s", cfg.ReconnectDelay)
	}

	if cfg.SessionDBPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config directory for session store: %w", err)
		}
		cfg.SessionDBPath = filepath.Join(dir, "pond", "session.db")
	}

	return &cfg, nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("URL %q must use one of %v", raw, schemes)
}
