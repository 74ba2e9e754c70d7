package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Decode parses a config document. The format is picked from the file extension
// (.yaml/.yml → YAML, anything else → JSON). Unknown keys are rejected in both
// formats so typos surface at load/reload time instead of being silently ignored.
//
// Defaults are applied and the result is validated.
func Decode(path string, data []byte) (*Config, error) {
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := decodeYAML(data, &cfg); err != nil {
			return nil, err
		}
	default:
		if err := decodeJSON(data, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(data []byte, out *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			// empty document
			return nil
		}
		return fmt.Errorf("yaml: %w", err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("invalid config: multiple yaml documents")
		}
		return fmt.Errorf("yaml: %w", err)
	}
	return nil
}

func decodeJSON(data []byte, out *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("invalid config: trailing data")
		}
		return fmt.Errorf("json: %w", err)
	}
	return nil
}

// Validate checks cross-field constraints. It expects defaults to be applied.
func (c *Config) Validate() error {
	switch strings.ToUpper(strings.TrimSpace(c.Logging.Level)) {
	case "", "TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}

	for _, v := range c.Server.TrustedProxies {
		if err := checkProxy(v); err != nil {
			return fmt.Errorf("server.trusted_proxies: %w", err)
		}
	}

	if c.Toast.MaxVisible < 1 {
		return errors.New("toast.max_visible must be >= 1")
	}
	if c.Toast.MaxQueues < 1 {
		return errors.New("toast.max_queues must be >= 1")
	}

	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("auth.bcrypt_cost must be within [4, 31], got %d", c.Auth.BcryptCost)
	}

	if c.RateLimit.RatePerSec < 0 {
		return errors.New("rate_limit.rate_per_sec must be >= 0")
	}
	if c.RateLimit.Burst < 1 {
		return errors.New("rate_limit.burst must be >= 1")
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "memory":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return errors.New("storage.path is required when storage.driver=sqlite")
		}
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}

	if tz := strings.TrimSpace(c.Janitor.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("janitor.timezone: invalid %q: %w", tz, err)
		}
	}
	for name, spec := range c.Janitor.Jobs {
		if strings.TrimSpace(spec) == "" {
			return fmt.Errorf("janitor.jobs.%s: empty schedule", name)
		}
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path)
	}

	if c.Alerts.Enabled {
		if strings.TrimSpace(c.Alerts.Token) == "" {
			return errors.New("alerts.token is required when alerts.enabled=true")
		}
		if c.Alerts.ChatID == 0 {
			return errors.New("alerts.chat_id is required when alerts.enabled=true")
		}
	}

	if c.Pprof.Enabled {
		if _, _, err := net.SplitHostPort(c.Pprof.Addr); err != nil {
			return fmt.Errorf("pprof.addr: %w", err)
		}
	}
	return nil
}

func checkProxy(v string) error {
	v = strings.TrimSpace(v)
	if strings.Contains(v, "/") {
		_, err := netip.ParsePrefix(v)
		return err
	}
	_, err := netip.ParseAddr(v)
	return err
}
