// Package config loads the gateway's settings: an optional codebox.yaml file
// overridden by environment variables, generalizing the teacher's
// user/project settings merge (internal/config.Manager) to a file/env merge
// where env always wins, per the broker's environment-variable-driven
// configuration surface.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway's resolved configuration.
type Config struct {
	APIKey      string        `yaml:"api_key,omitempty"`
	FactoryID   string        `yaml:"factory_id,omitempty"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	Port        int           `yaml:"port,omitempty"`
	WorkdirBase string        `yaml:"workdir_base,omitempty"`
	IdleTimeout time.Duration `yaml:"-"`
	// IdleTimeoutRaw preserves "none" as written, distinct from a zero
	// duration, so Load doesn't have to guess the caller's intent.
	IdleTimeoutRaw string `yaml:"idle_timeout,omitempty"`
}

const (
	defaultPort        = 8080
	defaultWorkdirBase = "./.codebox"
	defaultIdleTimeout = 15 * time.Minute
)

func defaults() Config {
	return Config{
		Port:           defaultPort,
		WorkdirBase:    defaultWorkdirBase,
		IdleTimeout:    defaultIdleTimeout,
		IdleTimeoutRaw: "15",
	}
}

// Load reads yamlPath (if it exists) and then applies CODEBOX_* environment
// variables over it, env always winning. A missing yaml file is not an
// error — the teacher's loadConfig tolerates the same for settings.json.
func Load(yamlPath string) (Config, error) {
	cfg := defaults()

	if data, err := os.ReadFile(yamlPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}

	if v := os.Getenv("CODEBOX_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("CODEBOX_FACTORY_ID"); v != "" {
		cfg.FactoryID = v
	}
	if v := os.Getenv("CODEBOX_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("CODEBOX_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("CODEBOX_TIMEOUT"); v != "" {
		cfg.IdleTimeoutRaw = v
	}

	d, err := parseIdleTimeout(cfg.IdleTimeoutRaw)
	if err != nil {
		return Config{}, err
	}
	cfg.IdleTimeout = d

	return cfg, nil
}

// parseIdleTimeout interprets CODEBOX_TIMEOUT's contract: "none" disables
// the idle loop (represented as 0 with IdleTimeoutRaw=="none"); otherwise
// the value is minutes.
func parseIdleTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultIdleTimeout, nil
	}
	if strings.EqualFold(raw, "none") {
		return 0, nil
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	return time.Duration(minutes) * time.Minute, nil
}

// Disabled reports whether the idle-shutdown loop should not run.
func (c Config) Disabled() bool {
	return strings.EqualFold(strings.TrimSpace(c.IdleTimeoutRaw), "none")
}

// DefaultYAMLPath returns the conventional codebox.yaml location next to the
// working directory base, mirroring the teacher's settings.json convention.
func DefaultYAMLPath(dir string) string {
	return filepath.Join(dir, "codebox.yaml")
}
