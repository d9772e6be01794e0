package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != defaultPort {
		t.Fatalf("port = %d, want %d", cfg.Port, defaultPort)
	}
	if cfg.IdleTimeout != defaultIdleTimeout {
		t.Fatalf("idle timeout = %v, want %v", cfg.IdleTimeout, defaultIdleTimeout)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codebox.yaml")
	if err := os.WriteFile(path, []byte("port: 9999\napi_key: from-yaml\n"), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("CODEBOX_API_KEY", "from-env")
	t.Setenv("CODEBOX_PORT", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9999 {
		t.Fatalf("port = %d, want yaml value 9999", cfg.Port)
	}
	if cfg.APIKey != "from-env" {
		t.Fatalf("api_key = %q, want env override", cfg.APIKey)
	}
}

func TestIdleTimeoutNoneDisables(t *testing.T) {
	t.Setenv("CODEBOX_TIMEOUT", "none")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Disabled() {
		t.Fatalf("expected idle timeout disabled")
	}
}
