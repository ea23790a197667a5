package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func TestLoadDefaultsWhenNoConfigFileOrFlags(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DashboardURL == "" || cfg.CallbackBase == "" {
		t.Fatalf("expected non-empty defaults, got %+v", cfg)
	}
	if cfg.AuditDBPath != filepath.Clean(cfg.StateDir+"/traffic.db") && cfg.AuditDBPath != cfg.StateDir+"/traffic.db" {
		t.Fatalf("expected audit db path derived from state dir, got %q", cfg.AuditDBPath)
	}
}

func TestLoadFlagOverridesDefault(t *testing.T) {
	dir := t.TempDir()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String(KeyDashboardURL, "", "")
	flags.Set(KeyDashboardURL, "http://operator.example:9000")

	cfg, err := Load(dir, flags)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DashboardURL != "http://operator.example:9000" {
		t.Fatalf("expected flag to override default, got %q", cfg.DashboardURL)
	}
}
