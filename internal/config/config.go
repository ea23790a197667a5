// Package config loads sentinel's runtime configuration with the precedence
// spec §6 requires: flag > environment variable > on-disk config file >
// hardcoded default. Grounded on the teacher's options.go WithConfigDir,
// generalized from Viper's own "marasi_config" single-purpose file into the
// two documented keys (dashboard_url, callback_base) plus the operational
// settings (listen address, state dir) this repo's ambient stack needs.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	KeyDashboardURL   = "dashboard_url"
	KeyCallbackBase   = "callback_base"
	KeyListenAddr     = "listen_addr"
	KeyStateDir       = "state_dir"
	KeyAuditDBPath    = "audit_db_path"
	KeyRequestLogPath = "request_log_path"
)

// Config is the resolved, precedence-applied configuration.
type Config struct {
	DashboardURL   string
	CallbackBase   string
	ListenAddr     string
	StateDir       string
	AuditDBPath    string
	RequestLogPath string
}

// Load builds a *viper.Viper layering defaults, the yaml config file
// marasi_sentinel_config in configDir (written with the defaults when it does
// not exist yet), then environment variables (SENTINEL_ prefix), then
// explicit CLI flags —
// exactly the precedence order named in spec §6, expressed as Viper's own
// "last writer wins" layering (flags are bound last so they win).
func Load(configDir string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault(KeyDashboardURL, "http://127.0.0.1:8090")
	v.SetDefault(KeyCallbackBase, "http://127.0.0.1:8091/callback")
	v.SetDefault(KeyListenAddr, "127.0.0.1:8080")
	v.SetDefault(KeyStateDir, defaultStateDir(configDir))
	v.SetDefault(KeyAuditDBPath, "")
	v.SetDefault(KeyRequestLogPath, "")

	v.SetConfigName("marasi_sentinel_config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := os.MkdirAll(configDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating config dir %s: %w", configDir, err)
		}
		if err := v.SafeWriteConfig(); err != nil {
			return nil, fmt.Errorf("writing default config file: %w", err)
		}
	}

	v.SetEnvPrefix("SENTINEL")
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("binding flags: %w", err)
		}
	}

	cfg := &Config{
		DashboardURL:   v.GetString(KeyDashboardURL),
		CallbackBase:   v.GetString(KeyCallbackBase),
		ListenAddr:     v.GetString(KeyListenAddr),
		StateDir:       v.GetString(KeyStateDir),
		AuditDBPath:    v.GetString(KeyAuditDBPath),
		RequestLogPath: v.GetString(KeyRequestLogPath),
	}
	if cfg.AuditDBPath == "" {
		cfg.AuditDBPath = cfg.StateDir + "/traffic.db"
	}
	if cfg.RequestLogPath == "" {
		cfg.RequestLogPath = cfg.StateDir + "/requests.log"
	}
	return cfg, nil
}

func defaultStateDir(configDir string) string {
	return configDir + "/logs"
}
