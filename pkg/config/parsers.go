package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// Flags carries the command-line values that override config and env.
type Flags struct {
	Config   string
	Endpoint string
	Store    string
	// Set records which flags were given explicitly.
	Set map[string]bool
}

// EffectiveConfigResult is the merged configuration and where it came from.
type EffectiveConfigResult struct {
	Config *Config
	Source string // "defaults", "config", "env" or "flags"
}

const defaultConfigPath = "./gpsync.yaml"

// ParseConfigFile loads the config file named by flags. A missing file is
// only an error when the path was given explicitly.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	path := flags.Config
	if path == "" {
		path = defaultConfigPath
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !flags.Set["config"] {
			return &Config{}, false, nil
		}
		return nil, false, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, true, nil
}

// ParseConfigEnvs applies GPSYNC_* environment overrides onto cfg and
// reports whether any were set.
func ParseConfigEnvs(cfg *Config) (bool, error) {
	envs := map[string]string{
		"ENDPOINT":            os.Getenv("GPSYNC_ENDPOINT"),
		"DEVICE_ID":           os.Getenv("GPSYNC_DEVICE_ID"),
		"ACTIVE_INTERVAL":     os.Getenv("GPSYNC_ACTIVE_INTERVAL"),
		"BACKGROUND_INTERVAL": os.Getenv("GPSYNC_BACKGROUND_INTERVAL"),
		"REQUEST_TIMEOUT":     os.Getenv("GPSYNC_REQUEST_TIMEOUT"),
		"DEGRADED_AFTER":      os.Getenv("GPSYNC_DEGRADED_AFTER"),
		"RECONCILE_CRON":      os.Getenv("GPSYNC_RECONCILE_CRON"),

		"STORE_BACKEND":        os.Getenv("GPSYNC_STORE_BACKEND"),
		"STORE_PATH":           os.Getenv("GPSYNC_STORE_PATH"),
		"REDIS_ADDR":           os.Getenv("GPSYNC_REDIS_ADDR"),
		"REDIS_PASSWORD":       os.Getenv("GPSYNC_REDIS_PASSWORD"),
		"REDIS_DB":             os.Getenv("GPSYNC_REDIS_DB"),
		"STORE_MAX_VALUE_SIZE": os.Getenv("GPSYNC_STORE_MAX_VALUE_SIZE"),

		"LOG_LEVEL":       os.Getenv("GPSYNC_LOG_LEVEL"),
		"METRICS_ENABLED": os.Getenv("GPSYNC_METRICS_ENABLED"),
		"METRICS_ADDRESS": os.Getenv("GPSYNC_METRICS_ADDRESS"),
		"SERVER_ADDRESS":  os.Getenv("GPSYNC_SERVER_ADDRESS"),
	}

	used := false
	for _, v := range envs {
		if v != "" {
			used = true
			break
		}
	}
	if !used {
		return false, nil
	}

	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(envs[key]); v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *Duration) error {
		if v := envs[key]; v != "" {
			d, err := ParseDuration(v)
			if err != nil {
				return fmt.Errorf("GPSYNC_%s: %w", key, err)
			}
			*dst = d
		}
		return nil
	}
	setInt := func(key string, dst *int) error {
		if v := strings.TrimSpace(envs[key]); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("GPSYNC_%s: %w", key, err)
			}
			*dst = i
		}
		return nil
	}

	setString("ENDPOINT", &cfg.Sync.Endpoint)
	setString("DEVICE_ID", &cfg.Sync.DeviceID)
	setString("RECONCILE_CRON", &cfg.Sync.ReconcileCron)
	setString("STORE_BACKEND", &cfg.Store.Backend)
	setString("STORE_PATH", &cfg.Store.Path)
	setString("REDIS_ADDR", &cfg.Store.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.Store.RedisPassword)
	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("METRICS_ADDRESS", &cfg.Metrics.Address)
	setString("SERVER_ADDRESS", &cfg.Server.Address)

	for _, d := range []struct {
		key string
		dst *Duration
	}{
		{"ACTIVE_INTERVAL", &cfg.Sync.ActiveInterval},
		{"BACKGROUND_INTERVAL", &cfg.Sync.BackgroundInterval},
		{"REQUEST_TIMEOUT", &cfg.Sync.RequestTimeout},
	} {
		if err := setDuration(d.key, d.dst); err != nil {
			return true, err
		}
	}
	if err := setInt("DEGRADED_AFTER", &cfg.Sync.DegradedAfter); err != nil {
		return true, err
	}
	if err := setInt("REDIS_DB", &cfg.Store.RedisDB); err != nil {
		return true, err
	}
	if v := envs["STORE_MAX_VALUE_SIZE"]; v != "" {
		sz, err := ParseSize(v)
		if err != nil {
			return true, fmt.Errorf("GPSYNC_STORE_MAX_VALUE_SIZE: %w", err)
		}
		cfg.Store.MaxValueSize = sz
	}
	if v := envs["METRICS_ENABLED"]; v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return true, fmt.Errorf("GPSYNC_METRICS_ENABLED: %w", err)
		}
		cfg.Metrics.Enabled = b
	}
	return true, nil
}

// LoadEffectiveConfig merges file, environment and flags (in increasing
// precedence) and validates the result.
func LoadEffectiveConfig(flags Flags) (EffectiveConfigResult, error) {
	cfg, found, err := ParseConfigFile(flags)
	if err != nil {
		return EffectiveConfigResult{}, err
	}
	source := "defaults"
	if found {
		source = "config"
	}
	envUsed, err := ParseConfigEnvs(cfg)
	if err != nil {
		return EffectiveConfigResult{}, err
	}
	if envUsed {
		source = "env"
	}
	if flags.Set["endpoint"] && flags.Endpoint != "" {
		cfg.Sync.Endpoint = flags.Endpoint
		source = "flags"
	}
	if flags.Set["store"] && flags.Store != "" {
		cfg.Store.Backend = flags.Store
		source = "flags"
	}
	if err := cfg.ValidateConfig(); err != nil {
		return EffectiveConfigResult{}, err
	}
	return EffectiveConfigResult{Config: cfg, Source: source}, nil
}
