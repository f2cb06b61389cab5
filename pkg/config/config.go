package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"
)

// Defaults mirror the web client's cadence and page sizes.
const (
	defaultActiveInterval     = 2500 * time.Millisecond
	defaultBackgroundInterval = 9 * time.Second
	defaultRequestTimeout     = 15 * time.Second
	defaultPushFlushRPS       = 2
	defaultPushFlushBurst     = 4
	defaultDegradedAfter      = 3
	defaultPageSize           = 100
	defaultSeekLimit          = 60
	defaultStoreBackend       = "pebble"
	defaultStorePath          = "./.gpsync"
	defaultRedisAddr          = "127.0.0.1:6379"
	defaultRedisPrefix        = "gpsync:"
	defaultMaxValueSize       = 8 * 1024 * 1024 // 8 MiB
	defaultLogLevel           = "info"
	defaultMetricsAddress     = "127.0.0.1:9464"
	defaultServerAddress      = "127.0.0.1:8000"
	defaultServerMaxDelta     = 200
	defaultEndpoint           = "http://" + defaultServerAddress + "/api"
)

// LoadConfigFile reads and parses a config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ValidateConfig fills in missing defaults and returns an error if any
// configuration value is invalid.
func (c *Config) ValidateConfig() error {
	s := &c.Sync
	if s.Endpoint == "" {
		s.Endpoint = defaultEndpoint
	}
	if u, err := url.Parse(s.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid sync.endpoint %q: expected an absolute http(s) URL", s.Endpoint)
	}
	if s.ActiveInterval <= 0 {
		s.ActiveInterval = Duration(defaultActiveInterval)
	}
	if s.BackgroundInterval <= 0 {
		s.BackgroundInterval = Duration(defaultBackgroundInterval)
	}
	if s.BackgroundInterval < s.ActiveInterval {
		return fmt.Errorf("sync.background_interval (%s) must not be shorter than sync.active_interval (%s)",
			s.BackgroundInterval.Duration(), s.ActiveInterval.Duration())
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = Duration(defaultRequestTimeout)
	}
	if s.PushFlushRPS <= 0 {
		s.PushFlushRPS = defaultPushFlushRPS
	}
	if s.PushFlushBurst <= 0 {
		s.PushFlushBurst = defaultPushFlushBurst
	}
	if s.DegradedAfter <= 0 {
		s.DegradedAfter = defaultDegradedAfter
	}
	if s.ReconcileCron != "" && !gronx.New().IsValid(s.ReconcileCron) {
		return fmt.Errorf("invalid sync.reconcile_cron: not a valid cron expression")
	}

	if c.Hydration.PageSize <= 0 {
		c.Hydration.PageSize = defaultPageSize
	}
	if c.Hydration.SeekLimit <= 0 {
		c.Hydration.SeekLimit = defaultSeekLimit
	}
	if c.Hydration.PageSize > 500 || c.Hydration.SeekLimit > 500 {
		return fmt.Errorf("hydration page sizes are capped at 500 by the server")
	}

	st := &c.Store
	st.Backend = strings.ToLower(strings.TrimSpace(st.Backend))
	if st.Backend == "" {
		st.Backend = defaultStoreBackend
	}
	switch st.Backend {
	case "pebble":
		if st.Path == "" {
			st.Path = defaultStorePath
		}
	case "redis":
		if st.RedisAddr == "" {
			st.RedisAddr = defaultRedisAddr
		}
		if st.RedisPrefix == "" {
			st.RedisPrefix = defaultRedisPrefix
		}
	case "memory":
	default:
		return fmt.Errorf("invalid store.backend %q: expected pebble, redis or memory", st.Backend)
	}
	if st.MaxValueSize <= 0 {
		st.MaxValueSize = SizeBytes(defaultMaxValueSize)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = defaultMetricsAddress
	}
	if c.Server.Address == "" {
		c.Server.Address = defaultServerAddress
	}
	if c.Server.MaxDelta <= 0 {
		c.Server.MaxDelta = defaultServerMaxDelta
	}
	return nil
}
