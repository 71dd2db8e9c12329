package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level gamebridge configuration, loaded from a TOML file.
type Config struct {
	Database      DatabaseConfig       `toml:"database"`
	Redis         RedisConfig          `toml:"redis"`
	RateLimit     RateLimitConfig      `toml:"rate_limit"`
	LegacyPool    LegacyPoolConfig     `toml:"legacy_pool"`
	HTTP          HTTPConfig           `toml:"http"`
	Metrics       MetricsConfig        `toml:"metrics"`
	Logging       LoggingConfig        `toml:"logging"`
	LegacyServers []LegacyServerConfig `toml:"legacy_servers"`
}

// DatabaseConfig holds configuration for the portal's own Postgres store,
// which persists account links, server configurations and the audit log.
type DatabaseConfig struct {
	Host            string `toml:"host"`
	Port            string `toml:"port"`
	User            string `toml:"user"`
	Password        string `toml:"password"`
	Name            string `toml:"name"`
	TLSMode         bool   `toml:"tls"`
	MaxConns        int    `toml:"max_conns"`
	MinConns        int    `toml:"min_conns"`
	MaxConnLifetime string `toml:"max_conn_lifetime"` // e.g. "1h"
	QueryTimeout    string `toml:"query_timeout"`     // e.g. "30s"
}

// GetMaxConnLifetime parses the max connection lifetime duration
func (d *DatabaseConfig) GetMaxConnLifetime() (time.Duration, error) {
	if d.MaxConnLifetime == "" {
		return time.Hour, nil
	}
	return time.ParseDuration(d.MaxConnLifetime)
}

// GetQueryTimeout parses the query timeout duration
func (d *DatabaseConfig) GetQueryTimeout() (time.Duration, error) {
	if d.QueryTimeout == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(d.QueryTimeout)
}

// RedisConfig holds configuration for the shared rate-limit counter backend.
// When Addr is empty the limiter runs on its in-process fallback only.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	PoolSize int    `toml:"pool_size"`
	Timeout  string `toml:"timeout"` // per-command timeout, e.g. "2s"
}

// Enabled reports whether a shared backend is configured at all.
func (r *RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// GetTimeout parses the per-command timeout duration
func (r *RedisConfig) GetTimeout() (time.Duration, error) {
	if r.Timeout == "" {
		return 2 * time.Second, nil
	}
	return time.ParseDuration(r.Timeout)
}

// RateLimitConfig holds the link-attempt rate limit policy. The defaults
// mirror the portal's historical policy of 3 attempts per 10 minutes.
type RateLimitConfig struct {
	Window        string `toml:"window"`         // e.g. "10m"
	MaxRequests   int    `toml:"max_requests"`   // attempts allowed per window
	SweepInterval string `toml:"sweep_interval"` // fallback map cleanup cadence
}

// GetWindow parses the rate limit window duration
func (r *RateLimitConfig) GetWindow() (time.Duration, error) {
	if r.Window == "" {
		return 10 * time.Minute, nil
	}
	return time.ParseDuration(r.Window)
}

// GetMaxRequests returns the per-window attempt budget
func (r *RateLimitConfig) GetMaxRequests() int {
	if r.MaxRequests <= 0 {
		return 3
	}
	return r.MaxRequests
}

// GetSweepInterval parses the fallback sweep interval
func (r *RateLimitConfig) GetSweepInterval() (time.Duration, error) {
	if r.SweepInterval == "" {
		return 5 * time.Minute, nil
	}
	return time.ParseDuration(r.SweepInterval)
}

// LegacyPoolConfig holds pool sizing for connections to legacy game
// databases. These are third-party, externally operated servers; the
// ceiling is deliberately small so one slow server cannot starve the
// service.
type LegacyPoolConfig struct {
	MaxConns       int    `toml:"max_conns"`       // default 5
	MinConns       int    `toml:"min_conns"`       // default 0
	AcquireTimeout string `toml:"acquire_timeout"` // e.g. "5s"
	QueryTimeout   string `toml:"query_timeout"`   // e.g. "5s"
}

// GetMaxConns returns the per-server connection ceiling
func (l *LegacyPoolConfig) GetMaxConns() int {
	if l.MaxConns <= 0 {
		return 5
	}
	return l.MaxConns
}

// GetAcquireTimeout parses the pool acquire timeout
func (l *LegacyPoolConfig) GetAcquireTimeout() (time.Duration, error) {
	if l.AcquireTimeout == "" {
		return 5 * time.Second, nil
	}
	return time.ParseDuration(l.AcquireTimeout)
}

// GetQueryTimeout parses the per-query timeout against a legacy database
func (l *LegacyPoolConfig) GetQueryTimeout() (time.Duration, error) {
	if l.QueryTimeout == "" {
		return 5 * time.Second, nil
	}
	return time.ParseDuration(l.QueryTimeout)
}

// HTTPConfig holds the HTTP API listener configuration.
type HTTPConfig struct {
	Addr   string `toml:"addr"`
	APIKey string `toml:"api_key"`
}

// MetricsConfig holds the Prometheus scrape endpoint configuration. The
// endpoint is disabled when Addr is empty.
type MetricsConfig struct {
	Addr string `toml:"addr"`
	Path string `toml:"path"` // default "/metrics"
}

// GetPath returns the scrape path
func (m *MetricsConfig) GetPath() string {
	if m.Path == "" {
		return "/metrics"
	}
	return m.Path
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Output string `toml:"output"` // "stdout", "stderr" or file path
	Format string `toml:"format"` // "console" or "json"
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
}

// LegacyServerConfig describes one legacy game database. Entries come from
// the administrative store in normal deployments; the TOML list and the
// SERVER{n}_* environment fallback exist for deployments without one.
type LegacyServerConfig struct {
	ID       string `toml:"id"`
	Name     string `toml:"name"`
	Region   string `toml:"region"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Database string `toml:"database"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// Validate checks that a legacy server entry is complete enough to dial.
func (s *LegacyServerConfig) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("legacy server config: id is required")
	}
	if s.Host == "" || s.Database == "" || s.User == "" {
		return fmt.Errorf("legacy server config %q: host, database and user are required", s.ID)
	}
	return nil
}

// Load reads configuration from a TOML file.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	for i := range cfg.LegacyServers {
		if err := cfg.LegacyServers[i].Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// maxEnvServers bounds the SERVER{n}_* environment fallback.
const maxEnvServers = 5

// LoadLegacyServersFromEnv reads legacy server configurations from
// SERVER1_* through SERVER5_* environment variables. Incomplete entries
// are skipped. This is a bootstrap path for deployments without the
// administrative server store.
func LoadLegacyServersFromEnv() []LegacyServerConfig {
	var configs []LegacyServerConfig

	for i := 1; i <= maxEnvServers; i++ {
		prefix := fmt.Sprintf("SERVER%d_", i)
		host := os.Getenv(prefix + "HOST")
		database := os.Getenv(prefix + "DATABASE")
		user := os.Getenv(prefix + "USER")
		password := os.Getenv(prefix + "PASSWORD")

		if host == "" || database == "" || user == "" || password == "" {
			continue
		}

		port := 5432
		if p := os.Getenv(prefix + "PORT"); p != "" {
			if parsed, err := strconv.Atoi(p); err == nil {
				port = parsed
			}
		}

		name := os.Getenv(prefix + "LABEL")
		if name == "" {
			name = fmt.Sprintf("Game Server %d", i)
		}

		configs = append(configs, LegacyServerConfig{
			ID:       fmt.Sprintf("env-server-%d", i),
			Name:     name,
			Host:     host,
			Port:     port,
			Database: database,
			User:     user,
			Password: password,
		})
	}

	return configs
}
