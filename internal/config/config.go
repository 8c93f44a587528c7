package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the service runtime parameters.
type Config struct {
	ListenAddress       string          `mapstructure:"listen_address"`
	LogLevel            string          `mapstructure:"log_level"`
	ShutdownGracePeriod time.Duration   `mapstructure:"shutdown_grace_period"`
	Admin               AdminConfig     `mapstructure:"admin"`
	Auth                AuthConfig      `mapstructure:"auth"`
	Database            DatabaseConfig  `mapstructure:"database"`
	Transport           TransportConfig `mapstructure:"transport"`
	History             HistoryConfig   `mapstructure:"history"`
}

// AdminConfig describes the metrics/health endpoint.
type AdminConfig struct {
	Address           string        `mapstructure:"address"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
}

// AuthConfig names the environment variable holding the JWT secret. Secrets
// never live in the config file itself.
type AuthConfig struct {
	TokenSecretEnv string `mapstructure:"token_secret_env"`
}

// DatabaseConfig names the environment variable holding the Postgres DSN.
// An empty DSN selects the in-memory stores.
type DatabaseConfig struct {
	DSNEnv string `mapstructure:"dsn_env"`
}

// TransportConfig bounds the websocket gateway.
type TransportConfig struct {
	SendBuffer   int           `mapstructure:"send_buffer"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// HistoryConfig bounds the historical-fetch API.
type HistoryConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
}

const (
	defaultListenAddress       = "0.0.0.0:8080"
	defaultAdminAddress        = "0.0.0.0:9090"
	defaultLogLevel            = "info"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultReadHeaderTimeout   = 5 * time.Second
	defaultTokenSecretEnv      = "WHISPERLINE_TOKEN_SECRET"
	defaultDSNEnv              = "WHISPERLINE_DATABASE_DSN"
	defaultSendBuffer          = 32
	defaultReadLimit           = 64 * 1024
	defaultWriteTimeout        = 10 * time.Second
	defaultPingInterval        = 30 * time.Second
	defaultHistoryPageSize     = 50
	defaultHistoryMaxPageSize  = 200
)

// Load reads configuration from the provided file path (if any) and the
// environment. Environment variables are prefixed with WHISPERLINE_ and
// override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WHISPERLINE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("listen_address", defaultListenAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("admin.address", defaultAdminAddress)
	v.SetDefault("admin.read_header_timeout", defaultReadHeaderTimeout.String())
	v.SetDefault("auth.token_secret_env", defaultTokenSecretEnv)
	v.SetDefault("database.dsn_env", defaultDSNEnv)
	v.SetDefault("transport.send_buffer", defaultSendBuffer)
	v.SetDefault("transport.read_limit", defaultReadLimit)
	v.SetDefault("transport.write_timeout", defaultWriteTimeout.String())
	v.SetDefault("transport.ping_interval", defaultPingInterval.String())
	v.SetDefault("history.default_page_size", defaultHistoryPageSize)
	v.SetDefault("history.max_page_size", defaultHistoryMaxPageSize)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	for _, d := range []struct {
		key    string
		target *time.Duration
	}{
		{"shutdown_grace_period", &cfg.ShutdownGracePeriod},
		{"admin.read_header_timeout", &cfg.Admin.ReadHeaderTimeout},
		{"transport.write_timeout", &cfg.Transport.WriteTimeout},
		{"transport.ping_interval", &cfg.Transport.PingInterval},
	} {
		dur, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.target = dur
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListenAddress
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.Auth.TokenSecretEnv == "" {
		cfg.Auth.TokenSecretEnv = defaultTokenSecretEnv
	}
	if cfg.Database.DSNEnv == "" {
		cfg.Database.DSNEnv = defaultDSNEnv
	}
	if cfg.Transport.SendBuffer <= 0 {
		cfg.Transport.SendBuffer = defaultSendBuffer
	}
	if cfg.Transport.ReadLimit <= 0 {
		cfg.Transport.ReadLimit = defaultReadLimit
	}
	if cfg.History.DefaultPageSize <= 0 {
		cfg.History.DefaultPageSize = defaultHistoryPageSize
	}
	if cfg.History.MaxPageSize < cfg.History.DefaultPageSize {
		cfg.History.MaxPageSize = defaultHistoryMaxPageSize
	}

	return cfg, nil
}

// TokenSecret fetches the JWT secret from the configured environment variable.
func (c Config) TokenSecret() ([]byte, error) {
	val := strings.TrimSpace(getenv(c.Auth.TokenSecretEnv))
	if val == "" {
		return nil, fmt.Errorf("token secret env %s is empty", c.Auth.TokenSecretEnv)
	}
	return []byte(val), nil
}

// DatabaseDSN fetches the Postgres DSN; empty means in-memory stores.
func (c Config) DatabaseDSN() string {
	return strings.TrimSpace(getenv(c.Database.DSNEnv))
}

// split out for testing.
var getenv = os.Getenv
