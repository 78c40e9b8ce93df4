package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Lapps     LappsConfig
	Runtime   RuntimeConfig
	Storage   StorageConfig
	Fetch     FetchConfig
	Gossip    GossipConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Admin     AdminConfig
	CORS      CORSConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	MaxBodyBytes    int64         `envconfig:"MAX_BODY_BYTES" default:"8388608"`
}

// Addr joins host and port
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// LappsConfig locates lapps on disk.
type LappsConfig struct {
	Dir             string `envconfig:"LAPPS_DIR" default:"./lapps"`
	DataDir         string `envconfig:"LAPPS_DATA_DIR" default:"./data"`
	Autoload        bool   `envconfig:"LAPPS_AUTOLOAD" default:"false"`
	MaxPackageBytes int64  `envconfig:"LAPPS_MAX_PACKAGE_BYTES" default:"268435456"`
}

// RuntimeConfig bounds guest execution.
type RuntimeConfig struct {
	InvokeTimeout    time.Duration `envconfig:"RUNTIME_INVOKE_TIMEOUT" default:"30s"`
	MemoryLimitPages uint32        `envconfig:"RUNTIME_MEMORY_LIMIT_PAGES" default:"1024"`
	HostTimeout      time.Duration `envconfig:"RUNTIME_HOST_TIMEOUT" default:"10s"`
}

// StorageConfig bounds lapp database calls.
type StorageConfig struct {
	Timeout      time.Duration `envconfig:"STORAGE_TIMEOUT" default:"5s"`
	MaxFileBytes int64         `envconfig:"STORAGE_MAX_FILE_BYTES" default:"8388608"`
}

// FetchConfig tunes the network capability.
type FetchConfig struct {
	Timeout       time.Duration `envconfig:"FETCH_TIMEOUT" default:"15s"`
	MaxRetries    int           `envconfig:"FETCH_MAX_RETRIES" default:"2"`
	RatePerSecond float64       `envconfig:"FETCH_RATE_PER_SECOND" default:"20"`
}

// Gossip transports
const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
)

// GossipConfig selects and tunes the peer messaging transport. The memory
// transport stays inside one process and a peer drops its own messages, so
// lapps on a memory-transport server publish into silence. Use redis to
// gossip between servers.
type GossipConfig struct {
	Transport       string        `envconfig:"GOSSIP_TRANSPORT" default:"memory"`
	RedisURL        string        `envconfig:"GOSSIP_REDIS_URL" default:"redis://localhost:6379/0"`
	PeerID          string        `envconfig:"GOSSIP_PEER_ID"`
	Timeout         time.Duration `envconfig:"GOSSIP_TIMEOUT" default:"5s"`
	DeliveryTimeout time.Duration `envconfig:"GOSSIP_DELIVERY_TIMEOUT" default:"30s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
	Sampling    bool   `envconfig:"LOG_SAMPLING" default:"true"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// AdminConfig guards the management API.
type AdminConfig struct {
	Token string `envconfig:"ADMIN_TOKEN"`
}

// CORSConfig restricts browser origins.
type CORSConfig struct {
	Origins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    8 << 20,
		},
		Lapps: LappsConfig{
			Dir:             "./lapps",
			DataDir:         "./data",
			MaxPackageBytes: 256 << 20,
		},
		Runtime: RuntimeConfig{
			InvokeTimeout:    30 * time.Second,
			MemoryLimitPages: 1024,
			HostTimeout:      10 * time.Second,
		},
		Storage: StorageConfig{
			Timeout:      5 * time.Second,
			MaxFileBytes: 8 << 20,
		},
		Fetch: FetchConfig{
			Timeout:       15 * time.Second,
			MaxRetries:    2,
			RatePerSecond: 20,
		},
		Gossip: GossipConfig{
			Transport:       TransportMemory,
			RedisURL:        "redis://localhost:6379/0",
			Timeout:         5 * time.Second,
			DeliveryTimeout: 30 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
			Sampling:    true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		CORS: CORSConfig{
			Origins: []string{"*"},
		},
	}
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	var errs []error

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %q is not a valid port", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be positive"))
	}
	if c.Lapps.Dir == "" || c.Lapps.DataDir == "" {
		errs = append(errs, errors.New("LAPPS_DIR and LAPPS_DATA_DIR are required"))
	}
	if c.Lapps.MaxPackageBytes <= 0 {
		errs = append(errs, errors.New("LAPPS_MAX_PACKAGE_BYTES must be positive"))
	}
	if c.Runtime.InvokeTimeout < 0 {
		errs = append(errs, errors.New("RUNTIME_INVOKE_TIMEOUT must not be negative"))
	}
	if c.Runtime.MemoryLimitPages > 65536 {
		errs = append(errs, errors.New("RUNTIME_MEMORY_LIMIT_PAGES exceeds the 4GiB wasm32 limit"))
	}
	if c.Storage.Timeout <= 0 {
		errs = append(errs, errors.New("STORAGE_TIMEOUT must be positive"))
	}
	if c.Fetch.Timeout <= 0 || c.Fetch.MaxRetries < 0 {
		errs = append(errs, errors.New("FETCH_TIMEOUT must be positive and FETCH_MAX_RETRIES not negative"))
	}
	switch c.Gossip.Transport {
	case TransportMemory:
	case TransportRedis:
		if c.Gossip.RedisURL == "" {
			errs = append(errs, errors.New("GOSSIP_REDIS_URL is required for the redis transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("GOSSIP_TRANSPORT %q must be %q or %q", c.Gossip.Transport, TransportMemory, TransportRedis))
	}
	if c.Gossip.Timeout <= 0 {
		errs = append(errs, errors.New("GOSSIP_TIMEOUT must be positive"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
