package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. ROOMADAPTER_HTTP_ADDR
const EnvPrefix = "ROOMADAPTER"

// DefaultSecretKey is the development JWT secret used when none is configured
const DefaultSecretKey = "roomadapter-dev-secret-key-change-in-production"

var (
	// ErrEmptyNodeID is returned when node ID is empty
	ErrEmptyNodeID = errors.New("node ID cannot be empty")
	// ErrEmptyHTTPAddr is returned when the HTTP listen address is empty
	ErrEmptyHTTPAddr = errors.New("http listen address cannot be empty")
	// ErrEmptyGRPCAddr is returned when gRPC is enabled without a listen address
	ErrEmptyGRPCAddr = errors.New("grpc listen address cannot be empty")
)

// HTTPConfig configures the HTTP front end
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	SecretKey       string        `mapstructure:"secret_key"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	NoAuth          bool          `mapstructure:"no_auth"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	BroadcastRate   float64       `mapstructure:"broadcast_rate"`
	BroadcastBurst  int           `mapstructure:"broadcast_burst"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// GRPCConfig configures the gRPC front end
type GRPCConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// MembershipConfig mirrors membership.Config
type MembershipConfig struct {
	Wildcard       bool `mapstructure:"wildcard"`
	WildcardDelete bool `mapstructure:"wildcard_delete"`
}

// BroadcastConfig mirrors broadcast.Config
type BroadcastConfig struct {
	Workers        int           `mapstructure:"workers"`
	ExceptWildcard bool          `mapstructure:"except_wildcard"`
	AsyncTimeout   time.Duration `mapstructure:"async_timeout"`
}

// LogConfig mirrors logging.Config
type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Config is the daemon configuration
type Config struct {
	NodeID     string           `mapstructure:"node_id"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	GRPC       GRPCConfig       `mapstructure:"grpc"`
	Membership MembershipConfig `mapstructure:"membership"`
	Broadcast  BroadcastConfig  `mapstructure:"broadcast"`
	Log        LogConfig        `mapstructure:"log"`
}

// flagKeys maps command line flag names onto configuration keys
var flagKeys = map[string]string{
	"node-id":         "node_id",
	"http-addr":       "http.addr",
	"secret-key":      "http.secret_key",
	"no-auth":         "http.no_auth",
	"cors-origins":    "http.cors_origins",
	"broadcast-rate":  "http.broadcast_rate",
	"broadcast-burst": "http.broadcast_burst",
	"grpc":            "grpc.enabled",
	"grpc-addr":       "grpc.addr",
	"wildcard":        "membership.wildcard",
	"wildcard-delete": "membership.wildcard_delete",
	"workers":         "broadcast.workers",
	"except-wildcard": "broadcast.except_wildcard",
	"log-level":       "log.level",
	"dev":             "log.development",
}

// LoadOptions controls where configuration is read from
type LoadOptions struct {
	// ConfigFile is an optional YAML/JSON/TOML file
	ConfigFile string

	// DotEnvFiles are loaded into the process environment before reading overrides.
	// Missing files are ignored.
	DotEnvFiles []string

	// Flags are bound when set on the command line
	Flags *pflag.FlagSet
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("node_id", defaultNodeID())
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.secret_key", DefaultSecretKey)
	v.SetDefault("http.token_ttl", 24*time.Hour)
	v.SetDefault("http.no_auth", false)
	v.SetDefault("http.cors_origins", []string{"*"})
	v.SetDefault("http.broadcast_rate", 100.0)
	v.SetDefault("http.broadcast_burst", 200)
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 30*time.Second)
	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("membership.wildcard", true)
	v.SetDefault("membership.wildcard_delete", false)
	v.SetDefault("broadcast.workers", 1)
	v.SetDefault("broadcast.except_wildcard", false)
	v.SetDefault("broadcast.async_timeout", 10*time.Second)
	v.SetDefault("log.development", false)
	v.SetDefault("log.level", "info")
}

// Load builds a Config from defaults, an optional file, .env files, the environment
// and command line flags, in increasing order of precedence.
func Load(opts LoadOptions) (*Config, error) {
	for _, path := range opts.DotEnvFiles {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrEmptyNodeID
	}
	if c.HTTP.Addr == "" {
		return ErrEmptyHTTPAddr
	}
	if c.GRPC.Enabled && c.GRPC.Addr == "" {
		return ErrEmptyGRPCAddr
	}
	if c.Broadcast.Workers < 0 {
		return fmt.Errorf("broadcast workers cannot be negative: %d", c.Broadcast.Workers)
	}
	if c.Broadcast.AsyncTimeout < 0 {
		return fmt.Errorf("broadcast async timeout cannot be negative: %v", c.Broadcast.AsyncTimeout)
	}
	return nil
}

// UsesDefaultSecret reports whether tokens are signed with the development secret
func (c *Config) UsesDefaultSecret() bool {
	return c.HTTP.SecretKey == DefaultSecretKey
}

// defaultNodeID generates a default node ID based on hostname
func defaultNodeID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "roomadapter-node-1"
	}
	return fmt.Sprintf("roomadapter-%s", hostname)
}
