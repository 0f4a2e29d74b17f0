// Package config loads relay configuration from a YAML file, a .env file and RELAY_* variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/aretw0/relay/internal/logging"
	"github.com/aretw0/relay/pkg/derive"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/persistence/middleware"
	"github.com/aretw0/relay/pkg/poller"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read when no config path is given and it exists.
const DefaultFile = "relay.yaml"

// Store drivers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config holds all relay configuration.
type Config struct {
	Identity    string                    `yaml:"identity" mapstructure:"identity"`
	Program     string                    `yaml:"program" mapstructure:"program"`
	Policy      string                    `yaml:"policy" mapstructure:"policy"`
	History     int                       `yaml:"history" mapstructure:"history"`
	Store       StoreConfig               `yaml:"store" mapstructure:"store"`
	Poll        poller.Config             `yaml:"poll" mapstructure:"poll"`
	Transaction domain.TransactionOptions `yaml:"transaction" mapstructure:"transaction"`
	RPC         RPCConfig                 `yaml:"rpc" mapstructure:"rpc"`
	Simulate    SimulateConfig            `yaml:"simulate" mapstructure:"simulate"`
	Server      ServerConfig              `yaml:"server" mapstructure:"server"`
	Log         LogConfig                 `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects the durable backend.
type StoreConfig struct {
	Driver string      `yaml:"driver" mapstructure:"driver"`
	Path   string      `yaml:"path" mapstructure:"path"`
	Redis  RedisConfig `yaml:"redis" mapstructure:"redis"`

	// EncryptionKey is a base64 AES-256 key. When set every stored value is encrypted.
	EncryptionKey string   `yaml:"encryption_key" mapstructure:"encryption_key"`
	FallbackKeys  []string `yaml:"fallback_keys" mapstructure:"fallback_keys"`
}

// RedisConfig configures the redis driver. Lock enables cross-process locking.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
	Lock     bool   `yaml:"lock" mapstructure:"lock"`
}

// RPCConfig points at the remote node and signer.
type RPCConfig struct {
	Endpoint  string  `yaml:"endpoint" mapstructure:"endpoint"`
	SignerURL string  `yaml:"signer_url" mapstructure:"signer_url"`
	APIKey    string  `yaml:"api_key" mapstructure:"api_key"`
	RPS       float64 `yaml:"rps" mapstructure:"rps"`
	Burst     int     `yaml:"burst" mapstructure:"burst"`
}

// SimulateConfig replaces the remote collaborators with an in-memory ledger.
type SimulateConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Prefix  string        `yaml:"prefix" mapstructure:"prefix"`
	Delay   time.Duration `yaml:"delay" mapstructure:"delay"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr      string  `yaml:"addr" mapstructure:"addr"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst     int     `yaml:"burst" mapstructure:"burst"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Program: "relay",
		Policy:  string(derive.PolicyPerIdentity),
		History: 15,
		Store: StoreConfig{
			Driver: DriverFile,
			Path:   ".relay",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "relay:",
			},
		},
		Poll:        poller.DefaultConfig(),
		Transaction: domain.DefaultTransactionOptions(),
		RPC: RPCConfig{
			RPS:   10,
			Burst: 20,
		},
		Simulate: SimulateConfig{
			Prefix: "echo: ",
		},
		Server: ServerConfig{
			Addr:      ":8080",
			RateLimit: 5,
			Burst:     10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// envKeys maps RELAY_* variables to config paths.
var envKeys = map[string]string{
	"RELAY_IDENTITY":       "identity",
	"RELAY_PROGRAM":        "program",
	"RELAY_POLICY":         "policy",
	"RELAY_HISTORY":        "history",
	"RELAY_STORE":          "store.driver",
	"RELAY_STORE_PATH":     "store.path",
	"RELAY_REDIS_ADDR":     "store.redis.addr",
	"RELAY_REDIS_PASSWORD": "store.redis.password",
	"RELAY_REDIS_DB":       "store.redis.db",
	"RELAY_REDIS_LOCK":     "store.redis.lock",
	"RELAY_ENCRYPTION_KEY": "store.encryption_key",
	"RELAY_POLL_INTERVAL":  "poll.interval",
	"RELAY_POLL_MAX_WAIT":  "poll.max_wait",
	"RELAY_POLL_SETTLE":    "poll.settle_delay",
	"RELAY_DEDUP_SCOPE":    "poll.dedup_scope",
	"RELAY_FEE_TOKEN":      "transaction.fee_token",
	"RELAY_COMPUTE_UNITS":  "transaction.compute_unit_limit",
	"RELAY_RPC_ENDPOINT":   "rpc.endpoint",
	"RELAY_SIGNER_URL":     "rpc.signer_url",
	"RELAY_API_KEY":        "rpc.api_key",
	"RELAY_SIMULATE":       "simulate.enabled",
	"RELAY_SIMULATE_DELAY": "simulate.delay",
	"RELAY_ADDR":           "server.addr",
	"RELAY_LOG_LEVEL":      "log.level",
	"RELAY_LOG_FORMAT":     "log.format",
}

// Load builds the configuration. Later sources win: defaults, the YAML file at path
// (DefaultFile when path is empty and present), environment variables, then overrides.
// A .env file in the working directory is loaded first without overriding the real environment.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if err := decode(raw, cfg); err != nil {
			return nil, fmt.Errorf("invalid config %s: %w", path, err)
		}
	}

	if err := decode(envOverrides(), cfg); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	for _, override := range overrides {
		override(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func decode(input map[string]any, out *Config) error {
	if len(input) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// envOverrides turns set RELAY_* variables into a nested map mirroring the YAML layout.
func envOverrides() map[string]any {
	out := map[string]any{}
	for env, path := range envKeys {
		value, ok := os.LookupEnv(env)
		if !ok {
			continue
		}
		parts := strings.Split(path, ".")
		node := out
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	return out
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverFile, DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path cannot be empty for driver %q", c.Store.Driver)
		}
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr cannot be empty")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Store.EncryptionKey != "" {
		if _, err := c.Store.Encryption(); err != nil {
			return err
		}
	} else if len(c.Store.FallbackKeys) > 0 {
		return fmt.Errorf("store.fallback_keys requires store.encryption_key")
	}

	if _, err := derive.ParsePolicy(c.Policy); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.History <= 0 {
		return fmt.Errorf("history must be > 0")
	}
	if c.Poll.Interval <= 0 || c.Poll.MaxWait <= 0 {
		return fmt.Errorf("poll.interval and poll.max_wait must be > 0")
	}
	switch c.Poll.DedupScope {
	case poller.ScopeLocation, poller.ScopeGlobal:
	default:
		return fmt.Errorf("unknown dedup scope %q", c.Poll.DedupScope)
	}
	if !c.Simulate.Enabled && (c.RPC.Endpoint == "" || c.RPC.SignerURL == "") {
		return fmt.Errorf("rpc.endpoint and rpc.signer_url are required unless simulate.enabled is set")
	}
	return nil
}

// Encryption decodes the configured keys. It returns nil when encryption is off.
func (s StoreConfig) Encryption() (*middleware.EncryptionConfig, error) {
	if s.EncryptionKey == "" {
		return nil, nil
	}
	active, err := middleware.ParseKey(s.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("store.encryption_key: %w", err)
	}
	enc := &middleware.EncryptionConfig{ActiveKey: active}
	for i, k := range s.FallbackKeys {
		key, err := middleware.ParseKey(k)
		if err != nil {
			return nil, fmt.Errorf("store.fallback_keys[%d]: %w", i, err)
		}
		enc.FallbackKeys = append(enc.FallbackKeys, key)
	}
	return enc, nil
}
