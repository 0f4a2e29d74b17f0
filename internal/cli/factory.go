package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aretw0/relay"
	"github.com/aretw0/relay/internal/config"
	"github.com/aretw0/relay/internal/logging"
	"github.com/aretw0/relay/pkg/adapters/file"
	"github.com/aretw0/relay/pkg/adapters/memory"
	"github.com/aretw0/relay/pkg/adapters/redis"
	"github.com/aretw0/relay/pkg/adapters/rpc"
	"github.com/aretw0/relay/pkg/adapters/sqlite"
	"github.com/aretw0/relay/pkg/derive"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/observability"
	"github.com/aretw0/relay/pkg/persistence/middleware"
	"github.com/aretw0/relay/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
)

// SQLiteFile is the database name used when store.path names a directory.
const SQLiteFile = "relay.db"

// Runtime is a configured Client plus the resources that must be released with it.
type Runtime struct {
	Client   *relay.Client
	Config   *config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Ledger   *memory.Ledger // set in simulate mode

	closers []func() error
}

// Close releases the store backends.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// NewLogger builds the application logger from cfg. Logs always go to Stderr.
func NewLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if cfg.Format == "json" {
		return logging.NewJSON(os.Stderr, level), nil
	}
	return logging.New(level), nil
}

// NewRuntime wires a relay.Client from cfg. Extra hooks are merged after the
// logging and metrics hooks.
func NewRuntime(cfg *config.Config, logger *slog.Logger, extra ...domain.Hooks) (*Runtime, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	rt := &Runtime{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	rt.Metrics = observability.NewMetrics(rt.Registry)

	policy, err := derive.ParsePolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}

	hooks := observability.LogHooks(logger).Merge(rt.Metrics.Hooks())
	for _, h := range extra {
		hooks = hooks.Merge(h)
	}

	opts := []relay.Option{
		relay.WithLogger(logger),
		relay.WithHooks(hooks),
		relay.WithPolicy(policy),
		relay.WithPollConfig(cfg.Poll),
		relay.WithTransactionOptions(cfg.Transaction),
		relay.WithHistoryCapacity(cfg.History),
		relay.WithIdentity(ports.StaticIdentity(cfg.Identity)),
	}
	if cfg.Program != "" {
		opts = append(opts, relay.WithProgram(domain.Address(cfg.Program)))
	}

	storeOpts, err := rt.storeOptions(cfg.Store)
	if err != nil {
		return nil, err
	}
	opts = append(opts, storeOpts...)
	opts = append(opts, rt.transportOptions(cfg)...)

	client, err := relay.New(opts...)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("error initializing relay: %w", err)
	}
	rt.Client = client
	return rt, nil
}

func (rt *Runtime) storeOptions(cfg config.StoreConfig) ([]relay.Option, error) {
	var (
		store ports.KVStore
		opts  []relay.Option
	)
	switch cfg.Driver {
	case config.DriverMemory:
		store = memory.NewStore()

	case config.DriverFile:
		store = file.New(cfg.Path)

	case config.DriverSQLite:
		path := cfg.Path
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, SQLiteFile)
		}
		db, err := sqlite.New(path)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, db.Close)
		store = db

	case config.DriverRedis:
		rdb := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, redis.WithPrefix(cfg.Redis.Prefix))
		rt.closers = append(rt.closers, rdb.Close)
		if cfg.Redis.Lock {
			opts = append(opts, relay.WithLocker(redis.NewLocker(rdb.Client(), cfg.Redis.Prefix)))
		}
		store = rdb

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	enc, err := cfg.Encryption()
	if err != nil {
		return nil, err
	}
	if enc != nil {
		mw, err := middleware.NewEncryptionMiddleware(*enc)
		if err != nil {
			return nil, err
		}
		store = middleware.Chain(store, mw)
		rt.Logger.Info("Store encryption enabled", "fallback_keys", len(enc.FallbackKeys))
	}
	return append(opts, relay.WithStore(store)), nil
}

func (rt *Runtime) transportOptions(cfg *config.Config) []relay.Option {
	if cfg.Simulate.Enabled {
		rt.Ledger = memory.NewLedger(
			memory.WithResponder(memory.EchoResponder(cfg.Simulate.Prefix)),
			memory.WithDelay(cfg.Simulate.Delay),
		)
		rt.Logger.Info("Simulating remote processor", "delay", cfg.Simulate.Delay)
		return []relay.Option{relay.WithLedger(rt.Ledger)}
	}

	rpcOpts := []rpc.Option{rpc.WithLogger(rt.Logger)}
	if cfg.RPC.RPS > 0 {
		rpcOpts = append(rpcOpts, rpc.WithRateLimit(cfg.RPC.RPS, cfg.RPC.Burst))
	}
	signerOpts := append([]rpc.Option{}, rpcOpts...)
	if cfg.RPC.APIKey != "" {
		signerOpts = append(signerOpts, rpc.WithHeader("X-Api-Key", cfg.RPC.APIKey))
	}
	return []relay.Option{
		relay.WithResultStore(rpc.NewAccountReader(cfg.RPC.Endpoint, rpcOpts...)),
		relay.WithTransport(rpc.NewSigner(cfg.RPC.SignerURL, signerOpts...)),
	}
}
