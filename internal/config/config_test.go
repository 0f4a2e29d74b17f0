package config_test

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/relay/internal/config"
	"github.com/aretw0/relay/pkg/derive"
	"github.com/aretw0/relay/pkg/poller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RELAY_SIMULATE", "true")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, config.DriverFile, cfg.Store.Driver)
	assert.Equal(t, string(derive.PolicyPerIdentity), cfg.Policy)
	assert.Equal(t, poller.DefaultConfig(), cfg.Poll)
	assert.Equal(t, "USDC", cfg.Transaction.FeeToken)
	assert.True(t, cfg.Simulate.Enabled)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "custom.yaml", `
identity: Wa11et
policy: per_session
store:
  driver: redis
  redis:
    addr: redis:6379
    lock: true
poll:
  interval: 500ms
  max_wait: 5s
rpc:
  endpoint: https://node.example
  signer_url: https://signer.example
  rps: 2.5
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Wa11et", cfg.Identity)
	assert.Equal(t, "per_session", cfg.Policy)
	assert.Equal(t, config.DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "relay:", cfg.Store.Redis.Prefix, "unset keys keep defaults")
	assert.True(t, cfg.Store.Redis.Lock)
	assert.Equal(t, 500*time.Millisecond, cfg.Poll.Interval)
	assert.Equal(t, 5*time.Second, cfg.Poll.MaxWait)
	assert.Equal(t, poller.ScopeLocation, cfg.Poll.DedupScope)
	assert.Equal(t, 2.5, cfg.RPC.RPS)
}

func TestLoad_DefaultFileIsPickedUp(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, config.DefaultFile, "simulate:\n  enabled: true\nhistory: 4\n")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.History)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "relay.yaml", "store:\n  driver: sqlite\n  path: a.db\nsimulate:\n  enabled: true\n")

	t.Setenv("RELAY_STORE_PATH", "b.db")
	t.Setenv("RELAY_POLL_MAX_WAIT", "30s")
	t.Setenv("RELAY_COMPUTE_UNITS", "200000")
	t.Setenv("RELAY_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "b.db", cfg.Store.Path)
	assert.Equal(t, 30*time.Second, cfg.Poll.MaxWait)
	assert.Equal(t, uint32(200000), cfg.Transaction.ComputeUnitLimit)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, ".env", "RELAY_SIMULATE=1\nRELAY_IDENTITY=FromDotEnv\n")
	t.Cleanup(func() {
		os.Unsetenv("RELAY_SIMULATE")
		os.Unsetenv("RELAY_IDENTITY")
	})

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Simulate.Enabled)
	assert.Equal(t, "FromDotEnv", cfg.Identity)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "simulate:\n  enabled: true\nbogus: 1\n", "bogus"},
		{"bad driver", "simulate:\n  enabled: true\nstore:\n  driver: etcd\n", "unknown store driver"},
		{"bad policy", "simulate:\n  enabled: true\npolicy: shared\n", "unknown result location policy"},
		{"bad scope", "simulate:\n  enabled: true\npoll:\n  dedup_scope: session\n", "unknown dedup scope"},
		{"bad duration", "simulate:\n  enabled: true\npoll:\n  interval: soon\n", "interval"},
		{"no remote", "identity: x\n", "rpc.endpoint"},
		{"bad yaml", "store: [\n", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			t.Chdir(dir)
			path := writeFile(t, dir, "relay.yaml", tt.yaml)

			_, err := config.Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := config.Load("nope.yaml")
	assert.ErrorContains(t, err, "failed to read config")
}

func TestLoad_OverridesWinAndAreValidated(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RELAY_STORE", "sqlite")

	cfg, err := config.Load("", func(c *config.Config) {
		c.Simulate.Enabled = true
		c.Store.Driver = config.DriverMemory
	})
	require.NoError(t, err)
	assert.Equal(t, config.DriverMemory, cfg.Store.Driver)

	_, err = config.Load("", func(c *config.Config) {
		c.Simulate.Enabled = true
		c.History = 0
	})
	assert.ErrorContains(t, err, "history")
}

func TestLoad_EncryptionKeys(t *testing.T) {
	t.Chdir(t.TempDir())
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
	t.Setenv("RELAY_SIMULATE", "true")
	t.Setenv("RELAY_ENCRYPTION_KEY", key)

	cfg, err := config.Load("")
	require.NoError(t, err)
	enc, err := cfg.Store.Encryption()
	require.NoError(t, err)
	require.NotNil(t, enc)
	assert.Len(t, enc.ActiveKey, 32)

	_, err = config.Load("", func(c *config.Config) {
		c.Store.FallbackKeys = []string{"short"}
	})
	assert.ErrorContains(t, err, "store.fallback_keys[0]")

	_, err = config.Load("", func(c *config.Config) {
		c.Store.EncryptionKey = ""
		c.Store.FallbackKeys = []string{key}
	})
	assert.ErrorContains(t, err, "requires store.encryption_key")
}
