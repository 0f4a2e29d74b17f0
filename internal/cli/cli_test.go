package cli

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/relay/internal/config"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/poller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Identity = "Wa11et"
	cfg.Store.Driver = config.DriverMemory
	cfg.Simulate.Enabled = true
	cfg.Poll = poller.Config{
		Interval:   10 * time.Millisecond,
		MaxWait:    200 * time.Millisecond,
		DedupScope: poller.ScopeLocation,
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewRuntime_Drivers(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name  string
		store func(dir string) config.StoreConfig
		check func(t *testing.T, dir string)
	}{
		{
			name:  "memory",
			store: func(string) config.StoreConfig { return config.StoreConfig{Driver: config.DriverMemory} },
		},
		{
			name:  "file",
			store: func(dir string) config.StoreConfig { return config.StoreConfig{Driver: config.DriverFile, Path: dir} },
			check: func(t *testing.T, dir string) {
				entries, err := os.ReadDir(dir)
				require.NoError(t, err)
				assert.NotEmpty(t, entries)
			},
		},
		{
			name:  "sqlite",
			store: func(dir string) config.StoreConfig { return config.StoreConfig{Driver: config.DriverSQLite, Path: dir} },
			check: func(t *testing.T, dir string) {
				assert.FileExists(t, filepath.Join(dir, SQLiteFile))
			},
		},
		{
			name: "redis",
			store: func(string) config.StoreConfig {
				return config.StoreConfig{Driver: config.DriverRedis, Redis: config.RedisConfig{Addr: mr.Addr(), Prefix: "t:", Lock: true}}
			},
			check: func(t *testing.T, _ string) {
				assert.NotEmpty(t, mr.Keys())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			cfg := testConfig(t)
			cfg.Store = tt.store(dir)

			rt, err := NewRuntime(cfg, nil)
			require.NoError(t, err)
			defer func() { assert.NoError(t, rt.Close()) }()
			require.NotNil(t, rt.Ledger)

			ctx := context.Background()
			s, err := rt.Client.StartSession(ctx, "drivers")
			require.NoError(t, err)
			out, err := rt.Client.Send(ctx, s.CorrelationID, "ping")
			require.NoError(t, err)
			assert.Equal(t, "echo: ping", out.Text)

			if tt.check != nil {
				tt.check(t, dir)
			}
		})
	}
}

func TestNewRuntime_RemoteTransport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Simulate.Enabled = false
	cfg.RPC.Endpoint = "http://127.0.0.1:1"
	cfg.RPC.SignerURL = "http://127.0.0.1:1"
	cfg.RPC.APIKey = "k"

	rt, err := NewRuntime(cfg, nil)
	require.NoError(t, err)
	defer rt.Close()
	assert.Nil(t, rt.Ledger)
	assert.NotNil(t, rt.Client)
}

func TestNewRuntime_BadPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Policy = "shared"
	_, err := NewRuntime(cfg, nil)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)

	logger, err := NewLogger(config.LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.True(t, logger.Enabled(context.Background(), -4))
}

func TestRunChat(t *testing.T) {
	rt, err := NewRuntime(testConfig(t), nil)
	require.NoError(t, err)
	defer rt.Close()

	ctx := context.Background()
	s, err := rt.Client.StartSession(ctx, "chat")
	require.NoError(t, err)

	var out bytes.Buffer
	err = RunChat(ctx, rt.Client, ChatOptions{
		CorrelationID: s.CorrelationID,
		In:            strings.NewReader("gm\n\n/queue\n/bogus\n/history\n/quit\nnever sent\n"),
		Out:           &out,
	})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, ">>> resolved (sim-1)")
	assert.Contains(t, text, "echo: gm")
	assert.Contains(t, text, "Queue is empty.")
	assert.Contains(t, text, `unknown command "/bogus"`)
	assert.Contains(t, text, "## chat")
	assert.Len(t, rt.Ledger.Sent(), 1)
}

func TestRunChat_EndOfInput(t *testing.T) {
	rt, err := NewRuntime(testConfig(t), nil)
	require.NoError(t, err)
	defer rt.Close()

	ctx := context.Background()
	s, err := rt.Client.StartSession(ctx, "")
	require.NoError(t, err)
	require.NoError(t, rt.Client.Enqueue(ctx, "later"))

	var out bytes.Buffer
	err = RunChat(ctx, rt.Client, ChatOptions{
		CorrelationID: s.CorrelationID,
		In:            strings.NewReader("/queue\n/drain\n"),
		Out:           &out,
		Quiet:         true,
	})
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, HandleExecutionError(err))
	assert.True(t, strings.HasPrefix(out.String(), ">>> Drained 1, failed 0, remaining 0."), "quiet mode prints no prompt")
	assert.Contains(t, out.String(), "Queue is empty.")
	assert.Contains(t, out.String(), "Drain skipped: queue empty")
}

func TestRunChat_ResumesOnOpen(t *testing.T) {
	rt, err := NewRuntime(testConfig(t), nil)
	require.NoError(t, err)
	defer rt.Close()

	ctx := context.Background()
	s, err := rt.Client.StartSession(ctx, "reopened")
	require.NoError(t, err)
	require.NoError(t, rt.Client.Store().SetMarker(ctx, domain.UnresolvedPoll{
		Location:      s.ResultLocation,
		CorrelationID: s.CorrelationID,
	}))
	rt.Ledger.Write(s.ResultLocation, "answer from last run")
	require.NoError(t, rt.Client.Enqueue(ctx, "offline note"))

	var out bytes.Buffer
	err = RunChat(ctx, rt.Client, ChatOptions{
		CorrelationID: s.CorrelationID,
		In:            strings.NewReader(""),
		Out:           &out,
		Quiet:         true,
	})
	assert.ErrorIs(t, err, io.EOF)
	assert.Contains(t, out.String(), "answer from last run")
	assert.Contains(t, out.String(), "Drained 1, failed 0, remaining 0.")

	marker, err := rt.Client.Store().Marker(ctx)
	require.NoError(t, err)
	assert.Nil(t, marker)
	pending, err := rt.Client.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	stored, err := rt.Client.Session(ctx, s.CorrelationID)
	require.NoError(t, err)
	texts := make([]string, 0, len(stored.Messages))
	for _, m := range stored.Messages {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"answer from last run", "offline note", "echo: offline note"}, texts)
}

func TestRunChat_UnknownSession(t *testing.T) {
	rt, err := NewRuntime(testConfig(t), nil)
	require.NoError(t, err)
	defer rt.Close()

	err = RunChat(context.Background(), rt.Client, ChatOptions{CorrelationID: "nope", In: strings.NewReader(""), Out: io.Discard})
	assert.Error(t, err)
}

func TestInterruptibleReader(t *testing.T) {
	cancel := make(chan struct{})
	close(cancel)
	_, err := NewInterruptibleReader(strings.NewReader("x"), cancel).Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.True(t, IsInterrupted(err))
	assert.NoError(t, HandleExecutionError(context.Canceled))
}

func TestNewRuntime_EncryptedStore(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Store = config.StoreConfig{
		Driver:        config.DriverFile,
		Path:          dir,
		EncryptionKey: base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 32)),
	}
	require.NoError(t, cfg.Validate())

	rt, err := NewRuntime(cfg, nil)
	require.NoError(t, err)
	defer rt.Close()

	ctx := context.Background()
	s, err := rt.Client.StartSession(ctx, "secret title")
	require.NoError(t, err)
	_, err = rt.Client.Send(ctx, s.CorrelationID, "classified")
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "classified")
		assert.NotContains(t, string(raw), "secret title")
	}

	got, err := rt.Client.Session(ctx, s.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, "secret title", got.Title)
}
