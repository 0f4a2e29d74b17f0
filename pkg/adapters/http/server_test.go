package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/relay"
	"github.com/aretw0/relay/api"
	"github.com/aretw0/relay/internal/logging"
	"github.com/aretw0/relay/pkg/adapters/memory"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/observability"
	"github.com/aretw0/relay/pkg/poller"
	"github.com/aretw0/relay/pkg/ports"
	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	handler http.Handler
	streams *StreamManager
	ledger  *memory.Ledger
	client  *relay.Client
}

func newFixture(t *testing.T, identity string, ledgerOpts []memory.LedgerOption, opts ...Option) *fixture {
	t.Helper()
	streams := NewStreamManager(logging.NewNop())
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	ledger := memory.NewLedger(append([]memory.LedgerOption{memory.WithResponder(memory.EchoResponder("echo: "))}, ledgerOpts...)...)
	client, err := relay.New(
		relay.WithLedger(ledger),
		relay.WithIdentity(ports.StaticIdentity(identity)),
		relay.WithPollConfig(poller.Config{Interval: 10 * time.Millisecond, MaxWait: 100 * time.Millisecond}),
		relay.WithHooks(streams.Hooks().Merge(metrics.Hooks())),
	)
	require.NoError(t, err)

	doc, err := api.Load(context.Background())
	require.NoError(t, err)

	opts = append([]Option{WithStreams(streams), WithMetrics(reg), WithValidation(doc)}, opts...)
	return &fixture{
		handler: NewHandler(client, opts...),
		streams: streams,
		ledger:  ledger,
		client:  client,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (f *fixture) startSession(t *testing.T) domain.Session {
	t.Helper()
	w := f.do(t, http.MethodPost, "/sessions", `{"title":"demo"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeBody[domain.Session](t, w)
}

func TestHealthAndInfo(t *testing.T) {
	f := newFixture(t, "Wa11et", nil)

	w := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	info := decodeBody[map[string]string](t, f.do(t, http.MethodGet, "/info", ""))
	assert.Equal(t, relay.Version, info["version"])
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t, "Wa11et", nil)
	s := f.startSession(t)
	assert.Equal(t, "demo", s.Title)

	list := decodeBody[[]domain.Session](t, f.do(t, http.MethodGet, "/sessions", ""))
	require.Len(t, list, 1)
	assert.Equal(t, s.CorrelationID, list[0].CorrelationID)

	w := f.do(t, http.MethodPost, "/sessions/"+s.CorrelationID+"/messages", `{"text":"gm"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decodeBody[OutcomeResponse](t, w)
	assert.Equal(t, relay.StatusResolved, out.Status)
	assert.Equal(t, "echo: gm", out.Text)
	assert.Equal(t, "sim-1", out.Signature)

	got := decodeBody[domain.Session](t, f.do(t, http.MethodGet, "/sessions/"+s.CorrelationID, ""))
	require.Len(t, got.Messages, 2)
	assert.Equal(t, domain.RoleProduced, got.Messages[1].Role)
}

func TestStartSessionWithoutBody(t *testing.T) {
	f := newFixture(t, "Wa11et", nil)
	w := f.do(t, http.MethodPost, "/sessions", "")
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, "Wa11et", nil)
	s := f.startSession(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown session", http.MethodGet, "/sessions/nope", "", http.StatusNotFound},
		{"send to unknown session", http.MethodPost, "/sessions/nope/messages", `{"text":"x"}`, http.StatusNotFound},
		{"empty text", http.MethodPost, "/sessions/" + s.CorrelationID + "/messages", `{"text":"  "}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/sessions/" + s.CorrelationID + "/messages", `{"txt":"x"}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/queue", `{`, http.StatusBadRequest},
		{"empty enqueue", http.MethodPost, "/queue", `{"text":""}`, http.StatusBadRequest},
		{"drain unknown session", http.MethodPost, "/sessions/nope/drain", "", http.StatusNotFound},
		{"events unknown session", http.MethodGet, "/sessions/nope/events", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestNoIdentity(t *testing.T) {
	f := newFixture(t, "", nil)
	w := f.do(t, http.MethodPost, "/sessions", `{}`)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestQueueAndDrain(t *testing.T) {
	f := newFixture(t, "Wa11et", nil)
	s := f.startSession(t)

	assert.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/queue", `{"text":"first"}`).Code)
	assert.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/queue", `{"text":"second"}`).Code)

	q := decodeBody[QueueResponse](t, f.do(t, http.MethodGet, "/queue", ""))
	assert.Equal(t, "idle", q.State)
	assert.Equal(t, []string{"first", "second"}, q.Pending)

	w := f.do(t, http.MethodPost, "/sessions/"+s.CorrelationID+"/drain", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decodeBody[ReportResponse](t, w)
	assert.Equal(t, []string{"first", "second"}, report.Processed)
	assert.Empty(t, report.Failed)
	assert.Empty(t, report.Remaining)

	w = f.do(t, http.MethodPost, "/sessions/"+s.CorrelationID+"/drain", "")
	assert.Equal(t, "queue empty", decodeBody[ReportResponse](t, w).Skipped)
}

func TestTimeoutThenRecover(t *testing.T) {
	f := newFixture(t, "Wa11et", []memory.LedgerOption{memory.WithDelay(200 * time.Millisecond)})
	s := f.startSession(t)

	w := f.do(t, http.MethodPost, "/sessions/"+s.CorrelationID+"/messages", `{"text":"slow"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, relay.StatusTimedOut, decodeBody[OutcomeResponse](t, w).Status)

	time.Sleep(250 * time.Millisecond)

	w = f.do(t, http.MethodPost, "/recover", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decodeBody[OutcomeResponse](t, w)
	assert.Equal(t, relay.StatusResolved, out.Status)
	assert.Equal(t, "echo: slow", out.Text)

	w = f.do(t, http.MethodPost, "/recover", "")
	assert.Equal(t, relay.StatusNothingPending, decodeBody[OutcomeResponse](t, w).Status)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, "Wa11et", nil)
	s := f.startSession(t)
	f.do(t, http.MethodPost, "/sessions/"+s.CorrelationID+"/messages", `{"text":"gm"}`)

	w := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `relay_submissions_total{outcome="sent"} 1`)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, "Wa11et", nil, WithRateLimit(1, 2))

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "").Code)
	w := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestClientLimiter_NilAllowsAll(t *testing.T) {
	l := NewClientLimiter(0, 0, 0)
	assert.Nil(t, l)
	assert.True(t, l.Allow("1.2.3.4", time.Now()))
}

func (sm *StreamManager) subscriberCount(id string) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers[id])
}

func TestSubscribeEvents_SSE(t *testing.T) {
	f := newFixture(t, "Wa11et", nil)
	s := f.startSession(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sessions/"+s.CorrelationID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ping\n", line)

	require.Eventually(t, func() bool { return f.streams.subscriberCount(s.CorrelationID) == 1 }, time.Second, 5*time.Millisecond)
	_, err = f.client.Send(context.Background(), s.CorrelationID, "gm")
	require.NoError(t, err)

	var types []string
	for len(types) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
		if !ok || data == "connected" {
			continue
		}
		var ev domain.EventBase
		require.NoError(t, json.Unmarshal([]byte(data), &ev))
		types = append(types, string(ev.Type))
	}
	assert.Equal(t, []string{"submit", "poll_resolved"}, types)
}

func TestStreamWebSocket(t *testing.T) {
	f := newFixture(t, "Wa11et", nil)
	s := f.startSession(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + s.CorrelationID + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return f.streams.subscriberCount(s.CorrelationID) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, f.client.Enqueue(ctx, "queued"))
	_, err = f.client.Drain(ctx, s.CorrelationID)
	require.NoError(t, err)

	var types []string
	for len(types) < 3 {
		typ, data, err := conn.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, websocket.MessageText, typ)
		var ev domain.EventBase
		require.NoError(t, json.NewDecoder(bytes.NewReader(data)).Decode(&ev))
		types = append(types, string(ev.Type))
	}
	assert.Equal(t, []string{"submit", "poll_resolved", "drain"}, types)
}

func TestStreamManager_UnsubscribeIsIdempotent(t *testing.T) {
	sm := NewStreamManager(logging.NewNop())
	ch, cancel := sm.Subscribe("a")
	sm.Broadcast("a", "x")
	assert.Equal(t, "x", <-ch)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, sm.subscriberCount("a"))
	sm.Broadcast("a", "dropped")
}

func TestOpenAPIDocs(t *testing.T) {
	f := newFixture(t, "Wa11et", nil)

	w := f.do(t, http.MethodGet, "/openapi.yaml", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/yaml", w.Header().Get("Content-Type"))
	assert.Equal(t, api.Spec, w.Body.Bytes())

	w = f.do(t, http.MethodGet, "/swagger", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "SwaggerUIBundle")
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t, "Wa11et", nil)
	s := f.startSession(t)

	w := f.do(t, http.MethodPost, "/sessions/"+s.CorrelationID+"/messages", `{"text":7}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "request body has an error")
	assert.Empty(t, f.ledger.Sent())

	w = f.do(t, http.MethodPost, "/queue", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Routes outside the document are left to the router.
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/nope", "").Code)
}

func TestAutoResumeOnOpen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, "Wa11et", nil, WithAutoResume(ctx))

	assert.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/queue", `{"text":"while away"}`).Code)
	s := f.startSession(t)

	require.Eventually(t, func() bool {
		pending, err := f.client.Pending(ctx)
		return err == nil && len(pending) == 0
	}, 2*time.Second, 10*time.Millisecond)

	got, err := f.client.Session(ctx, s.CorrelationID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "while away", got.Messages[0].Text)
	assert.Equal(t, "echo: while away", got.Messages[1].Text)
}
