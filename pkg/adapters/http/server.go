// Package http exposes a relay client as a JSON API with event streams.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/relay"
	"github.com/aretw0/relay/internal/logging"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/queue"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Relay is the part of *relay.Client served over HTTP.
type Relay interface {
	StartSession(ctx context.Context, title string) (*domain.Session, error)
	Session(ctx context.Context, correlationID string) (*domain.Session, error)
	Sessions(ctx context.Context) ([]domain.Session, error)
	Send(ctx context.Context, correlationID, text string) (relay.Outcome, error)
	Enqueue(ctx context.Context, text string) error
	Pending(ctx context.Context) ([]string, error)
	Drain(ctx context.Context, correlationID string) (queue.Report, error)
	Recover(ctx context.Context) (relay.Outcome, error)
	Resume(ctx context.Context, correlationID string) (relay.Outcome, queue.Report, error)
	QueueState() queue.State
}

var _ Relay = (*relay.Client)(nil)

// Server serves a Relay.
type Server struct {
	Relay   Relay
	Streams *StreamManager

	limiter        *ClientLimiter
	gatherer       prometheus.Gatherer
	originPatterns []string
	resumeCtx      context.Context
	spec           *openapi3.T
	logger         *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithStreams shares a StreamManager whose Hooks were given to the client.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		s.Streams = sm
	}
}

// WithRateLimit limits each client address to rps requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		s.limiter = NewClientLimiter(rps, burst, 0)
	}
}

// WithMetrics serves g on GET /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithOriginPatterns sets the origins accepted for websocket upgrades.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) {
		s.originPatterns = patterns
	}
}

// WithAutoResume resumes an unresolved poll and drains the pending queue into a session
// each time it is opened: created, or subscribed to over SSE or WebSocket.
// The work runs in the background and stops when ctx is done.
func WithAutoResume(ctx context.Context) Option {
	return func(s *Server) {
		s.resumeCtx = ctx
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a Server. Without WithStreams a private StreamManager is used.
func NewServer(r Relay, opts ...Option) *Server {
	s := &Server{Relay: r}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager(s.logger)
	}
	return s
}

// NewHandler creates the HTTP handler for r.
func NewHandler(r Relay, opts ...Option) http.Handler {
	return NewServer(r, opts...).Routes()
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(enableCORS)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}
	if s.spec != nil {
		r.Use(s.validator())
	}

	r.Get("/openapi.yaml", s.GetSpec)
	r.Get("/swagger", s.GetSwagger)
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.ListSessions)
		r.Post("/", s.StartSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetSession)
			r.Post("/messages", s.SendMessage)
			r.Post("/drain", s.DrainQueue)
			r.Get("/events", s.SubscribeEvents)
			r.Get("/ws", s.StreamWebSocket)
		})
	})
	r.Get("/queue", s.GetQueue)
	r.Post("/queue", s.EnqueueAction)
	r.Post("/recover", s.Recover)

	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type startSessionRequest struct {
	Title string `json:"title"`
}

type textRequest struct {
	Text string `json:"text"`
}

// OutcomeResponse is the body returned by send and recover.
type OutcomeResponse struct {
	Status        relay.Status     `json:"status"`
	CorrelationID string           `json:"correlation_id,omitempty"`
	Signature     string           `json:"signature,omitempty"`
	Text          string           `json:"text,omitempty"`
	Messages      []domain.Message `json:"messages,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// ReportResponse is the body returned by drain.
type ReportResponse struct {
	Skipped   string          `json:"skipped,omitempty"`
	Cause     string          `json:"cause,omitempty"`
	Processed []string        `json:"processed"`
	Failed    []FailureDetail `json:"failed"`
	Remaining []string        `json:"remaining"`
}

// FailureDetail is a queued action that stayed queued.
type FailureDetail struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// QueueResponse is the body returned by GET /queue.
type QueueResponse struct {
	State   string   `json:"state"`
	Pending []string `json:"pending"`
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "relay-http",
		"version": strings.TrimSpace(relay.Version),
	})
}

// ListSessions handles GET /sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.Relay.Sessions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

// StartSession handles POST /sessions.
func (s *Server) StartSession(w http.ResponseWriter, r *http.Request) {
	var body startSessionRequest
	if r.ContentLength != 0 {
		if !s.decode(w, r, &body) {
			return
		}
	}
	session, err := s.Relay.StartSession(r.Context(), body.Title)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, session)
	s.resume(session.CorrelationID)
}

// GetSession handles GET /sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.Relay.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

// SendMessage handles POST /sessions/{id}/messages.
// Resolved results return 200. Timed out and queued actions return 202.
func (s *Server) SendMessage(w http.ResponseWriter, r *http.Request) {
	var body textRequest
	if !s.decode(w, r, &body) {
		return
	}
	out, err := s.Relay.Send(r.Context(), chi.URLParam(r, "id"), body.Text)
	if err != nil && out.Status == "" {
		s.writeError(w, err)
		return
	}
	s.writeOutcome(w, out, err)
}

// DrainQueue handles POST /sessions/{id}/drain.
func (s *Server) DrainQueue(w http.ResponseWriter, r *http.Request) {
	report, err := s.Relay.Drain(r.Context(), chi.URLParam(r, "id"))
	if err != nil && report.Skipped == "" && report.Processed == nil && report.Failed == nil {
		s.writeError(w, err)
		return
	}

	resp := ReportResponse{
		Skipped:   report.Skipped,
		Processed: nonNil(report.Processed),
		Failed:    []FailureDetail{},
		Remaining: nonNil(report.Remaining),
	}
	if report.Cause != nil {
		resp.Cause = report.Cause.Error()
	}
	for _, f := range report.Failed {
		resp.Failed = append(resp.Failed, FailureDetail{Text: f.Text, Error: f.Err.Error()})
	}
	status := http.StatusOK
	if report.Skipped == queue.SkipDraining {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, resp)
}

// GetQueue handles GET /queue.
func (s *Server) GetQueue(w http.ResponseWriter, r *http.Request) {
	pending, err := s.Relay.Pending(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, QueueResponse{
		State:   s.Relay.QueueState().String(),
		Pending: nonNil(pending),
	})
}

// EnqueueAction handles POST /queue.
func (s *Server) EnqueueAction(w http.ResponseWriter, r *http.Request) {
	var body textRequest
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.Relay.Enqueue(r.Context(), body.Text); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": string(relay.StatusQueued)})
}

// Recover handles POST /recover.
func (s *Server) Recover(w http.ResponseWriter, r *http.Request) {
	out, err := s.Relay.Recover(r.Context())
	if err != nil && out.Status == "" {
		s.writeError(w, err)
		return
	}
	s.writeOutcome(w, out, err)
}

func (s *Server) resume(id string) {
	if s.resumeCtx == nil {
		return
	}
	go func() {
		out, report, err := s.Relay.Resume(s.resumeCtx, id)
		if err != nil {
			if s.resumeCtx.Err() == nil {
				s.logger.Warn("Resume on open failed", "correlation_id", id, "err", err)
			}
			return
		}
		if out.Status != relay.StatusNothingPending || len(report.Processed) > 0 || len(report.Failed) > 0 {
			s.logger.Info("Session resumed", "correlation_id", id, "recovered", out.Status,
				"drained", len(report.Processed), "failed", len(report.Failed))
		}
	}()
}

func (s *Server) sessionExists(w http.ResponseWriter, r *http.Request, id string) bool {
	if _, err := s.Relay.Session(r.Context(), id); err != nil {
		s.writeError(w, err)
		return false
	}
	return true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.logger.Warn("Invalid request body", "path", r.URL.Path, "err", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeOutcome(w http.ResponseWriter, out relay.Outcome, err error) {
	resp := OutcomeResponse{
		Status:        out.Status,
		CorrelationID: out.CorrelationID,
		Signature:     out.Signature,
		Text:          out.Text,
		Messages:      out.Messages,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	status := http.StatusOK
	if out.Status == relay.StatusTimedOut || out.Status == relay.StatusQueued {
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrEmptyAction):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrIdentityUnavailable):
		status = http.StatusPreconditionFailed
	case errors.Is(err, domain.ErrSeedExhausted):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "err", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "err", err)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
