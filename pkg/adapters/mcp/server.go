// Package mcp exposes a relay client as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/relay"
	"github.com/aretw0/relay/internal/logging"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/queue"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Resource URIs.
const (
	SessionsURI = "relay://sessions"
	QueueURI    = "relay://queue"
)

// Relay is the part of *relay.Client exposed as tools.
type Relay interface {
	StartSession(ctx context.Context, title string) (*domain.Session, error)
	Session(ctx context.Context, correlationID string) (*domain.Session, error)
	Sessions(ctx context.Context) ([]domain.Session, error)
	Send(ctx context.Context, correlationID, text string) (relay.Outcome, error)
	Enqueue(ctx context.Context, text string) error
	Pending(ctx context.Context) ([]string, error)
	Drain(ctx context.Context, correlationID string) (queue.Report, error)
	Recover(ctx context.Context) (relay.Outcome, error)
	QueueState() queue.State
}

// OutcomeResult is returned by send_message and recover.
type OutcomeResult struct {
	Status        string           `json:"status" jsonschema_description:"resolved, timed_out, queued or nothing_pending"`
	CorrelationID string           `json:"correlation_id,omitempty" jsonschema_description:"Session the outcome belongs to"`
	Signature     string           `json:"signature,omitempty" jsonschema_description:"Broadcast signature when the action was submitted"`
	Text          string           `json:"text,omitempty" jsonschema_description:"Text produced for the action"`
	Messages      []domain.Message `json:"messages,omitempty" jsonschema_description:"Session history after the operation"`
	Error         string           `json:"error,omitempty" jsonschema_description:"Error reported alongside a queued or timed out outcome"`
}

// QueueResult is returned by enqueue, list_queue and drain_queue.
type QueueResult struct {
	State     string   `json:"state" jsonschema_description:"idle or draining"`
	Pending   []string `json:"pending" jsonschema_description:"Queued actions in FIFO order"`
	Skipped   string   `json:"skipped,omitempty" jsonschema_description:"Why a drain did not run"`
	Processed []string `json:"processed,omitempty" jsonschema_description:"Actions submitted by the drain"`
	Failed    []string `json:"failed,omitempty" jsonschema_description:"Actions that stayed queued"`
}

// SessionResult wraps a session for structured output.
type SessionResult struct {
	Session domain.Session `json:"session"`
}

// SessionsResult lists sessions.
type SessionsResult struct {
	Sessions []domain.Session `json:"sessions"`
}

// Server wraps a Relay and exposes it as an MCP Server.
type Server struct {
	relay     Relay
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// NewServer creates a new MCP Server instance. A nil logger discards logs.
func NewServer(r Relay, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		relay:     r,
		mcpServer: server.NewMCPServer("relay-mcp", strings.TrimSpace(relay.Version)),
		logger:    logger,
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the SSE transport on port until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("start_session",
		mcp.WithDescription("Start a new session for the connected wallet."),
		mcp.WithString("title", mcp.Description("Optional session title")),
		mcp.WithOutputSchema[SessionResult](),
	), mcp.NewStructuredToolHandler(s.handleStartSession))

	s.mcpServer.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List every known session with its history."),
		mcp.WithOutputSchema[SessionsResult](),
	), mcp.NewStructuredToolHandler(s.handleListSessions))

	s.mcpServer.AddTool(mcp.NewTool("get_session",
		mcp.WithDescription("Get one session and its message history."),
		mcp.WithString("correlation_id", mcp.Required(), mcp.Description("Session correlation id")),
		mcp.WithOutputSchema[SessionResult](),
	), mcp.NewStructuredToolHandler(s.handleGetSession))

	s.mcpServer.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Submit text in a session and wait, within the poll budget, for the produced result."),
		mcp.WithString("correlation_id", mcp.Required(), mcp.Description("Session correlation id")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Action text")),
		mcp.WithOutputSchema[OutcomeResult](),
	), mcp.NewStructuredToolHandler(s.handleSend))

	s.mcpServer.AddTool(mcp.NewTool("enqueue",
		mcp.WithDescription("Store text in the pending queue without submitting it."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Action text")),
		mcp.WithOutputSchema[QueueResult](),
	), mcp.NewStructuredToolHandler(s.handleEnqueue))

	s.mcpServer.AddTool(mcp.NewTool("list_queue",
		mcp.WithDescription("List pending actions."),
		mcp.WithOutputSchema[QueueResult](),
	), mcp.NewStructuredToolHandler(s.handleListQueue))

	s.mcpServer.AddTool(mcp.NewTool("drain_queue",
		mcp.WithDescription("Submit pending actions into a session, oldest first."),
		mcp.WithString("correlation_id", mcp.Required(), mcp.Description("Session receiving the actions")),
		mcp.WithOutputSchema[QueueResult](),
	), mcp.NewStructuredToolHandler(s.handleDrain))

	s.mcpServer.AddTool(mcp.NewTool("recover",
		mcp.WithDescription("Resume the poll left unresolved by an earlier timeout or restart."),
		mcp.WithOutputSchema[OutcomeResult](),
	), mcp.NewStructuredToolHandler(s.handleRecover))
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func (s *Server) handleStartSession(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (SessionResult, error) {
	session, err := s.relay.StartSession(ctx, stringArg(args, "title"))
	if err != nil {
		return SessionResult{}, fmt.Errorf("start session failed: %w", err)
	}
	return SessionResult{Session: *session}, nil
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (SessionsResult, error) {
	sessions, err := s.relay.Sessions(ctx)
	if err != nil {
		return SessionsResult{}, fmt.Errorf("list sessions failed: %w", err)
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	return SessionsResult{Sessions: sessions}, nil
}

func (s *Server) handleGetSession(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (SessionResult, error) {
	session, err := s.relay.Session(ctx, stringArg(args, "correlation_id"))
	if err != nil {
		return SessionResult{}, err
	}
	return SessionResult{Session: *session}, nil
}

func (s *Server) handleSend(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (OutcomeResult, error) {
	out, err := s.relay.Send(ctx, stringArg(args, "correlation_id"), stringArg(args, "text"))
	if err != nil && out.Status == "" {
		return OutcomeResult{}, err
	}
	if err != nil {
		s.logger.Warn("MCP send_message: action not resolved", "correlation_id", out.CorrelationID, "err", err)
	}
	return toOutcome(out, err), nil
}

func (s *Server) handleEnqueue(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (QueueResult, error) {
	if err := s.relay.Enqueue(ctx, stringArg(args, "text")); err != nil {
		return QueueResult{}, err
	}
	return s.queueResult(ctx)
}

func (s *Server) handleListQueue(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (QueueResult, error) {
	return s.queueResult(ctx)
}

func (s *Server) handleDrain(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (QueueResult, error) {
	report, err := s.relay.Drain(ctx, stringArg(args, "correlation_id"))
	if err != nil && !errors.Is(err, context.Canceled) {
		return QueueResult{}, err
	}

	res, qerr := s.queueResult(ctx)
	if qerr != nil {
		return QueueResult{}, qerr
	}
	res.Skipped = report.Skipped
	res.Processed = report.Processed
	for _, f := range report.Failed {
		res.Failed = append(res.Failed, fmt.Sprintf("%s: %v", f.Text, f.Err))
	}
	return res, nil
}

func (s *Server) handleRecover(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (OutcomeResult, error) {
	out, err := s.relay.Recover(ctx)
	if err != nil && out.Status == "" {
		return OutcomeResult{}, err
	}
	return toOutcome(out, err), nil
}

func (s *Server) queueResult(ctx context.Context) (QueueResult, error) {
	pending, err := s.relay.Pending(ctx)
	if err != nil {
		return QueueResult{}, err
	}
	if pending == nil {
		pending = []string{}
	}
	return QueueResult{State: s.relay.QueueState().String(), Pending: pending}, nil
}

func toOutcome(out relay.Outcome, err error) OutcomeResult {
	res := OutcomeResult{
		Status:        string(out.Status),
		CorrelationID: out.CorrelationID,
		Signature:     out.Signature,
		Text:          out.Text,
		Messages:      out.Messages,
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(SessionsURI, "Sessions",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sessions, err := s.relay.Sessions(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		return jsonResource(SessionsURI, sessions)
	})

	s.mcpServer.AddResource(mcp.NewResource(QueueURI, "Pending queue",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		res, err := s.queueResult(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read queue: %w", err)
		}
		return jsonResource(QueueURI, res)
	})
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
