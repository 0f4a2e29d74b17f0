package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aretw0/relay/internal/logging"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// StreamManager fans lifecycle events out to the subscribers of a session.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{} // correlation id -> set of channels
	logger      *slog.Logger
}

func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a buffered channel for correlationID. The returned func
// unregisters and closes it.
func (sm *StreamManager) Subscribe(correlationID string) (<-chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 16)
	if _, ok := sm.subscribers[correlationID]; !ok {
		sm.subscribers[correlationID] = make(map[chan<- string]struct{})
	}
	sm.subscribers[correlationID][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			if subs, ok := sm.subscribers[correlationID]; ok {
				delete(subs, ch)
				close(ch)
				if len(subs) == 0 {
					delete(sm.subscribers, correlationID)
				}
			}
		})
	}
}

// Broadcast sends msg to every subscriber of correlationID. Slow subscribers miss messages.
func (sm *StreamManager) Broadcast(correlationID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[correlationID] {
		select {
		case ch <- msg:
		default:
			sm.logger.Warn("Stream buffer full, dropping event", "correlation_id", correlationID)
		}
	}
}

func (sm *StreamManager) publish(correlationID string, event any) {
	if correlationID == "" {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		sm.logger.Error("Failed to encode event", "err", err)
		return
	}
	sm.Broadcast(correlationID, string(data))
}

// Hooks publishes submit, poll outcome and drain events to session subscribers.
// Individual fetch attempts are not streamed.
func (sm *StreamManager) Hooks() domain.Hooks {
	return domain.Hooks{
		OnSubmit: func(_ context.Context, e *domain.SubmitEvent) {
			sm.publish(e.CorrelationID, e)
		},
		OnPollResolved: func(_ context.Context, e *domain.PollEvent) {
			sm.publish(e.CorrelationID, e)
		},
		OnPollTimeout: func(_ context.Context, e *domain.PollEvent) {
			sm.publish(e.CorrelationID, e)
		},
		OnDrain: func(_ context.Context, e *domain.DrainEvent) {
			sm.publish(e.CorrelationID, e)
		},
	}
}

// SubscribeEvents handles GET /sessions/{id}/events as server-sent events.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.sessionExists(w, r, id) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe(id)
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	s.resume(id)

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected", "correlation_id", id)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// StreamWebSocket handles GET /sessions/{id}/ws, pushing the same events as text frames.
func (s *Server) StreamWebSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.sessionExists(w, r, id) {
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.logger.Error("Failed to accept WebSocket", "err", err, "correlation_id", id)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			s.logger.Debug("Failed to close websocket", "err", closeErr)
		}
	}()

	// Reads are only used to notice the client going away.
	ctx := ws.CloseRead(r.Context())

	ch, cancel := s.Streams.Subscribe(id)
	defer cancel()
	s.resume(id)

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("WebSocket client disconnected", "correlation_id", id)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := ws.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
				if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
					s.logger.Warn("WebSocket write error", "err", err, "correlation_id", id)
				}
				return
			}
		}
	}
}
