package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agent-relay/log"
	"agent-relay/session"
)

// allowedOrigins returns the configured browser origins, comma-separated in
// ALLOWED_ORIGINS.
func allowedOrigins() []string {
	origins := os.Getenv("ALLOWED_ORIGINS")
	if origins == "" {
		return nil
	}
	return strings.Split(origins, ",")
}

// checkOrigin validates the Origin header. Requests without one come from
// non-browser clients and are allowed; browser cross-origin requests must
// match the configured list, which supports "*" and wildcard ports
// ("http://localhost:*").
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	for _, a := range allowedOrigins() {
		a = strings.TrimSpace(a)
		if a == origin || a == "*" {
			return true
		}
		if strings.HasSuffix(a, ":*") {
			prefix := strings.TrimSuffix(a, "*")
			if strings.HasPrefix(origin, prefix) && isNumeric(strings.TrimPrefix(origin, prefix)) {
				return true
			}
		}
	}
	return false
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// Server exposes one orchestrator over HTTP and WebSocket.
type Server struct {
	orch       *session.Orchestrator
	summarizer *session.Summarizer
	mux        *http.ServeMux

	mu      sync.Mutex
	clients map[string]*Client

	httpSrv *http.Server
}

// New wires a Server to the orchestrator. The caller is responsible for
// routing the orchestrator's hooks into BroadcastQueue and BroadcastStatus;
// screen flushes arrive through each client's consumer registration.
func New(orch *session.Orchestrator) *Server {
	s := &Server{
		orch:       orch,
		summarizer: session.NewSummarizer(),
		mux:        http.NewServeMux(),
		clients:    make(map[string]*Client),
	}

	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.mux.HandleFunc("GET /queue", s.handleQueue)
	s.mux.HandleFunc("GET /transcript", s.handleTranscript)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /summary", s.handleSummary)
	return s
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe runs the server until ctx is cancelled, then drains
// connections.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()
	log.InfoLog.Printf("listening on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WarningLog.Printf("websocket upgrade failed: %v", err)
		return
	}

	client := newClient(conn, s.orch)
	s.mu.Lock()
	s.clients[client.name] = client
	s.mu.Unlock()
	s.orch.Register(client)

	// The newcomer should not stare at a blank pane until the next flush.
	client.enqueueEvent(event{Type: "queue", Items: s.orch.Items()})
	client.enqueueEvent(event{Type: "status", Status: s.orch.Status().String()})
	_ = client.Send(s.orch.Screen())

	go client.writePump()
	go func() {
		client.readPump()
		s.orch.Unregister(client.name)
		s.mu.Lock()
		delete(s.clients, client.name)
		s.mu.Unlock()
	}()
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"items": s.orch.Items()})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"turns": s.orch.Turns()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":    s.orch.Status().String(),
		"consumers": s.consumerCount(),
	})
}

// handleSummary serves a one-line description of the session, regenerated at
// most once per cooldown.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.summarizer.Refresh(r.Context(), s.orch.Screen())
	if err != nil {
		log.WarningLog.Printf("summary refresh failed: %v", err)
	}
	writeJSON(w, map[string]any{"summary": summary})
}

func (s *Server) consumerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// BroadcastQueue pushes the queue snapshot to every client.
func (s *Server) BroadcastQueue() {
	s.broadcast(event{Type: "queue", Items: s.orch.Items()})
}

// BroadcastStatus pushes the session status to every client.
func (s *Server) BroadcastStatus(status session.Status) {
	s.broadcast(event{Type: "status", Status: status.String()})
}

func (s *Server) broadcast(ev event) {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.enqueueEvent(ev)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WarningLog.Printf("encoding response: %v", err)
	}
}
