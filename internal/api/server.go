// Package api exposes the orchestration HTTP surface: query routing, agent
// listing, health probes and a websocket event stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neurofetch/neurofetch-go/internal/bus"
	"github.com/neurofetch/neurofetch-go/internal/orchestrator"
	"github.com/neurofetch/neurofetch-go/internal/providers"
	"github.com/neurofetch/neurofetch-go/internal/registry"
)

// Router answers one query end to end. Satisfied by the orchestrator.
type Router interface {
	Route(ctx context.Context, query string, extra map[string]any) orchestrator.RouteResponse
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Port     int
	Router   Router
	Registry *registry.Registry
	Provider providers.LLMProvider
	Bus      *bus.Server // optional, enriches /agents with live bus records
}

// Server is the orchestration HTTP API server.
type Server struct {
	port     int
	router   Router
	registry *registry.Registry
	provider providers.LLMProvider
	busSrv   *bus.Server

	wsConns map[*wsConn]bool
	wsMu    sync.Mutex

	activeRequests atomic.Int64
	totalRequests  atomic.Int64
	totalLatencyMs atomic.Int64
	startTime      time.Time

	mux *http.ServeMux
	srv *http.Server
}

// NewServer creates the API server and registers its routes.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		port:      cfg.Port,
		router:    cfg.Router,
		registry:  cfg.Registry,
		provider:  cfg.Provider,
		busSrv:    cfg.Bus,
		wsConns:   make(map[*wsConn]bool),
		startTime: time.Now(),
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/health/", s.handleAgentHealth)
	s.mux.HandleFunc("/route_query", s.handleRouteQuery)
	s.mux.HandleFunc("/agents", s.handleAgents)
	s.mux.HandleFunc("/ws", s.handleWS)

	return s
}

// Handler returns the route mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", s.port),
		Handler: s.mux,
	}

	log.Printf("[API] Listening on http://0.0.0.0:%d", s.port)

	go func() {
		<-ctx.Done()
		s.closeAllWS()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"status":        "ok",
		"uptime":        int(time.Since(s.startTime).Seconds()),
		"totalRequests": s.totalRequests.Load(),
	})
}

// handleAgentHealth probes one agent (or the LLM) with a minimal input.
func (s *Server) handleAgentHealth(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/health/")

	if name == "llm" {
		out, err := s.provider.Complete(r.Context(), "health check")
		if err != nil {
			writeJSON(w, map[string]any{"status": "error", "error": err.Error()})
			return
		}
		writeJSON(w, map[string]any{"status": "ok", "result": out})
		return
	}

	agent := s.registry.Get(name)
	if agent == nil {
		writeJSONError(w, fmt.Sprintf("unknown agent: %s", name), http.StatusNotFound)
		return
	}

	input := map[string]any{"query": "health check"}
	if agent.Kind() == "retrieval" {
		input = map[string]any{"queries": []string{"health check"}}
	}
	result := agent.Process(r.Context(), input)
	status := "ok"
	if !result.Success {
		status = "error"
	}
	writeJSON(w, map[string]any{"status": status, "result": result})
}

// routeRequest is the JSON body for /route_query.
type routeRequest struct {
	Query   string         `json:"query"`
	Context map[string]any `json:"context"`
}

func (s *Server) handleRouteQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSONError(w, "query is required", http.StatusBadRequest)
		return
	}

	s.activeRequests.Add(1)
	start := time.Now()
	defer func() {
		s.activeRequests.Add(-1)
		s.totalRequests.Add(1)
		s.totalLatencyMs.Add(time.Since(start).Milliseconds())
	}()

	resp := s.router.Route(r.Context(), req.Query, req.Context)

	s.broadcast(map[string]any{
		"type":    "route",
		"agent":   resp.Agent,
		"trace":   resp.Trace,
		"elapsed": resp.Elapsed,
	})

	writeJSON(w, resp)
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{
		"agents": s.registry.List(),
		"total":  len(s.registry.List()),
	}
	if s.busSrv != nil {
		out["bus"] = s.busSrv.Agents()
	}
	writeJSON(w, out)
}

// --- WebSocket event stream ---

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn wraps a websocket.Conn with a write mutex.
// gorilla/websocket does NOT support concurrent writes.
type wsConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) writeJSONSafe(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteJSON(v)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[API] WS upgrade failed: %v", err)
		return
	}

	wc := &wsConn{Conn: conn}
	s.wsMu.Lock()
	s.wsConns[wc] = true
	total := len(s.wsConns)
	s.wsMu.Unlock()
	log.Printf("[API] WS client connected (%d total)", total)

	// reader only detects close; the stream is one-way
	go func() {
		defer func() {
			s.wsMu.Lock()
			delete(s.wsConns, wc)
			s.wsMu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// broadcast pushes an event to every websocket client.
func (s *Server) broadcast(event map[string]any) {
	s.wsMu.Lock()
	conns := make([]*wsConn, 0, len(s.wsConns))
	for c := range s.wsConns {
		conns = append(conns, c)
	}
	s.wsMu.Unlock()

	for _, c := range conns {
		if err := c.writeJSONSafe(event); err != nil {
			log.Printf("[API] WS write failed: %v", err)
		}
	}
}

// WSConnectionCount returns the number of connected websocket clients.
func (s *Server) WSConnectionCount() int {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return len(s.wsConns)
}

func (s *Server) closeAllWS() {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	for c := range s.wsConns {
		c.Close()
		delete(s.wsConns, c)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
