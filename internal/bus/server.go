package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// AgentStatus is the lifecycle state of a registered agent.
type AgentStatus string

const (
	StatusActive   AgentStatus = "active"
	StatusInactive AgentStatus = "inactive"
)

// AgentRecord describes a registered agent. Created on registration, its
// LastHeartbeat is refreshed on every heartbeat. Records are never deleted;
// the staleness sweep only flips Status to inactive.
type AgentRecord struct {
	ID            string      `json:"id"`
	Kind          string      `json:"kind"`
	Capabilities  []string    `json:"capabilities"`
	Status        AgentStatus `json:"status"`
	RegisteredAt  time.Time   `json:"registered_at"`
	LastHeartbeat time.Time   `json:"last_heartbeat,omitempty"`
}

// EndpointFunc executes a model call for a dispatched request and returns the
// response payload. The call may block; the dispatch loop waits for it.
type EndpointFunc func(ctx context.Context, data map[string]any) (map[string]any, error)

// EndpointRecord describes a registered model endpoint.
type EndpointRecord struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Address string `json:"address"`
	Status  string `json:"status"`

	fn EndpointFunc
}

// serverConn is one accepted agent connection. Writes go through the dispatch
// loop only; the mutex guards against a racing close.
type serverConn struct {
	nc     net.Conn
	remote string
	mu     sync.Mutex
	closed bool
}

func (c *serverConn) send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	_, err = c.nc.Write(append(data, '\n'))
	return err
}

func (c *serverConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.nc.Close()
	}
}

// inbound pairs a decoded message with the connection it arrived on.
type inbound struct {
	msg  Message
	conn *serverConn
}

// ServerConfig configures the bus Server.
type ServerConfig struct {
	Addr       string        // listen address (default: "127.0.0.1:8790")
	QueueSize  int           // dispatch queue capacity (default: 256)
	SweepEvery time.Duration // staleness sweep interval; 0 disables
	SweepAfter time.Duration // heartbeat age before an agent goes inactive
}

// Server is the single rendezvous point for agents and model endpoints.
//
// Each accepted connection runs its own read loop that only decodes frames
// and pushes them onto one shared FIFO queue. A single dispatch goroutine
// consumes the queue in arrival order and owns all registry state, so no two
// messages are ever processed out of enqueue order.
type Server struct {
	cfg ServerConfig
	ln  net.Listener

	queue chan inbound

	mu        sync.RWMutex // guards snapshots; mutations happen on the dispatch loop (or pre-Start)
	agents    map[string]*AgentRecord
	endpoints map[string]*EndpointRecord
	conns     map[string]*serverConn // agentID → connection, for response routing
}

// NewServer creates a bus server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8790"
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 256
	}
	if cfg.SweepAfter == 0 {
		cfg.SweepAfter = 90 * time.Second
	}
	return &Server{
		cfg:       cfg,
		queue:     make(chan inbound, cfg.QueueSize),
		agents:    make(map[string]*AgentRecord),
		endpoints: make(map[string]*EndpointRecord),
		conns:     make(map[string]*serverConn),
	}
}

// RegisterAgent inserts or overwrites an agent record. Idempotent.
func (s *Server) RegisterAgent(id, kind string, capabilities []string) {
	s.mu.Lock()
	s.agents[id] = &AgentRecord{
		ID:           id,
		Kind:         kind,
		Capabilities: capabilities,
		Status:       StatusActive,
		RegisteredAt: time.Now().UTC(),
	}
	s.mu.Unlock()
	log.Printf("[Bus] Agent %s (%s) registered", id, kind)
}

// RegisterEndpoint inserts or overwrites a model endpoint. Idempotent.
func (s *Server) RegisterEndpoint(id, kind, address string, fn EndpointFunc) {
	s.mu.Lock()
	s.endpoints[id] = &EndpointRecord{ID: id, Kind: kind, Address: address, Status: "active", fn: fn}
	s.mu.Unlock()
	log.Printf("[Bus] Endpoint %s (%s) registered at %s", id, kind, address)
}

// Agents returns a snapshot of all agent records.
func (s *Server) Agents() []AgentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AgentRecord, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, *a)
	}
	return out
}

// Addr returns the bound listen address, valid after Start.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Addr
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("bus listen: %w", err)
	}
	s.ln = ln
	log.Printf("[Bus] Listening on %s", ln.Addr())

	go s.dispatchLoop(ctx)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("bus accept: %w", err)
			}
		}
		conn := &serverConn{nc: nc, remote: nc.RemoteAddr().String()}
		go s.readLoop(ctx, conn)
	}
}

// readLoop decodes one message per frame and enqueues it. It never processes
// a message inline, so a slow agent cannot stall the dispatch path.
func (s *Server) readLoop(ctx context.Context, conn *serverConn) {
	defer conn.close()
	log.Printf("[Bus] Client connected from %s", conn.remote)

	scanner := bufio.NewScanner(conn.nc)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Printf("[Bus] Malformed frame from %s, closing: %v", conn.remote, err)
			return
		}
		select {
		case s.queue <- inbound{msg: msg, conn: conn}:
		case <-ctx.Done():
			return
		}
	}
	log.Printf("[Bus] Client %s disconnected", conn.remote)
}

// dispatchLoop is the sole consumer of the queue and the sole owner of the
// agent, endpoint and connection tables after Start.
func (s *Server) dispatchLoop(ctx context.Context) {
	var sweep <-chan time.Time
	if s.cfg.SweepEvery > 0 {
		t := time.NewTicker(s.cfg.SweepEvery)
		defer t.Stop()
		sweep = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep:
			s.sweepStale()
		case in := <-s.queue:
			s.handleMessage(ctx, in)
		}
	}
}

// handleMessage routes one message by kind. Errors are contained per message
// so a bad frame cannot stop the loop.
func (s *Server) handleMessage(ctx context.Context, in inbound) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Bus] Panic handling message %s: %v", in.msg.ID, r)
		}
	}()

	switch in.msg.Type {
	case TypeRequest:
		s.handleRequest(ctx, in)
	case TypeResponse, TypeError:
		s.forward(in.msg)
	case TypeHeartbeat:
		s.handleHeartbeat(in.msg)
	default:
		log.Printf("[Bus] Dropping message %s with unknown type %q", in.msg.ID, in.msg.Type)
	}
}

func (s *Server) handleRequest(ctx context.Context, in inbound) {
	msg := in.msg

	if action, _ := msg.Data["action"].(string); action == "register" {
		kind, _ := msg.Data["agent_type"].(string)
		caps := toStrings(msg.Data["capabilities"])
		s.RegisterAgent(msg.AgentID, kind, caps)
		s.mu.Lock()
		s.conns[msg.AgentID] = in.conn
		s.mu.Unlock()
		s.reply(in.conn, msg, map[string]any{"status": "registered"})
		return
	}

	s.mu.RLock()
	_, known := s.agents[msg.AgentID]
	s.mu.RUnlock()
	if !known {
		s.replyError(in.conn, msg, CodeUnknownAgent, fmt.Sprintf("agent %s not registered", msg.AgentID))
		return
	}

	endpointID, _ := msg.Data["endpoint_id"].(string)
	if endpointID == "" {
		endpointID = "default"
	}
	s.mu.RLock()
	ep := s.endpoints[endpointID]
	s.mu.RUnlock()
	if ep == nil {
		s.replyError(in.conn, msg, CodeUnknownEndpoint, fmt.Sprintf("endpoint %s not available", endpointID))
		return
	}

	result, err := ep.fn(ctx, msg.Data)
	if err != nil {
		s.replyError(in.conn, msg, "", err.Error())
		return
	}
	s.reply(in.conn, msg, result)
}

// forward delivers a response/error to the connection its target agent
// registered from. Messages for agents with no live connection are dropped.
func (s *Server) forward(msg Message) {
	s.mu.RLock()
	conn := s.conns[msg.AgentID]
	s.mu.RUnlock()
	if conn == nil {
		log.Printf("[Bus] No connection for agent %s, dropping %s %s", msg.AgentID, msg.Type, msg.ID)
		return
	}
	if err := conn.send(msg); err != nil {
		log.Printf("[Bus] Forward to %s failed: %v", msg.AgentID, err)
	}
}

func (s *Server) handleHeartbeat(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.agents[msg.AgentID]; ok {
		a.LastHeartbeat = time.Now().UTC()
		a.Status = StatusActive
	}
}

// sweepStale marks agents whose last heartbeat is older than SweepAfter as
// inactive. Records are never removed.
func (s *Server) sweepStale() {
	cutoff := time.Now().UTC().Add(-s.cfg.SweepAfter)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.agents {
		if a.Status == StatusActive && !a.LastHeartbeat.IsZero() && a.LastHeartbeat.Before(cutoff) {
			a.Status = StatusInactive
			log.Printf("[Bus] Agent %s marked inactive (last heartbeat %s)", id, a.LastHeartbeat.Format(time.RFC3339))
		}
	}
}

func (s *Server) reply(conn *serverConn, req Message, data map[string]any) {
	resp := NewMessage(TypeResponse, req.AgentID, data)
	resp.CorrelationID = req.ID
	if err := conn.send(resp); err != nil {
		log.Printf("[Bus] Reply to %s failed: %v", req.AgentID, err)
	}
}

func (s *Server) replyError(conn *serverConn, req Message, code, errText string) {
	data := map[string]any{
		"error":            errText,
		"original_request": req.Data,
	}
	if code != "" {
		data["code"] = code
	}
	resp := NewMessage(TypeError, req.AgentID, data)
	resp.CorrelationID = req.ID
	if err := conn.send(resp); err != nil {
		log.Printf("[Bus] Error reply to %s failed: %v", req.AgentID, err)
	}
}

func toStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
