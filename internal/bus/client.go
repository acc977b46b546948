package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ClientState is the connection state of a bus client.
type ClientState int32

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
)

func (s ClientState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Handler observes an unsolicited message kind on a client.
type Handler func(Message)

// ClientConfig configures a bus Client.
type ClientConfig struct {
	AgentID      string
	Addr         string // server address (default: "127.0.0.1:8790")
	Kind         string // agent kind sent at registration (default: "general")
	Capabilities []string
	DialTimeout  time.Duration // default: 5s
}

// Client is the per-agent facade over the bus. A component that needs bus
// access owns a Client and delegates to it; there is no reconnect logic, a
// dropped connection stays dropped until the owner calls Connect again.
type Client struct {
	cfg   ClientConfig
	state atomic.Int32

	conn    net.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan Message // correlationID → completion
	handlers map[MessageType]Handler
}

// NewClient creates a bus client for the given agent.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8790"
	}
	if cfg.Kind == "" {
		cfg.Kind = "general"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &Client{
		cfg:      cfg,
		pending:  make(map[string]chan Message),
		handlers: make(map[MessageType]Handler),
	}
}

// State returns the current connection state.
func (c *Client) State() ClientState { return ClientState(c.state.Load()) }

// Connect dials the server, starts the read loop and sends the registration
// request. It does not wait for the registration response.
func (c *Client) Connect(ctx context.Context) error {
	c.state.Store(int32(StateConnecting))

	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return fmt.Errorf("%w: dial %s: %v", ErrNotConnected, c.cfg.Addr, err)
	}
	c.conn = conn
	c.state.Store(int32(StateConnected))
	log.Printf("[Bus:%s] Connected to %s", c.cfg.AgentID, c.cfg.Addr)

	go c.readLoop()

	reg := NewMessage(TypeRequest, c.cfg.AgentID, map[string]any{
		"action":       "register",
		"agent_type":   c.cfg.Kind,
		"capabilities": c.cfg.Capabilities,
	})

	// consume the registration ack in the background so it does not land in
	// the unsolicited path; Connect itself does not wait for it
	done := make(chan Message, 1)
	c.mu.Lock()
	c.pending[reg.ID] = done
	c.mu.Unlock()

	if err := c.send(reg); err != nil {
		c.removePending(reg.ID)
		return err
	}
	go func() {
		ack := <-done
		if ack.Type == TypeError {
			log.Printf("[Bus:%s] Registration rejected: %v", c.cfg.AgentID, ack.Data["error"])
		}
	}()
	return nil
}

// Disconnect closes the connection and fails all pending calls.
func (c *Client) Disconnect() {
	if c.State() == StateDisconnected {
		return
	}
	c.state.Store(int32(StateDisconnected))
	if c.conn != nil {
		c.conn.Close()
	}
	c.failPending()
	log.Printf("[Bus:%s] Disconnected", c.cfg.AgentID)
}

// Call sends a correlated request and blocks until the matching response or
// error arrives, or timeout elapses. Concurrent calls are independent and may
// complete in any order.
func (c *Client) Call(ctx context.Context, data map[string]any, timeout time.Duration) (map[string]any, error) {
	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}

	msg := NewMessage(TypeRequest, c.cfg.AgentID, data)
	done := make(chan Message, 1)

	c.mu.Lock()
	c.pending[msg.ID] = done
	c.mu.Unlock()

	if err := c.send(msg); err != nil {
		c.removePending(msg.ID)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-done:
		if reply.Type == TypeError {
			return nil, remoteError(reply.Data)
		}
		return reply.Data, nil
	case <-timer.C:
		c.removePending(msg.ID)
		return nil, fmt.Errorf("%w after %s", ErrCallTimeout, timeout)
	case <-ctx.Done():
		c.removePending(msg.ID)
		return nil, ctx.Err()
	}
}

// CallEndpoint is Call with an explicit model endpoint target.
func (c *Client) CallEndpoint(ctx context.Context, endpointID string, data map[string]any, timeout time.Duration) (map[string]any, error) {
	if data == nil {
		data = map[string]any{}
	}
	data["endpoint_id"] = endpointID
	return c.Call(ctx, data, timeout)
}

// Heartbeat sends a single heartbeat frame.
func (c *Client) Heartbeat() error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	msg := NewMessage(TypeHeartbeat, c.cfg.AgentID, map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	return c.send(msg)
}

// StartHeartbeat sends heartbeats every interval until the client disconnects
// or ctx is cancelled. Stops silently on disconnect.
func (c *Client) StartHeartbeat(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if c.State() != StateConnected {
				return
			}
			if err := c.Heartbeat(); err != nil {
				log.Printf("[Bus:%s] Heartbeat failed: %v", c.cfg.AgentID, err)
				return
			}
		}
	}
}

// RegisterHandler observes an unsolicited message kind. Responses and errors
// are always consumed by the pending-call table first; handlers only see
// kinds with no pending correlation. Unhandled kinds are logged and dropped.
func (c *Client) RegisterHandler(t MessageType, h Handler) {
	c.mu.Lock()
	c.handlers[t] = h
	c.mu.Unlock()
}

func (c *Client) send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	_, err = c.conn.Write(append(data, '\n'))
	return err
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Printf("[Bus:%s] Malformed frame: %v", c.cfg.AgentID, err)
			continue
		}
		c.dispatch(msg)
	}

	if c.State() == StateConnected {
		log.Printf("[Bus:%s] Read loop ended, connection lost", c.cfg.AgentID)
		c.state.Store(int32(StateDisconnected))
		c.failPending()
	}
}

func (c *Client) dispatch(msg Message) {
	switch msg.Type {
	case TypeResponse, TypeError:
		c.mu.Lock()
		done, ok := c.pending[msg.CorrelationID]
		if ok {
			delete(c.pending, msg.CorrelationID)
		}
		handler := c.handlers[msg.Type]
		c.mu.Unlock()
		if ok {
			done <- msg
			return
		}
		if handler != nil {
			handler(msg)
			return
		}
		// Typically a response arriving after its call already timed out.
		log.Printf("[Bus:%s] Dropping %s for unknown correlation %s", c.cfg.AgentID, msg.Type, msg.CorrelationID)
	default:
		c.mu.Lock()
		handler := c.handlers[msg.Type]
		c.mu.Unlock()
		if handler != nil {
			handler(msg)
			return
		}
		log.Printf("[Bus:%s] No handler for message type %q, dropped", c.cfg.AgentID, msg.Type)
	}
}

// remoteError maps an Error envelope back to the typed bus sentinels via its
// data["code"], falling back to a generic remote error.
func remoteError(data map[string]any) error {
	errText, _ := data["error"].(string)
	if errText == "" {
		errText = "unknown error"
	}
	switch code, _ := data["code"].(string); code {
	case CodeUnknownAgent:
		return fmt.Errorf("%w: %s", ErrUnknownAgent, errText)
	case CodeUnknownEndpoint:
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, errText)
	}
	return fmt.Errorf("bus: remote error: %s", errText)
}

func (c *Client) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// failPending unblocks every outstanding call with an error frame.
func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, done := range c.pending {
		msg := NewMessage(TypeError, c.cfg.AgentID, map[string]any{"error": "connection closed"})
		msg.CorrelationID = id
		done <- msg
		delete(c.pending, id)
	}
}
