// Package bus provides the agent message bus: a typed message envelope plus a
// connection-oriented server and client with request/response correlation,
// registration, heartbeats and error propagation.
package bus

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// MessageType identifies the kind of a bus message.
type MessageType string

const (
	TypeRequest   MessageType = "request"
	TypeResponse  MessageType = "response"
	TypeError     MessageType = "error"
	TypeHeartbeat MessageType = "heartbeat"
)

// Message is the wire envelope exchanged between agents, model endpoints and
// the bus server. Every Response/Error carries the originating Request's ID
// in CorrelationID. Frames are newline-delimited JSON.
type Message struct {
	ID            string         `json:"id"`
	Type          MessageType    `json:"type"`
	AgentID       string         `json:"agent_id"`
	Data          map[string]any `json:"data"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// NewMessage creates a message with a fresh globally-unique ID.
func NewMessage(t MessageType, agentID string, data map[string]any) Message {
	if data == nil {
		data = map[string]any{}
	}
	return Message{
		ID:        NewID(),
		Type:      t,
		AgentID:   agentID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// NewID returns a 32-char random hex token.
func NewID() string {
	var b [16]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Typed bus failures. Agent-level errors never surface through these; they
// travel inside Error messages instead.
var (
	ErrNotConnected    = errors.New("bus: not connected")
	ErrCallTimeout     = errors.New("bus: call timed out")
	ErrUnknownAgent    = errors.New("bus: agent not registered")
	ErrUnknownEndpoint = errors.New("bus: endpoint not registered")
)

// Error codes carried in Error envelopes under data["code"], so clients can
// map remote failures back to the typed sentinels.
const (
	CodeUnknownAgent    = "unknown_agent"
	CodeUnknownEndpoint = "unknown_endpoint"
)
