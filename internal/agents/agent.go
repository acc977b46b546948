// Package agents defines the agent contract and the specialized processing
// agents. Every agent exposes Process(input) returning a success/error
// result; input validity is each agent's own responsibility and processing
// failures are reported, never propagated as hard errors.
package agents

import (
	"context"
	"fmt"
	"time"
)

// Result is the standardized agent response.
type Result struct {
	AgentID   string         `json:"agent_id"`
	AgentKind string         `json:"agent_type"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Agent is a component implementing the process contract.
type Agent interface {
	ID() string
	Kind() string
	Capabilities() []string
	Process(ctx context.Context, input map[string]any) Result
}

// Base carries agent identity and the Result constructors shared by all
// agents.
type Base struct {
	AgentID   string
	AgentKind string
	Caps      []string
}

func (b Base) ID() string             { return b.AgentID }
func (b Base) Kind() string           { return b.AgentKind }
func (b Base) Capabilities() []string { return b.Caps }

// Succeed builds a success result.
func (b Base) Succeed(data map[string]any) Result {
	return Result{
		AgentID:   b.AgentID,
		AgentKind: b.AgentKind,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

// Fail builds a failure result.
func (b Base) Fail(format string, args ...any) Result {
	return Result{
		AgentID:   b.AgentID,
		AgentKind: b.AgentKind,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     fmt.Sprintf(format, args...),
	}
}

// ValidateInput checks that every required field is present and non-empty.
func (b Base) ValidateInput(input map[string]any, fields ...string) error {
	for _, f := range fields {
		v, ok := input[f]
		if !ok || v == nil {
			return fmt.Errorf("missing required field: %s", f)
		}
		if s, isStr := v.(string); isStr && s == "" {
			return fmt.Errorf("missing required field: %s", f)
		}
	}
	return nil
}
