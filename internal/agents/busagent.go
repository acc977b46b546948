package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/neurofetch/neurofetch-go/internal/bus"
)

// BusAgent couples an agent with its own bus client. The agent stays a plain
// Agent; bus behavior is delegation, not inheritance.
type BusAgent struct {
	agent  Agent
	client *bus.Client
}

// NewBusAgent wraps an agent with a client for the given bus address.
func NewBusAgent(a Agent, addr string) *BusAgent {
	return &BusAgent{
		agent: a,
		client: bus.NewClient(bus.ClientConfig{
			AgentID:      a.ID(),
			Addr:         addr,
			Kind:         a.Kind(),
			Capabilities: a.Capabilities(),
		}),
	}
}

// Agent returns the wrapped agent.
func (b *BusAgent) Agent() Agent { return b.agent }

// Client returns the owned bus client.
func (b *BusAgent) Client() *bus.Client { return b.client }

// Connect attaches to the bus, registers and starts the heartbeat loop.
func (b *BusAgent) Connect(ctx context.Context, heartbeatEvery time.Duration) error {
	if err := b.client.Connect(ctx); err != nil {
		return err
	}
	if heartbeatEvery > 0 {
		go b.client.StartHeartbeat(ctx, heartbeatEvery)
	}
	return nil
}

// Disconnect detaches from the bus.
func (b *BusAgent) Disconnect() { b.client.Disconnect() }

// CallModel asks a registered model endpoint for a completion over the bus.
func (b *BusAgent) CallModel(ctx context.Context, endpointID, prompt string, timeout time.Duration) (string, error) {
	data, err := b.client.CallEndpoint(ctx, endpointID, map[string]any{
		"action": "llm_call",
		"prompt": prompt,
	}, timeout)
	if err != nil {
		return "", err
	}
	text, _ := data["response"].(string)
	if text == "" {
		return "", fmt.Errorf("empty model response")
	}
	return text, nil
}

// Process delegates to the wrapped agent.
func (b *BusAgent) Process(ctx context.Context, input map[string]any) Result {
	return b.agent.Process(ctx, input)
}
