package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startBus runs a server on an ephemeral port with an echo endpoint and
// returns its bound address.
func startBus(t *testing.T, cfg ServerConfig) (*Server, string) {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	s := NewServer(cfg)
	s.RegisterEndpoint("default", "test", "local", func(ctx context.Context, data map[string]any) (map[string]any, error) {
		if prompt, _ := data["prompt"].(string); prompt == "boom" {
			return nil, errors.New("model exploded")
		}
		if ms, ok := data["delay_ms"].(float64); ok {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}
		prompt, _ := data["prompt"].(string)
		return map[string]any{"response": "echo: " + prompt}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Start(ctx)

	require.Eventually(t, func() bool { return s.Addr() != "127.0.0.1:0" },
		2*time.Second, 10*time.Millisecond, "server must bind")
	return s, s.Addr()
}

func connect(t *testing.T, addr, agentID string) *Client {
	t.Helper()
	c := NewClient(ClientConfig{AgentID: agentID, Addr: addr, Kind: "general"})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(c.Disconnect)
	return c
}

func TestCall_RequestResponseCorrelation(t *testing.T) {
	_, addr := startBus(t, ServerConfig{})
	c := connect(t, addr, "agent-1")

	resp, err := c.Call(context.Background(), map[string]any{
		"action": "llm_call",
		"prompt": "hello",
	}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", resp["response"])
}

func TestCall_ConcurrentCallsGetOwnReplies(t *testing.T) {
	_, addr := startBus(t, ServerConfig{})
	c := connect(t, addr, "agent-1")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			prompt := fmt.Sprintf("q%d", i)
			resp, err := c.Call(context.Background(), map[string]any{
				"action": "llm_call",
				"prompt": prompt,
			}, 5*time.Second)
			assert.NoError(t, err)
			assert.Equal(t, "echo: "+prompt, resp["response"])
		}(i)
	}
	wg.Wait()
}

func TestCall_RemoteErrorSurfaces(t *testing.T) {
	_, addr := startBus(t, ServerConfig{})
	c := connect(t, addr, "agent-1")

	_, err := c.Call(context.Background(), map[string]any{
		"action": "llm_call",
		"prompt": "boom",
	}, 2*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model exploded")
}

func TestCall_Timeout(t *testing.T) {
	_, addr := startBus(t, ServerConfig{})
	c := connect(t, addr, "agent-1")

	start := time.Now()
	_, err := c.Call(context.Background(), map[string]any{
		"action":   "llm_call",
		"delay_ms": 500.0,
	}, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrCallTimeout)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond, "must not fail before the timeout")
	assert.Less(t, elapsed, 400*time.Millisecond, "must return near the timeout, not the handler duration")

	// the pending entry for the timed-out call must be gone
	c.mu.Lock()
	assert.Empty(t, c.pending)
	c.mu.Unlock()
}

func TestCall_UnknownEndpoint(t *testing.T) {
	_, addr := startBus(t, ServerConfig{})
	c := connect(t, addr, "agent-1")

	_, err := c.CallEndpoint(context.Background(), "missing", map[string]any{
		"action": "llm_call",
	}, 2*time.Second)
	require.ErrorIs(t, err, ErrUnknownEndpoint)
	assert.Contains(t, err.Error(), "not available")
}

func TestRemoteError_CodeMapping(t *testing.T) {
	err := remoteError(map[string]any{"code": CodeUnknownAgent, "error": "agent x not registered"})
	assert.ErrorIs(t, err, ErrUnknownAgent)

	err = remoteError(map[string]any{"code": CodeUnknownEndpoint, "error": "endpoint y not available"})
	assert.ErrorIs(t, err, ErrUnknownEndpoint)

	err = remoteError(map[string]any{"error": "model exploded"})
	assert.NotErrorIs(t, err, ErrUnknownAgent)
	assert.NotErrorIs(t, err, ErrUnknownEndpoint)
	assert.Contains(t, err.Error(), "model exploded")

	err = remoteError(map[string]any{})
	assert.Contains(t, err.Error(), "unknown error")
}

func TestCall_NotConnected(t *testing.T) {
	c := NewClient(ClientConfig{AgentID: "agent-1"})
	_, err := c.Call(context.Background(), map[string]any{}, time.Second)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestRegistration_RecordsAgent(t *testing.T) {
	s, addr := startBus(t, ServerConfig{})
	c := NewClient(ClientConfig{
		AgentID:      "retrieval-1",
		Addr:         addr,
		Kind:         "retrieval",
		Capabilities: []string{"semantic_search"},
	})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	require.Eventually(t, func() bool { return len(s.Agents()) == 1 },
		2*time.Second, 10*time.Millisecond)

	rec := s.Agents()[0]
	assert.Equal(t, "retrieval-1", rec.ID)
	assert.Equal(t, "retrieval", rec.Kind)
	assert.Equal(t, []string{"semantic_search"}, rec.Capabilities)
	assert.Equal(t, StatusActive, rec.Status)
}

func TestHeartbeat_RefreshesRecord(t *testing.T) {
	s, addr := startBus(t, ServerConfig{})
	c := connect(t, addr, "agent-1")

	require.Eventually(t, func() bool { return len(s.Agents()) == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Heartbeat())
	require.Eventually(t, func() bool {
		return !s.Agents()[0].LastHeartbeat.IsZero()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSweepStale_MarksInactiveKeepsRecord(t *testing.T) {
	s := NewServer(ServerConfig{SweepAfter: time.Minute})
	s.RegisterAgent("old", "general", nil)
	s.RegisterAgent("fresh", "general", nil)
	s.RegisterAgent("silent", "general", nil)

	s.agents["old"].LastHeartbeat = time.Now().UTC().Add(-5 * time.Minute)
	s.agents["fresh"].LastHeartbeat = time.Now().UTC()

	s.sweepStale()

	assert.Equal(t, StatusInactive, s.agents["old"].Status)
	assert.Equal(t, StatusActive, s.agents["fresh"].Status)
	assert.Equal(t, StatusActive, s.agents["silent"].Status, "never-heartbeated agents are not swept")
	assert.Len(t, s.Agents(), 3, "sweep must not delete records")
}

func TestHeartbeat_ReactivatesSweptAgent(t *testing.T) {
	s := NewServer(ServerConfig{SweepAfter: time.Minute})
	s.RegisterAgent("a", "general", nil)
	s.agents["a"].LastHeartbeat = time.Now().UTC().Add(-5 * time.Minute)
	s.sweepStale()
	require.Equal(t, StatusInactive, s.agents["a"].Status)

	s.handleHeartbeat(NewMessage(TypeHeartbeat, "a", nil))
	assert.Equal(t, StatusActive, s.agents["a"].Status)
}

func TestServer_MalformedFrameClosesConnection(t *testing.T) {
	_, addr := startBus(t, ServerConfig{})

	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer nc.Close()

	_, err = nc.Write([]byte("this is not json\n"))
	require.NoError(t, err)

	nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	_, err = nc.Read(buf)
	assert.Error(t, err, "server must close the connection")
}

func TestDisconnect_FailsPendingCalls(t *testing.T) {
	_, addr := startBus(t, ServerConfig{})
	c := connect(t, addr, "agent-1")

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), map[string]any{
			"action":   "llm_call",
			"delay_ms": 2000.0,
		}, 10*time.Second)
		errCh <- err
	}()

	// let the call get onto the wire before dropping the connection
	time.Sleep(100 * time.Millisecond)
	c.Disconnect()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection closed")
	case <-time.After(3 * time.Second):
		t.Fatal("pending call was not failed on disconnect")
	}
}

func TestClient_StateTransitions(t *testing.T) {
	_, addr := startBus(t, ServerConfig{})

	c := NewClient(ClientConfig{AgentID: "agent-1", Addr: addr})
	assert.Equal(t, StateDisconnected, c.State())

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateConnected, c.State())

	c.Disconnect()
	assert.Equal(t, StateDisconnected, c.State())
}

func TestClient_ConnectRefused(t *testing.T) {
	c := NewClient(ClientConfig{AgentID: "agent-1", Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestUnsolicitedHandler(t *testing.T) {
	c := NewClient(ClientConfig{AgentID: "agent-1"})

	got := make(chan Message, 1)
	c.RegisterHandler(TypeHeartbeat, func(m Message) { got <- m })

	c.dispatch(NewMessage(TypeHeartbeat, "peer", map[string]any{"n": 1.0}))

	select {
	case m := <-got:
		assert.Equal(t, "peer", m.AgentID)
	default:
		t.Fatal("handler not invoked")
	}
}

func TestDispatch_StaleResponseDropped(t *testing.T) {
	c := NewClient(ClientConfig{AgentID: "agent-1"})

	// no pending entry and no handler: must not panic, message is dropped
	msg := NewMessage(TypeResponse, "agent-1", nil)
	msg.CorrelationID = "gone"
	c.dispatch(msg)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.pending)
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		assert.Len(t, id, 32)
		assert.False(t, seen[id], "duplicate id")
		seen[id] = true
	}
}

func TestUnregisteredAgentCallRejected(t *testing.T) {
	_, addr := startBus(t, ServerConfig{})

	// hand-rolled client that skips registration
	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer nc.Close()

	req := NewMessage(TypeRequest, "ghost", map[string]any{"action": "llm_call"})
	data, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = nc.Write(append(data, '\n'))
	require.NoError(t, err)

	nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(nc).ReadBytes('\n')
	require.NoError(t, err)
	var resp Message
	require.NoError(t, json.Unmarshal(line, &resp))
	assert.Equal(t, TypeError, resp.Type)
	assert.Equal(t, req.ID, resp.CorrelationID)
	assert.Equal(t, CodeUnknownAgent, resp.Data["code"])
	assert.Contains(t, resp.Data["error"], "not registered")
	assert.ErrorIs(t, remoteError(resp.Data), ErrUnknownAgent)
}

func TestConnect_RegistrationAckConsumed(t *testing.T) {
	s, addr := startBus(t, ServerConfig{})
	c := connect(t, addr, "agent-1")

	require.Eventually(t, func() bool { return len(s.Agents()) == 1 },
		2*time.Second, 10*time.Millisecond)

	// the ack must be drained by the registration's own pending entry, not
	// land in the unsolicited path
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.pending) == 0
	}, 2*time.Second, 10*time.Millisecond, "registration ack not consumed")
}
