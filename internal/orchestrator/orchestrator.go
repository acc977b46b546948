package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/neurofetch/neurofetch-go/internal/agents"
	"github.com/neurofetch/neurofetch-go/internal/providers"
	"github.com/neurofetch/neurofetch-go/internal/redis"
)

const traceTTL = 10 * time.Minute

// AgentResolver maps an intent label to the agent that should handle it.
type AgentResolver interface {
	Resolve(intent string) agents.Agent
}

// RouteResponse is the caller-facing result of one routed query.
type RouteResponse struct {
	Agent    string   `json:"agent"`
	Response any      `json:"response"`
	Trace    []string `json:"trace"`
	Elapsed  float64  `json:"elapsed"`
}

// Orchestrator is a deterministic per-query decision procedure, not a
// long-lived state machine. Agent failures and panics are absorbed into the
// fallback path; the caller always gets some answer.
type Orchestrator struct {
	provider   providers.LLMProvider
	judge      ConfidenceJudge
	classifier IntentClassifier
	resolver   AgentResolver
}

// New creates an orchestrator.
func New(provider providers.LLMProvider, judge ConfidenceJudge, classifier IntentClassifier, resolver AgentResolver) *Orchestrator {
	if judge == nil {
		judge = NewPhraseJudge()
	}
	return &Orchestrator{
		provider:   provider,
		judge:      judge,
		classifier: classifier,
		resolver:   resolver,
	}
}

// Route answers a query: direct model attempt first; on low confidence the
// intent picks an agent; on agent failure the model is re-asked with the
// agent's evidence embedded.
func (o *Orchestrator) Route(ctx context.Context, query string, extra map[string]any) RouteResponse {
	start := time.Now()
	trace := []string{"model"}

	answer, err := o.provider.Complete(ctx, query)
	if err != nil {
		log.Printf("[Orchestrator] Direct model call failed: %v", err)
		answer = ""
	}
	if err == nil && o.judge.Confident(answer) {
		return o.finish(ctx, query, RouteResponse{Agent: "model", Response: answer, Trace: trace}, start)
	}

	intent := o.classifier.Classify(ctx, query)
	agent := o.resolver.Resolve(intent)
	if agent == nil {
		log.Printf("[Orchestrator] No agent for intent %q, returning model answer", intent)
		return o.finish(ctx, query, RouteResponse{Agent: "model", Response: answer, Trace: trace}, start)
	}
	trace = append(trace, agent.ID())
	log.Printf("[Orchestrator] Model not confident, intent=%s → agent=%s", intent, agent.ID())

	input := buildInput(agent, query, extra)
	result := safeProcess(ctx, agent, input)

	if result.Success {
		return o.finish(ctx, query, RouteResponse{Agent: agent.ID(), Response: result, Trace: trace}, start)
	}

	trace = append(trace, "model_with_tools")
	log.Printf("[Orchestrator] Agent %s failed (%s), falling back to model with evidence", agent.ID(), result.Error)

	evidence, _ := json.Marshal(result)
	prompt := fmt.Sprintf("Given this data: %s, answer the query: %s", evidence, query)
	fallback, err := o.provider.Complete(ctx, prompt)
	if err != nil {
		log.Printf("[Orchestrator] Fallback model call failed: %v", err)
		fallback = fmt.Sprintf("Unable to answer: %s", result.Error)
	}
	return o.finish(ctx, query, RouteResponse{Agent: "model_with_tools", Response: fallback, Trace: trace}, start)
}

// buildInput shapes the agent input: retrieval agents get the query wrapped
// as a single-element query list plus the original query.
func buildInput(agent agents.Agent, query string, extra map[string]any) map[string]any {
	input := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		input[k] = v
	}
	if agent.Kind() == "retrieval" {
		input["queries"] = []string{query}
		input["original_query"] = query
	} else {
		input["query"] = query
	}
	return input
}

// safeProcess runs an agent and converts panics into reported failures.
func safeProcess(ctx context.Context, agent agents.Agent, input map[string]any) (result agents.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Orchestrator] Agent %s panicked: %v", agent.ID(), r)
			result = agents.Result{
				AgentID:   agent.ID(),
				AgentKind: agent.Kind(),
				Timestamp: time.Now().UTC(),
				Success:   false,
				Error:     fmt.Sprintf("agent panic: %v", r),
			}
		}
	}()
	return agent.Process(ctx, input)
}

// finish stamps the elapsed time and records the response as a recent trace
// when Redis is available.
func (o *Orchestrator) finish(ctx context.Context, query string, resp RouteResponse, start time.Time) RouteResponse {
	resp.Elapsed = time.Since(start).Seconds()
	redis.CacheSetJSON(ctx, redis.KeyTrace+queryHash(query), resp, traceTTL)
	return resp
}
