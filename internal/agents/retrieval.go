package agents

import (
	"context"

	"github.com/neurofetch/neurofetch-go/internal/retrieval"
)

// RetrievalAgent exposes the retrieval engine through the agent contract.
type RetrievalAgent struct {
	Base
	engine *retrieval.Engine
}

// NewRetrievalAgent creates the adaptive-retrieval agent.
func NewRetrievalAgent(engine *retrieval.Engine) *RetrievalAgent {
	return &RetrievalAgent{
		Base: Base{
			AgentID:   "adaptive_retrieval",
			AgentKind: "retrieval",
			Caps:      []string{"document_search", "re_ranking"},
		},
		engine: engine,
	}
}

// Process retrieves documents for input["queries"], re-ranked against
// input["original_query"].
func (a *RetrievalAgent) Process(ctx context.Context, input map[string]any) Result {
	if err := a.ValidateInput(input, "queries"); err != nil {
		return a.Fail("%v", err)
	}

	queries := toStringSlice(input["queries"])
	if len(queries) == 0 {
		return a.Fail("queries must be a non-empty list of strings")
	}

	originalQuery, _ := input["original_query"].(string)
	if originalQuery == "" {
		originalQuery = queries[0]
	}

	frags := a.engine.Retrieve(ctx, queries, originalQuery)

	return a.Succeed(map[string]any{
		"original_query":          originalQuery,
		"retrieved_documents":     frags,
		"total_queries_processed": len(queries),
		"unique_documents":        len(frags),
	})
}

func toStringSlice(v any) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, it := range items {
			if s, ok := it.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
