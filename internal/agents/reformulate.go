package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// ReformulationAgent expands a user query into up to five reformulated
// variants plus a coarse intent label, widening recall before retrieval.
type ReformulationAgent struct {
	Base
}

// NewReformulationAgent creates the query-reformulation agent.
func NewReformulationAgent() *ReformulationAgent {
	return &ReformulationAgent{
		Base: Base{
			AgentID:   "query_reformulation",
			AgentKind: "query_reformulation",
			Caps:      []string{"query_expansion", "intent_analysis"},
		},
	}
}

var intentPatterns = []struct {
	intent string
	re     *regexp.Regexp
}{
	{"definition", regexp.MustCompile(`what\s+is\s+(.+)`)},
	{"procedure", regexp.MustCompile(`how\s+to\s+(.+)`)},
	{"comparison", regexp.MustCompile(`compare\s+(.+)\s+and\s+(.+)`)},
	{"explanation", regexp.MustCompile(`explain\s+(.+)`)},
	{"search", regexp.MustCompile(`find\s+(.+)`)},
	{"enumeration", regexp.MustCompile(`list\s+(.+)`)},
}

// synonymTable maps common concepts to related terms; the first synonym
// substitutes the term in the expanded variant.
var synonymTable = map[string][]string{
	"capital":   {"main city", "headquarters", "center", "hub"},
	"financial": {"monetary", "economic", "fiscal", "budget"},
	"report":    {"document", "analysis", "study", "assessment"},
	"data":      {"information", "facts", "statistics", "figures"},
	"process":   {"procedure", "method", "approach", "technique"},
	"system":    {"framework", "platform", "infrastructure", "architecture"},
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true,
	"would": true, "could": true, "should": true, "may": true,
	"might": true, "can": true,
}

var wordRe = regexp.MustCompile(`\b\w+\b`)

// Process reformulates the query in input["query"].
func (a *ReformulationAgent) Process(ctx context.Context, input map[string]any) Result {
	if err := a.ValidateInput(input, "query"); err != nil {
		return a.Fail("%v", err)
	}
	query := strings.TrimSpace(input["query"].(string))

	intent := analyzeIntent(query)
	reformulated := a.reformulate(query, intent)

	return a.Succeed(map[string]any{
		"original_query":       query,
		"intent":               intent,
		"reformulated_queries": reformulated,
		"primary_query":        reformulated[0],
	})
}

func analyzeIntent(query string) string {
	lower := strings.ToLower(query)
	for _, p := range intentPatterns {
		if p.re.MatchString(lower) {
			return p.intent
		}
	}
	return "general"
}

func (a *ReformulationAgent) reformulate(query, intent string) []string {
	variants := []string{query}

	if expanded := expandSynonyms(query); expanded != query {
		variants = append(variants, expanded)
	}

	switch intent {
	case "definition":
		variants = append(variants,
			fmt.Sprintf("define %s", query),
			fmt.Sprintf("what does %s mean", query),
			fmt.Sprintf("explanation of %s", query))
	case "procedure":
		variants = append(variants,
			fmt.Sprintf("steps to %s", query),
			fmt.Sprintf("process for %s", query),
			fmt.Sprintf("method to %s", query))
	case "comparison":
		variants = append(variants,
			fmt.Sprintf("differences between %s", query),
			fmt.Sprintf("compare %s", query),
			fmt.Sprintf("%s vs", query))
	}

	if keywords := extractKeywords(query); len(keywords) > 0 {
		kq := strings.Join(keywords, " ")
		if kq != query {
			variants = append(variants, kq)
		}
	}

	// dedup preserving order, cap at 5
	seen := make(map[string]bool)
	var unique []string
	for _, v := range variants {
		key := strings.ToLower(v)
		if !seen[key] {
			seen[key] = true
			unique = append(unique, v)
		}
	}
	if len(unique) > 5 {
		unique = unique[:5]
	}
	return unique
}

func expandSynonyms(query string) string {
	expanded := query
	lower := strings.ToLower(query)
	for term, synonyms := range synonymTable {
		if strings.Contains(lower, term) {
			re := regexp.MustCompile(`(?i)\b` + term + `\b`)
			expanded = re.ReplaceAllString(expanded, synonyms[0])
		}
	}
	return expanded
}

func extractKeywords(query string) []string {
	words := wordRe.FindAllString(strings.ToLower(query), -1)
	var keywords []string
	for _, w := range words {
		if !stopwords[w] && len(w) > 2 {
			keywords = append(keywords, w)
		}
	}
	if len(keywords) > 5 {
		keywords = keywords[:5]
	}
	return keywords
}
