// Package orchestrator implements the per-query routing policy: direct model
// attempt, confidence check, intent classification, agent dispatch and the
// tool-augmented model fallback.
package orchestrator

import (
	"context"
	"crypto/md5"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/neurofetch/neurofetch-go/internal/providers"
	"github.com/neurofetch/neurofetch-go/internal/redis"
)

// ConfidenceJudge decides whether a model answer is confident enough to
// return directly.
type ConfidenceJudge interface {
	Confident(text string) bool
}

// PhraseJudge flags an answer as not confident when it contains any of a
// fixed set of low-confidence phrases, anywhere in the text. A heuristic,
// not semantic: negation context is ignored on purpose.
type PhraseJudge struct {
	Phrases []string
}

// NewPhraseJudge returns the default judge.
func NewPhraseJudge() *PhraseJudge {
	return &PhraseJudge{Phrases: []string{
		"i don't know",
		"cannot answer",
		"not sure",
		"no information",
		"unknown",
	}}
}

// Confident reports whether no low-confidence phrase occurs in text.
func (j *PhraseJudge) Confident(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range j.Phrases {
		if strings.Contains(lower, p) {
			return false
		}
	}
	return true
}

// IntentClassifier maps a query to one of the known intent labels.
type IntentClassifier interface {
	Classify(ctx context.Context, query string) string
}

// IntentLabels are the labels the classifier may return.
var IntentLabels = []string{"table", "chat", "retrieval", "definition", "comparison", "other"}

const intentCacheTTL = 60 * time.Second

// LLMClassifier asks the model to pick one intent label. Results are cached
// in Redis when available, with a small in-process cache as fallback; an
// invalid or failed classification degrades to "other".
type LLMClassifier struct {
	provider providers.LLMProvider
	valid    map[string]bool

	mu    sync.RWMutex
	local map[string]localEntry
}

type localEntry struct {
	label string
	ts    time.Time
}

// NewLLMClassifier creates a classifier over the given provider.
func NewLLMClassifier(provider providers.LLMProvider) *LLMClassifier {
	valid := make(map[string]bool, len(IntentLabels))
	for _, l := range IntentLabels {
		valid[l] = true
	}
	return &LLMClassifier{
		provider: provider,
		valid:    valid,
		local:    make(map[string]localEntry),
	}
}

// Classify returns one of IntentLabels for the query.
func (c *LLMClassifier) Classify(ctx context.Context, query string) string {
	key := redis.KeyCache + "intent:" + queryHash(query)

	if cached := redis.CacheGet(ctx, key); cached != "" && c.valid[cached] {
		return cached
	}
	c.mu.RLock()
	if e, ok := c.local[key]; ok && time.Since(e.ts) < intentCacheTTL {
		c.mu.RUnlock()
		return e.label
	}
	c.mu.RUnlock()

	prompt := fmt.Sprintf(
		"Classify the intent of this query: '%s'. "+
			"Respond with one of: 'table', 'chat', 'retrieval', 'definition', 'comparison', 'other'.",
		query)

	raw, err := c.provider.Complete(ctx, prompt)
	if err != nil {
		log.Printf("[Classifier] Intent call failed: %v", err)
		return "other"
	}

	label := cleanLabel(raw)
	if !c.valid[label] {
		log.Printf("[Classifier] Invalid label %q, falling back to other", label)
		label = "other"
	}

	redis.CacheSet(ctx, key, label, intentCacheTTL)
	c.mu.Lock()
	c.local[key] = localEntry{label: label, ts: time.Now()}
	c.mu.Unlock()

	return label
}

// cleanLabel strips markdown fences, quotes and surrounding prose from a
// model-returned label.
func cleanLabel(raw string) string {
	label := strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(label, "```") {
		lines := strings.SplitN(label, "\n", 2)
		if len(lines) > 1 {
			label = lines[1]
		}
		if idx := strings.LastIndex(label, "```"); idx >= 0 {
			label = label[:idx]
		}
	}
	if fields := strings.Fields(label); len(fields) > 0 {
		label = fields[0]
	}
	return strings.Trim(label, " \n'\".")
}

func queryHash(query string) string {
	text := strings.ToLower(strings.TrimSpace(query))
	if len(text) > 200 {
		text = text[:200]
	}
	h := md5.Sum([]byte(text))
	return fmt.Sprintf("%x", h[:6])
}
