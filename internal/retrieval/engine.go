// Package retrieval turns a set of reformulated queries into a deduplicated,
// quality-ranked list of document fragments. Similarity search itself is an
// external collaborator behind the Searcher interface; this package only
// merges, deduplicates and re-ranks what the collaborator returns.
package retrieval

import (
	"context"
	"log"
	"sort"
	"strings"
)

// Fragment is a unit of retrieved document text with similarity metadata.
// SimilarityScore is a distance: lower means a closer match. FinalScore is
// attached during re-ranking; higher means a better fragment.
type Fragment struct {
	Content         string         `json:"content"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	SimilarityScore float64        `json:"similarity_score"`
	Source          string         `json:"source"`
	Page            int            `json:"page"`
	FinalScore      float64        `json:"final_score"`
}

// Searcher is the similarity-search collaborator.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]Fragment, error)
}

// Weights are the re-ranking factor weights. They should sum to 1 but this is
// not enforced.
type Weights struct {
	Closeness float64 `json:"closeness"`
	Length    float64 `json:"length"`
	Keyword   float64 `json:"keyword"`
	Source    float64 `json:"source"`
}

// Config holds the tunable retrieval parameters.
type Config struct {
	PerQueryK     int     // fragments fetched per query (default: 15)
	ResultK       int     // fragments returned (default: 10)
	DupThreshold  float64 // near-duplicate ratio threshold (default: 0.8)
	Weights       Weights // default: 0.4/0.2/0.2/0.2
	SourceWeights map[string]float64
	DefaultWeight float64 // source weight for unknown extensions
}

// DefaultConfig returns the default retrieval parameters.
func DefaultConfig() Config {
	return Config{
		PerQueryK:    15,
		ResultK:      10,
		DupThreshold: 0.8,
		Weights:      Weights{Closeness: 0.4, Length: 0.2, Keyword: 0.2, Source: 0.2},
		SourceWeights: map[string]float64{
			"pdf":  1.0,
			"md":   0.9,
			"docx": 0.9,
			"txt":  0.8,
			"csv":  0.7,
		},
		DefaultWeight: 0.5,
	}
}

// Engine is the adaptive retrieval and re-ranking engine.
type Engine struct {
	searcher Searcher
	cfg      Config
}

// NewEngine creates an engine over the given searcher. Zero config fields
// fall back to defaults.
func NewEngine(searcher Searcher, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.PerQueryK == 0 {
		cfg.PerQueryK = def.PerQueryK
	}
	if cfg.ResultK == 0 {
		cfg.ResultK = def.ResultK
	}
	if cfg.DupThreshold == 0 {
		cfg.DupThreshold = def.DupThreshold
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.SourceWeights == nil {
		cfg.SourceWeights = def.SourceWeights
	}
	if cfg.DefaultWeight == 0 {
		cfg.DefaultWeight = def.DefaultWeight
	}
	return &Engine{searcher: searcher, cfg: cfg}
}

// Retrieve runs every query against the searcher, merges the results,
// removes exact and near duplicates, re-ranks against the original query and
// returns at most ResultK fragments. A failing query contributes nothing; an
// empty query list yields an empty result, never an error.
func (e *Engine) Retrieve(ctx context.Context, queries []string, originalQuery string) []Fragment {
	var merged []Fragment
	for _, q := range queries {
		frags, err := e.searcher.Search(ctx, q, e.cfg.PerQueryK)
		if err != nil {
			log.Printf("[Retrieval] Search failed for %q: %v", q, err)
			continue
		}
		// duplicates across queries are expected; dedup narrows later
		merged = append(merged, frags...)
	}

	unique := e.deduplicate(merged)
	ranked := e.rerank(unique, originalQuery)

	if len(ranked) > e.cfg.ResultK {
		ranked = ranked[:e.cfg.ResultK]
	}
	return ranked
}

// deduplicate drops fragments whose normalized content exactly matches an
// already-accepted one, and resolves near-duplicates (ratio above the
// threshold) by keeping whichever fragment has the lower distance. When a
// candidate beats an accepted fragment, the accepted one is evicted.
func (e *Engine) deduplicate(frags []Fragment) []Fragment {
	var unique []Fragment
	seen := make(map[string]bool)

	for _, frag := range frags {
		content := normalize(frag.Content)
		if seen[content] {
			continue
		}

		isDup := false
		for i, existing := range unique {
			ratio := Ratio(content, normalize(existing.Content))
			if ratio > e.cfg.DupThreshold {
				isDup = true
				if frag.SimilarityScore < existing.SimilarityScore {
					unique = append(unique[:i], unique[i+1:]...)
					unique = append(unique, frag)
				}
				break
			}
		}

		if !isDup {
			unique = append(unique, frag)
			seen[content] = true
		}
	}
	return unique
}

// rerank attaches a FinalScore to every fragment and sorts descending. The
// sort is stable so ties preserve merge order.
func (e *Engine) rerank(frags []Fragment, originalQuery string) []Fragment {
	if len(frags) == 0 {
		return frags
	}
	w := e.cfg.Weights
	for i := range frags {
		f := &frags[i]
		f.FinalScore = w.Closeness*closeness(f.SimilarityScore) +
			w.Length*lengthScore(len(f.Content)) +
			w.Keyword*keywordDensity(f.Content, originalQuery) +
			w.Source*e.sourceScore(f.Source)
	}
	sort.SliceStable(frags, func(i, j int) bool {
		return frags[i].FinalScore > frags[j].FinalScore
	})
	return frags
}

// closeness inverts a normalized distance, clamped to [0, 1].
func closeness(distance float64) float64 {
	return clamp(1.0-distance, 0.0, 1.0)
}

// lengthScore peaks at 500 characters and penalizes both very short and very
// long fragments, clamped to [0.1, 1.0].
func lengthScore(n int) float64 {
	score := 1.0 - abs(float64(n)-500)/1000
	return clamp(score, 0.1, 1.0)
}

// keywordDensity is the fraction of the fragment's tokens that appear in the
// original query's token set, case-insensitively.
func keywordDensity(content, query string) float64 {
	queryWords := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(query)) {
		queryWords[w] = true
	}
	contentWords := strings.Fields(strings.ToLower(content))
	if len(contentWords) == 0 {
		return 0.0
	}
	hits := 0
	for _, w := range contentWords {
		if queryWords[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(contentWords))
}

// sourceScore weights a fragment by its source file extension.
func (e *Engine) sourceScore(source string) float64 {
	idx := strings.LastIndex(source, ".")
	if idx < 0 {
		return e.cfg.DefaultWeight
	}
	ext := strings.ToLower(source[idx+1:])
	if w, ok := e.cfg.SourceWeights[ext]; ok {
		return w
	}
	return e.cfg.DefaultWeight
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
