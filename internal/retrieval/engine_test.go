package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSearcher returns canned fragments per query.
type fakeSearcher struct {
	results map[string][]Fragment
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, query string, k int) ([]Fragment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results[query], nil
}

func TestRetrieve_MergeDedupRerank(t *testing.T) {
	frag := Fragment{
		Content:         "Paris is the capital of France",
		Source:          "doc.pdf",
		SimilarityScore: 0.05,
	}
	searcher := &fakeSearcher{results: map[string][]Fragment{
		"capital of France": {frag},
		"France capital":    {frag},
	}}
	e := NewEngine(searcher, Config{})

	got := e.Retrieve(context.Background(), []string{"capital of France", "France capital"}, "capital of France")
	require.Len(t, got, 1, "exact duplicates across queries must collapse")

	// closeness 0.95, length 1-|30-500|/1000 = 0.53, keyword 3/6, source pdf = 1.0
	want := 0.4*0.95 + 0.2*0.53 + 0.2*0.5 + 0.2*1.0
	assert.InDelta(t, want, got[0].FinalScore, 1e-9)
}

func TestRetrieve_EmptyQueries(t *testing.T) {
	e := NewEngine(&fakeSearcher{}, Config{})
	got := e.Retrieve(context.Background(), nil, "")
	assert.Empty(t, got)
}

func TestRetrieve_SearchFailureYieldsEmptyContribution(t *testing.T) {
	e := NewEngine(&fakeSearcher{err: fmt.Errorf("index offline")}, Config{})
	got := e.Retrieve(context.Background(), []string{"a", "b"}, "a")
	assert.Empty(t, got)
}

func TestRetrieve_TruncatesToResultK(t *testing.T) {
	var frags []Fragment
	for i := 0; i < 20; i++ {
		frags = append(frags, Fragment{
			Content:         fmt.Sprintf("completely distinct fragment number %d with unrelated words %d%d", i, i*7, i*13),
			SimilarityScore: float64(i) / 20.0,
			Source:          "doc.txt",
		})
	}
	searcher := &fakeSearcher{results: map[string][]Fragment{"q": frags}}
	e := NewEngine(searcher, Config{ResultK: 3, DupThreshold: 0.99})

	got := e.Retrieve(context.Background(), []string{"q"}, "q")
	assert.Len(t, got, 3)
}

func TestDeduplicate_Idempotent(t *testing.T) {
	e := NewEngine(&fakeSearcher{}, Config{})
	frags := []Fragment{
		{Content: "The Eiffel Tower is in Paris", SimilarityScore: 0.1},
		{Content: "Berlin is the capital of Germany", SimilarityScore: 0.2},
		{Content: "Go is a statically typed language", SimilarityScore: 0.3},
	}
	once := e.deduplicate(frags)
	twice := e.deduplicate(once)
	assert.Equal(t, once, twice)
}

func TestDeduplicate_NearDuplicateKeepsBetterScore(t *testing.T) {
	e := NewEngine(&fakeSearcher{}, Config{})
	a := Fragment{Content: "The quick brown fox jumps over the lazy dog by the river", SimilarityScore: 0.3}
	b := Fragment{Content: "The quick brown fox jumps over the lazy dog by the rivers", SimilarityScore: 0.1}
	require.Greater(t, Ratio(normalize(a.Content), normalize(b.Content)), 0.8)

	// worse fragment accepted first, better one must evict it
	got := e.deduplicate([]Fragment{a, b})
	require.Len(t, got, 1)
	assert.Equal(t, 0.1, got[0].SimilarityScore)

	// better fragment accepted first, worse one must be dropped
	got = e.deduplicate([]Fragment{b, a})
	require.Len(t, got, 1)
	assert.Equal(t, 0.1, got[0].SimilarityScore)
}

func TestDeduplicate_ExactMatchAfterNormalization(t *testing.T) {
	e := NewEngine(&fakeSearcher{}, Config{})
	got := e.deduplicate([]Fragment{
		{Content: "Paris is the capital of France", SimilarityScore: 0.05},
		{Content: "  paris is the capital of FRANCE  ", SimilarityScore: 0.07},
	})
	assert.Len(t, got, 1)
}

func TestRerank_Deterministic(t *testing.T) {
	e := NewEngine(&fakeSearcher{}, Config{})
	mk := func() []Fragment {
		return []Fragment{
			{Content: "alpha beta gamma", SimilarityScore: 0.4, Source: "a.md"},
			{Content: "delta epsilon zeta", SimilarityScore: 0.2, Source: "b.pdf"},
			{Content: "eta theta iota", SimilarityScore: 0.3, Source: "c.csv"},
		}
	}
	first := e.rerank(mk(), "alpha zeta")
	second := e.rerank(mk(), "alpha zeta")
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Content, second[i].Content)
		assert.Equal(t, first[i].FinalScore, second[i].FinalScore)
	}
}

func TestLengthScore_Boundaries(t *testing.T) {
	assert.Equal(t, 1.0, lengthScore(500))
	assert.Equal(t, 0.1, lengthScore(1500))
	assert.Equal(t, 0.1, lengthScore(5000))
	assert.Equal(t, 0.5, lengthScore(0))
}

func TestKeywordDensity(t *testing.T) {
	assert.Equal(t, 0.5, keywordDensity("Paris capital France unrelated words here", "paris capital france"))
	assert.Equal(t, 0.0, keywordDensity("", "anything"))
	assert.Equal(t, 0.0, keywordDensity("no overlap at all", "different query terms"))
}

func TestSourceScore(t *testing.T) {
	e := NewEngine(&fakeSearcher{}, Config{})
	assert.Equal(t, 1.0, e.sourceScore("report.pdf"))
	assert.Equal(t, 0.9, e.sourceScore("notes.MD"))
	assert.Equal(t, 0.7, e.sourceScore("data.csv"))
	assert.Equal(t, 0.5, e.sourceScore("archive.zip"))
	assert.Equal(t, 0.5, e.sourceScore("no-extension"))
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 1.0, Ratio("same", "same"))
	assert.Equal(t, 1.0, Ratio("", ""))
	assert.Equal(t, 0.0, Ratio("abc", "xyz"))
	assert.Greater(t, Ratio("hello world", "hello there world"), 0.7)
}
