package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkText(t *testing.T) {
	text := strings.Repeat("word ", 80) + "\n\n" + strings.Repeat("more ", 80)
	chunks := ChunkText(text, 300, 50, "doc.txt")
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, "doc.txt", c.Source)
		assert.Equal(t, i, c.ChunkIndex)
	}
}

func TestChunkText_Empty(t *testing.T) {
	assert.Nil(t, ChunkText("", 500, 50, "x"))
}

func TestChunkText_OverlapKeepsRunesIntact(t *testing.T) {
	para := strings.Repeat("héllo wörld ", 20)
	text := para + "\n\n" + para + "\n\n" + para
	chunks := ChunkText(text, 150, 26, "doc.md")
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c.Text), "chunk must not split a rune: %q", c.Text)
	}
}

func TestChunkText_SingleSmallParagraph(t *testing.T) {
	chunks := ChunkText("short text", 500, 50, "a.md")
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text", chunks[0].Text)
}

func TestSearch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float64{0.1, 0.2}}},
		})
	})
	mux.HandleFunc("/api/v1/collections/documents/query", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"documents": [][]string{{"Paris is the capital of France"}},
			"metadatas": [][]map[string]any{{{"source": "doc.pdf", "page": float64(3)}}},
			"distances": [][]float64{{0.05}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := NewStore(Config{
		EmbeddingBaseURL: srv.URL + "/v1",
		ChromaURL:        srv.URL,
	})

	frags, err := store.Search(context.Background(), "capital of France", 5)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "Paris is the capital of France", frags[0].Content)
	assert.Equal(t, "doc.pdf", frags[0].Source)
	assert.Equal(t, 3, frags[0].Page)
	assert.Equal(t, 0.05, frags[0].SimilarityScore)
}

func TestIngestText(t *testing.T) {
	var added struct {
		IDs       []string         `json:"ids"`
		Documents []string         `json:"documents"`
		Metadatas []map[string]any `json:"metadatas"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"embedding": []float64{0.1, 0.2}}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	})
	mux.HandleFunc("/api/v1/collections/documents/add", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&added))
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := NewStore(Config{
		EmbeddingBaseURL: srv.URL + "/v1",
		ChromaURL:        srv.URL,
		ChunkSize:        100,
		ChunkOverlap:     20,
	})

	text := strings.Repeat("alpha ", 30) + "\n\n" + strings.Repeat("beta ", 30)
	n, err := store.IngestText(context.Background(), text, "notes.md")
	require.NoError(t, err)
	assert.Greater(t, n, 1)
	assert.Len(t, added.IDs, n)
	assert.Len(t, added.Documents, n)
	assert.Equal(t, "notes.md", added.Metadatas[0]["source"])
}

func TestSearch_EmbeddingFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := NewStore(Config{EmbeddingBaseURL: srv.URL, ChromaURL: srv.URL})
	_, err := store.Search(context.Background(), "q", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed query")
}
