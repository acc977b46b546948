// Package vector provides the similarity-search collaborator: a ChromaDB
// HTTP client with OpenAI-compatible embedding generation. The numerical
// method behind the index is opaque to the rest of the system; callers only
// see the retrieval.Searcher interface.
package vector

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/neurofetch/neurofetch-go/internal/retrieval"
)

// Config holds vector store configuration.
type Config struct {
	CollectionName   string // ChromaDB collection (default: "documents")
	EmbeddingModel   string // (default: "nomic-embed-text")
	EmbeddingAPIKey  string
	EmbeddingBaseURL string // OpenAI-compatible /embeddings base
	ChromaURL        string // ChromaDB HTTP URL (default: "http://localhost:8000")
	ChunkSize        int    // chars per chunk (default: 500)
	ChunkOverlap     int    // overlap chars (default: 50)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CollectionName:   "documents",
		EmbeddingModel:   "nomic-embed-text",
		EmbeddingBaseURL: "http://localhost:11434/v1",
		ChromaURL:        "http://localhost:8000",
		ChunkSize:        500,
		ChunkOverlap:     50,
	}
}

// Store provides document ingestion and similarity search.
type Store struct {
	cfg        Config
	httpClient *http.Client
}

// NewStore creates a vector store client.
func NewStore(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.CollectionName == "" {
		cfg.CollectionName = def.CollectionName
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = def.EmbeddingModel
	}
	if cfg.EmbeddingBaseURL == "" {
		cfg.EmbeddingBaseURL = def.EmbeddingBaseURL
	}
	if cfg.ChromaURL == "" {
		cfg.ChromaURL = def.ChromaURL
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = def.ChunkOverlap
	}
	return &Store{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Embed generates embeddings for the given texts.
func (s *Store) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	body, _ := json.Marshal(map[string]any{
		"model": s.cfg.EmbeddingModel,
		"input": texts,
	})

	req, err := http.NewRequestWithContext(ctx, "POST",
		strings.TrimRight(s.cfg.EmbeddingBaseURL, "/")+"/embeddings",
		bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.EmbeddingAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.EmbeddingAPIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding API call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding API error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}

	embeddings := make([][]float64, 0, len(result.Data))
	for _, d := range result.Data {
		embeddings = append(embeddings, d.Embedding)
	}
	return embeddings, nil
}

// Search implements retrieval.Searcher against ChromaDB. Distances come back
// as-is from the index: lower means closer.
func (s *Store) Search(ctx context.Context, query string, k int) ([]retrieval.Fragment, error) {
	if k == 0 {
		k = 10
	}

	embeddings, err := s.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding generated")
	}

	body, _ := json.Marshal(map[string]any{
		"query_embeddings": [][]float64{embeddings[0]},
		"n_results":        k,
		"include":          []string{"documents", "metadatas", "distances"},
	})

	endpoint := fmt.Sprintf("%s/api/v1/collections/%s/query",
		strings.TrimRight(s.cfg.ChromaURL, "/"), s.cfg.CollectionName)

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chromaDB query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("chromaDB error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result struct {
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]float64        `json:"distances"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parse chromaDB response: %w", err)
	}

	var frags []retrieval.Fragment
	if len(result.Documents) > 0 {
		for i, doc := range result.Documents[0] {
			f := retrieval.Fragment{Content: doc, Source: "unknown"}
			if i < len(result.Distances[0]) {
				f.SimilarityScore = result.Distances[0][i]
			}
			if i < len(result.Metadatas[0]) {
				f.Metadata = result.Metadatas[0][i]
				if src, ok := f.Metadata["source"].(string); ok {
					f.Source = src
				}
				if page, ok := f.Metadata["page"].(float64); ok {
					f.Page = int(page)
				}
			}
			frags = append(frags, f)
		}
	}
	return frags, nil
}

// IngestText chunks and embeds text into the collection.
func (s *Store) IngestText(ctx context.Context, text, source string) (int, error) {
	chunks := ChunkText(text, s.cfg.ChunkSize, s.cfg.ChunkOverlap, source)
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	embeddings, err := s.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	ids := make([]string, len(chunks))
	metadatas := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		ids[i] = fmt.Sprintf("%x", md5.Sum([]byte(c.Text)))[:16]
		metadatas[i] = map[string]any{
			"source":      c.Source,
			"chunk_index": c.ChunkIndex,
		}
	}

	body, _ := json.Marshal(map[string]any{
		"ids":        ids,
		"embeddings": embeddings,
		"documents":  texts,
		"metadatas":  metadatas,
	})

	endpoint := fmt.Sprintf("%s/api/v1/collections/%s/add",
		strings.TrimRight(s.cfg.ChromaURL, "/"), s.cfg.CollectionName)

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("chromaDB add: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("chromaDB add error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	log.Printf("[Vector] Ingested %d chunks from %s", len(chunks), source)
	return len(chunks), nil
}

// Chunk holds a text chunk with metadata.
type Chunk struct {
	Text       string `json:"text"`
	Source     string `json:"source"`
	ChunkIndex int    `json:"chunk_index"`
}

// ChunkText splits text into overlapping chunks on paragraph boundaries.
func ChunkText(text string, chunkSize, chunkOverlap int, source string) []Chunk {
	if len(text) == 0 {
		return nil
	}

	paragraphs := strings.Split(text, "\n\n")
	var chunks []Chunk
	var current strings.Builder
	idx := 0

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if current.Len()+len(para) > chunkSize && current.Len() > 0 {
			chunks = append(chunks, Chunk{
				Text:       current.String(),
				Source:     source,
				ChunkIndex: idx,
			})
			idx++

			tail := current.String()
			current.Reset()
			if len(tail) > chunkOverlap {
				cut := len(tail) - chunkOverlap
				// don't split a multi-byte rune
				for cut < len(tail) && !utf8.RuneStart(tail[cut]) {
					cut++
				}
				current.WriteString(tail[cut:])
			}
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}

	if current.Len() > 0 {
		chunks = append(chunks, Chunk{
			Text:       current.String(),
			Source:     source,
			ChunkIndex: idx,
		})
	}

	return chunks
}
