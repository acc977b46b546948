// Package config defines the configuration schema and JSON loader.
package config

// Config is the top-level configuration.
type Config struct {
	Bus       BusConfig       `json:"bus"`
	HTTP      HTTPConfig      `json:"http"`
	Model     ModelConfig     `json:"model"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Vector    VectorConfig    `json:"vector"`
	Redis     RedisConfig     `json:"redis"`

	// AgentsFile optionally overrides the built-in agent catalog.
	AgentsFile string `json:"agentsFile,omitempty"`
}

// BusConfig configures the message bus.
type BusConfig struct {
	Addr             string `json:"addr"`
	HeartbeatSeconds int    `json:"heartbeatSeconds"`
	SweepSeconds     int    `json:"sweepSeconds"` // 0 disables the staleness sweep
	CallTimeoutSecs  int    `json:"callTimeoutSeconds"`
}

// HTTPConfig configures the orchestration API.
type HTTPConfig struct {
	Port int `json:"port"`
}

// ModelConfig selects and configures the LLM backend.
type ModelConfig struct {
	Provider string `json:"provider"` // "ollama" or "openai"
	Model    string `json:"model"`
	APIKey   string `json:"apiKey,omitempty"`
	APIBase  string `json:"apiBase,omitempty"`
}

// RetrievalConfig exposes the retrieval engine's tunables.
type RetrievalConfig struct {
	PerQueryK    int     `json:"perQueryK"`
	ResultK      int     `json:"resultK"`
	DupThreshold float64 `json:"dupThreshold"`

	ClosenessWeight float64 `json:"closenessWeight"`
	LengthWeight    float64 `json:"lengthWeight"`
	KeywordWeight   float64 `json:"keywordWeight"`
	SourceWeight    float64 `json:"sourceWeight"`
}

// VectorConfig configures the similarity-search collaborator.
type VectorConfig struct {
	ChromaURL        string `json:"chromaUrl"`
	Collection       string `json:"collection"`
	EmbeddingModel   string `json:"embeddingModel"`
	EmbeddingBaseURL string `json:"embeddingBaseUrl"`
	EmbeddingAPIKey  string `json:"embeddingApiKey,omitempty"`
}

// RedisConfig configures the optional Redis cache.
type RedisConfig struct {
	URL      string `json:"url,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// DefaultConfig returns the defaults used when no config file exists.
func DefaultConfig() Config {
	return Config{
		Bus: BusConfig{
			Addr:             "127.0.0.1:8790",
			HeartbeatSeconds: 30,
			SweepSeconds:     60,
			CallTimeoutSecs:  30,
		},
		HTTP: HTTPConfig{Port: 8791},
		Model: ModelConfig{
			Provider: "ollama",
			Model:    "llama3",
		},
		Retrieval: RetrievalConfig{
			PerQueryK:       15,
			ResultK:         10,
			DupThreshold:    0.8,
			ClosenessWeight: 0.4,
			LengthWeight:    0.2,
			KeywordWeight:   0.2,
			SourceWeight:    0.2,
		},
		Vector: VectorConfig{
			ChromaURL:        "http://localhost:8000",
			Collection:       "documents",
			EmbeddingModel:   "nomic-embed-text",
			EmbeddingBaseURL: "http://localhost:11434/v1",
		},
	}
}
