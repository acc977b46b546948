package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neurofetch/neurofetch-go/internal/agents"
	"github.com/neurofetch/neurofetch-go/internal/api"
	"github.com/neurofetch/neurofetch-go/internal/bus"
	"github.com/neurofetch/neurofetch-go/internal/config"
	"github.com/neurofetch/neurofetch-go/internal/orchestrator"
	"github.com/neurofetch/neurofetch-go/internal/redis"
	"github.com/neurofetch/neurofetch-go/internal/registry"
	"github.com/neurofetch/neurofetch-go/internal/retrieval"
	"github.com/neurofetch/neurofetch-go/internal/vector"
)

var (
	servePort    int
	serveBusAddr string
	serveConfig  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestration server (message bus, agents, HTTP API)",
	Long: `Start the neurofetch server with:
  - TCP message bus for agent registration, heartbeats and model calls
  - Built-in agents: adaptive retrieval, query reformulation, structured extraction
  - Query routing via confidence check + LLM intent classification
  - HTTP API endpoints (/route_query, /agents, /health/*, /ws)`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP API port (overrides config)")
	serveCmd.Flags().StringVar(&serveBusAddr, "bus", "", "Bus listen address (overrides config)")
	serveCmd.Flags().StringVarP(&serveConfig, "config", "c", "", "Config file path")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfig)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	port := cfg.HTTP.Port
	if servePort != 0 {
		port = servePort
	}
	busAddr := cfg.Bus.Addr
	if serveBusAddr != "" {
		busAddr = serveBusAddr
	}

	fmt.Println("Starting neurofetch server...")
	fmt.Printf("   Model: %s/%s\n", cfg.Model.Provider, cfg.Model.Model)

	provider := makeProvider(cfg)

	if cfg.Redis.URL != "" {
		if redis.Init(redis.Config{URL: cfg.Redis.URL, Password: cfg.Redis.Password, DB: cfg.Redis.DB}) {
			fmt.Println("   Redis cache enabled")
			defer redis.Close()
		}
	}

	store := vector.NewStore(vector.Config{
		CollectionName:   cfg.Vector.Collection,
		EmbeddingModel:   cfg.Vector.EmbeddingModel,
		EmbeddingAPIKey:  cfg.Vector.EmbeddingAPIKey,
		EmbeddingBaseURL: cfg.Vector.EmbeddingBaseURL,
		ChromaURL:        cfg.Vector.ChromaURL,
	})

	engine := retrieval.NewEngine(store, retrieval.Config{
		PerQueryK:    cfg.Retrieval.PerQueryK,
		ResultK:      cfg.Retrieval.ResultK,
		DupThreshold: cfg.Retrieval.DupThreshold,
		Weights: retrieval.Weights{
			Closeness: cfg.Retrieval.ClosenessWeight,
			Length:    cfg.Retrieval.LengthWeight,
			Keyword:   cfg.Retrieval.KeywordWeight,
			Source:    cfg.Retrieval.SourceWeight,
		},
	})

	reg := registry.NewRegistry()
	agentsPath := cfg.AgentsFile
	if agentsPath == "" {
		agentsPath = filepath.Join(filepath.Dir(config.GetConfigPath()), "agents.yaml")
	}
	specs, err := registry.LoadAgentSpecs(agentsPath)
	if err != nil {
		fmt.Printf("   Could not load agent catalog: %v\n", err)
	}
	byID := make(map[string]registry.AgentSpec, len(specs))
	for _, s := range specs {
		byID[s.ID] = s
	}
	register := func(a agents.Agent, fallback registry.AgentSpec) {
		spec, ok := byID[a.ID()]
		if !ok {
			spec = fallback
		}
		reg.Register(spec, a)
	}

	register(agents.NewRetrievalAgent(engine), registry.AgentSpec{
		Description: "Multi-query document retrieval with dedup and re-ranking",
		IsDefault:   true,
	})
	register(agents.NewReformulationAgent(), registry.AgentSpec{
		Description: "Intent detection and query variant generation",
	})
	register(agents.NewStructuredAgent(provider), registry.AgentSpec{
		Description: "Table and chat log extraction from documents",
		Intents:     []string{"table", "chat"},
	})
	fmt.Printf("   %d agents registered\n", len(reg.List()))

	orch := orchestrator.New(provider, orchestrator.NewPhraseJudge(),
		orchestrator.NewLLMClassifier(provider), reg)

	busSrv := bus.NewServer(bus.ServerConfig{
		Addr:       busAddr,
		SweepEvery: time.Duration(cfg.Bus.SweepSeconds) * time.Second,
		SweepAfter: 3 * time.Duration(cfg.Bus.HeartbeatSeconds) * time.Second,
	})
	busSrv.RegisterEndpoint("default", "llm", cfg.Model.Provider, func(ctx context.Context, data map[string]any) (map[string]any, error) {
		prompt, _ := data["prompt"].(string)
		if prompt == "" {
			return nil, fmt.Errorf("llm_call requires a prompt")
		}
		out, err := provider.Complete(ctx, prompt)
		if err != nil {
			return nil, err
		}
		return map[string]any{"response": out, "model": provider.DefaultModel()}, nil
	})

	apiSrv := api.NewServer(api.ServerConfig{
		Port:     port,
		Router:   orch,
		Registry: reg,
		Provider: provider,
		Bus:      busSrv,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()

	fmt.Printf("   Bus → tcp://%s\n", busAddr)
	fmt.Printf("   HTTP API → http://0.0.0.0:%d\n", port)
	fmt.Printf("   Events → ws://0.0.0.0:%d/ws\n", port)
	fmt.Println("────────────────────────────────────────")

	errCh := make(chan error, 2)
	go func() { errCh <- busSrv.Start(ctx) }()
	go func() { errCh <- apiSrv.Start(ctx) }()

	select {
	case err := <-errCh:
		cancel()
		return err
	case <-ctx.Done():
		return nil
	}
}
