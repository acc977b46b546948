package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neurofetch/neurofetch-go/internal/agents"
	"github.com/neurofetch/neurofetch-go/internal/config"
	"github.com/neurofetch/neurofetch-go/internal/retrieval"
	"github.com/neurofetch/neurofetch-go/internal/vector"
)

var (
	agentKind    string
	agentBusAddr string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run a standalone agent process connected to the bus",
	Long: `Run one agent in its own process. The agent registers on the message
bus, sends heartbeats, and serves its capability until interrupted.

Kinds: retrieval, reformulation, structured`,
	RunE: runAgentWorker,
}

func init() {
	agentCmd.Flags().StringVarP(&agentKind, "kind", "k", "retrieval", "Agent kind to run")
	agentCmd.Flags().StringVar(&agentBusAddr, "bus", "", "Bus address (overrides config)")
	rootCmd.AddCommand(agentCmd)
}

func runAgentWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	busAddr := cfg.Bus.Addr
	if agentBusAddr != "" {
		busAddr = agentBusAddr
	}

	var a agents.Agent
	switch agentKind {
	case "retrieval":
		store := vector.NewStore(vector.Config{
			CollectionName:   cfg.Vector.Collection,
			EmbeddingModel:   cfg.Vector.EmbeddingModel,
			EmbeddingAPIKey:  cfg.Vector.EmbeddingAPIKey,
			EmbeddingBaseURL: cfg.Vector.EmbeddingBaseURL,
			ChromaURL:        cfg.Vector.ChromaURL,
		})
		a = agents.NewRetrievalAgent(retrieval.NewEngine(store, retrieval.Config{
			PerQueryK:    cfg.Retrieval.PerQueryK,
			ResultK:      cfg.Retrieval.ResultK,
			DupThreshold: cfg.Retrieval.DupThreshold,
			Weights: retrieval.Weights{
				Closeness: cfg.Retrieval.ClosenessWeight,
				Length:    cfg.Retrieval.LengthWeight,
				Keyword:   cfg.Retrieval.KeywordWeight,
				Source:    cfg.Retrieval.SourceWeight,
			},
		}))
	case "reformulation":
		a = agents.NewReformulationAgent()
	case "structured":
		a = agents.NewStructuredAgent(makeProvider(cfg))
	default:
		return fmt.Errorf("unknown agent kind: %s", agentKind)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nStopping agent...")
		cancel()
	}()

	ba := agents.NewBusAgent(a, busAddr)
	heartbeat := time.Duration(cfg.Bus.HeartbeatSeconds) * time.Second
	if err := ba.Connect(ctx, heartbeat); err != nil {
		return fmt.Errorf("connecting to bus at %s: %w", busAddr, err)
	}
	defer ba.Disconnect()

	fmt.Printf("Agent %s (%s) connected to %s\n", a.ID(), a.Kind(), busAddr)
	<-ctx.Done()
	return nil
}
