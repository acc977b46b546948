package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/neurofetch/neurofetch-go/internal/config"
	"github.com/neurofetch/neurofetch-go/internal/registry"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show neurofetch status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	configPath := config.GetConfigPath()
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Println("neurofetch Status")
	fmt.Println()
	fmt.Printf("Config: %s\n", configPath)
	fmt.Printf("Model: %s/%s\n", cfg.Model.Provider, cfg.Model.Model)
	fmt.Printf("Bus: %s\n", cfg.Bus.Addr)
	fmt.Printf("Vector store: %s (collection %q)\n", cfg.Vector.ChromaURL, cfg.Vector.Collection)
	if cfg.Redis.URL != "" {
		fmt.Printf("Redis: %s\n", cfg.Redis.URL)
	}

	// Live agent listing, if a server is running
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/agents", cfg.HTTP.Port))
	if err != nil {
		fmt.Println("\nServer: not running")
		return nil
	}
	defer resp.Body.Close()

	var out struct {
		Agents []registry.AgentSpec `json:"agents"`
		Total  int                  `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding /agents response: %w", err)
	}

	fmt.Printf("\nServer: running on port %d\n", cfg.HTTP.Port)
	fmt.Printf("Agents (%d):\n", out.Total)
	for _, spec := range out.Agents {
		marker := " "
		if spec.IsDefault {
			marker = "*"
		}
		fmt.Printf("  %s %s (%s)", marker, spec.ID, spec.Kind)
		if len(spec.Intents) > 0 {
			fmt.Printf(" intents=%v", spec.Intents)
		}
		fmt.Println()
	}
	return nil
}
