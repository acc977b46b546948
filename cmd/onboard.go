package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/neurofetch/neurofetch-go/internal/config"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize neurofetch configuration",
	RunE:  runOnboard,
}

func init() {
	rootCmd.AddCommand(onboardCmd)
}

const defaultAgentsYAML = `# Agent catalog. Intents route queries to agents; the default agent
# handles everything without an intent mapping.
agents:
  - id: adaptive_retrieval
    kind: retrieval
    description: Multi-query document retrieval with dedup and re-ranking
    is_default: true
  - id: query_reformulation
    kind: reformulation
    description: Intent detection and query variant generation
  - id: structured_data_extraction
    kind: structured_extraction
    description: Table and chat log extraction from documents
    intents: [table, chat]
`

func runOnboard(cmd *cobra.Command, args []string) error {
	configPath := config.GetConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
	} else {
		if err := config.Save(config.DefaultConfig(), ""); err != nil {
			return fmt.Errorf("creating config: %w", err)
		}
		fmt.Printf("✓ Created config at %s\n", configPath)
	}

	agentsPath := filepath.Join(filepath.Dir(configPath), "agents.yaml")
	if _, err := os.Stat(agentsPath); os.IsNotExist(err) {
		if err := os.WriteFile(agentsPath, []byte(defaultAgentsYAML), 0644); err != nil {
			return fmt.Errorf("creating agent catalog: %w", err)
		}
		fmt.Printf("✓ Created agent catalog at %s\n", agentsPath)
	}

	fmt.Println("\nneurofetch is ready!")
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Point ~/.neurofetch/config.json at your model and vector store")
	fmt.Println("  2. Start the server: neurofetch serve")
	fmt.Println("  3. Ask a question: neurofetch ask \"What does the contract say about renewal?\"")

	return nil
}
