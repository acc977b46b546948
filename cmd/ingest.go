package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/neurofetch/neurofetch-go/internal/config"
	"github.com/neurofetch/neurofetch-go/internal/vector"
)

var ingestSource string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Chunk and index text files into the vector store",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "Source label stored with the chunks (default: file name)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store := vector.NewStore(vector.Config{
		CollectionName:   cfg.Vector.Collection,
		EmbeddingModel:   cfg.Vector.EmbeddingModel,
		EmbeddingAPIKey:  cfg.Vector.EmbeddingAPIKey,
		EmbeddingBaseURL: cfg.Vector.EmbeddingBaseURL,
		ChromaURL:        cfg.Vector.ChromaURL,
	})

	ctx := context.Background()
	total := 0
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		source := ingestSource
		if source == "" {
			source = filepath.Base(path)
		}

		n, err := store.IngestText(ctx, string(data), source)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", path, err)
		}
		fmt.Printf("✓ %s: %d chunks\n", path, n)
		total += n
	}
	fmt.Printf("Done, %d chunks indexed into %q\n", total, cfg.Vector.Collection)
	return nil
}
