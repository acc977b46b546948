package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "neurofetch",
	Short: "neurofetch — multi-agent document retrieval and query routing",
	Long:  "neurofetch routes user queries to specialized agents over a message bus:\nadaptive retrieval, query reformulation and structured data extraction.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
}
