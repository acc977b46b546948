package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/neurofetch/neurofetch-go/internal/config"
)

var (
	askServerURL string
	askPDFPath   string
	askShowTrace bool
)

var askCmd = &cobra.Command{
	Use:   "ask [query]",
	Short: "Send a query to a running neurofetch server",
	Long:  "Send one query to /route_query, or start an interactive prompt when no query is given.",
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askServerURL, "server", "", "Server URL (default: http://localhost:<config port>)")
	askCmd.Flags().StringVar(&askPDFPath, "pdf", "", "PDF path forwarded as query context")
	askCmd.Flags().BoolVar(&askShowTrace, "trace", false, "Show the routing trace")
	rootCmd.AddCommand(askCmd)
}

type routeResult struct {
	Agent    string   `json:"agent"`
	Response any      `json:"response"`
	Trace    []string `json:"trace"`
	Elapsed  float64  `json:"elapsed"`
}

func runAsk(cmd *cobra.Command, args []string) error {
	serverURL := askServerURL
	if serverURL == "" {
		cfg, err := config.Load("")
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		serverURL = fmt.Sprintf("http://localhost:%d", cfg.HTTP.Port)
	}

	if len(args) > 0 {
		return askOnce(serverURL, strings.Join(args, " "))
	}

	// interactive mode
	fmt.Println("neurofetch interactive mode (type 'exit' or Ctrl+C to quit)")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	exitCommands := map[string]bool{
		"exit": true, "quit": true, "/exit": true, "/quit": true, ":q": true,
	}

	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if exitCommands[strings.ToLower(input)] {
			fmt.Println("Goodbye!")
			break
		}
		if err := askOnce(serverURL, input); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
		fmt.Println()
	}
	return nil
}

func askOnce(serverURL, query string) error {
	payload := map[string]any{"query": query}
	if askPDFPath != "" {
		payload["context"] = map[string]any{"pdf_path": askPDFPath}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Post(serverURL+"/route_query", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("reaching server at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("server: %s", errBody.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}

	var result routeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	switch v := result.Response.(type) {
	case string:
		fmt.Println(v)
	default:
		pretty, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(pretty))
	}

	if askShowTrace {
		fmt.Printf("\n[agent: %s | trace: %s | %.2fs]\n",
			result.Agent, strings.Join(result.Trace, " → "), result.Elapsed)
	}
	return nil
}
