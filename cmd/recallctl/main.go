// Package main implements the recallctl CLI for manual operations
// against a running recalld server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the recalld HTTP server
	serverURL string
	// tenantID scopes every operation
	tenantID string
	// orgID optionally narrows operations to one organization
	orgID string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "recallctl",
	Short: "CLI for recalld HTTP server operations",
	Long: `recallctl is a command-line interface for interacting with the recalld server.
It provides commands for indexing records, searching, reindexing, and checking health.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8090", "recalld server URL")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "tenant id")
	rootCmd.PersistentFlags().StringVar(&orgID, "org", "", "organization id")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(countCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check recalld server health",
	RunE:  runHealth,
}

var indexCmd = &cobra.Command{
	Use:   "index <entity> <record>",
	Short: "Index one record",
	Long: `Index one record through the pipeline.

Examples:
  # Index a company record
  recallctl index --tenant t1 company c-42`,
	Args: cobra.ExactArgs(2),
	RunE: runIndex,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <entity> <record>",
	Short: "Delete one record from the index",
	Args:  cobra.ExactArgs(2),
	RunE:  runDelete,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a similarity search",
	Long: `Run a similarity search over the indexed entries.

Examples:
  # Search within one tenant
  recallctl search --tenant t1 "acme corp"

  # Restrict to specific entities
  recallctl search --tenant t1 --entities company,deal "acme corp"`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex [entity]",
	Short: "Rebuild the index for one entity or all entities",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReindex,
}

var purgeCmd = &cobra.Command{
	Use:   "purge <entity>",
	Short: "Remove every indexed entry for an entity within the tenant",
	Args:  cobra.ExactArgs(1),
	RunE:  runPurge,
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count indexed entries within the tenant",
	RunE:  runCount,
}

var (
	searchEntities []string
	searchLimit    int
	purgeFirst     bool
)

func init() {
	searchCmd.Flags().StringSliceVar(&searchEntities, "entities", nil, "restrict search to these entity ids")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "maximum number of matches")
	reindexCmd.Flags().BoolVar(&purgeFirst, "purge", false, "purge existing entries before the walk")
}

func runHealth(cmd *cobra.Command, args []string) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := getJSON("/health", nil, &resp); err != nil {
		return err
	}
	fmt.Printf("Status: %s\n", resp.Status)
	return nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	var resp map[string]any
	err := postJSON("/api/v1/index", map[string]any{
		"entity_id": args[0],
		"record_id": args[1],
		"tenant_id": tenantID,
		"org_id":    orgID,
	}, &resp)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runDelete(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	q.Set("tenant_id", tenantID)
	if orgID != "" {
		q.Set("org_id", orgID)
	}
	target := fmt.Sprintf("/api/v1/index/%s/%s?%s",
		url.PathEscape(args[0]), url.PathEscape(args[1]), q.Encode())

	req, err := http.NewRequest(http.MethodDelete, serverURL+target, nil)
	if err != nil {
		return err
	}
	var resp map[string]any
	if err := doRequest(req, &resp); err != nil {
		return err
	}
	return printJSON(resp)
}

func runSearch(cmd *cobra.Command, args []string) error {
	var resp struct {
		Matches []struct {
			EntityID  string  `json:"entity_id"`
			RecordID  string  `json:"record_id"`
			Score     float32 `json:"score"`
			URL       string  `json:"url"`
			Presenter struct {
				Title    string `json:"title"`
				Subtitle string `json:"subtitle"`
			} `json:"presenter"`
		} `json:"matches"`
	}

	err := postJSON("/api/v1/search", map[string]any{
		"query":      args[0],
		"tenant_id":  tenantID,
		"org_id":     orgID,
		"entity_ids": searchEntities,
		"limit":      searchLimit,
	}, &resp)
	if err != nil {
		return err
	}

	if len(resp.Matches) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for _, m := range resp.Matches {
		title := m.Presenter.Title
		if title == "" {
			title = m.RecordID
		}
		fmt.Printf("%.3f  %s/%s  %s", m.Score, m.EntityID, m.RecordID, title)
		if m.Presenter.Subtitle != "" {
			fmt.Printf("  (%s)", m.Presenter.Subtitle)
		}
		if m.URL != "" {
			fmt.Printf("  %s", m.URL)
		}
		fmt.Println()
	}
	return nil
}

func runReindex(cmd *cobra.Command, args []string) error {
	body := map[string]any{
		"tenant_id":   tenantID,
		"org_id":      orgID,
		"purge_first": purgeFirst,
	}
	if len(args) == 1 {
		body["entity_id"] = args[0]
	}

	var resp struct {
		Mode string `json:"mode"`
	}
	if err := postJSON("/api/v1/reindex", body, &resp); err != nil {
		return err
	}
	fmt.Printf("Reindex accepted (%s)\n", resp.Mode)
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	err := postJSON("/api/v1/purge", map[string]any{
		"entity_id": args[0],
		"tenant_id": tenantID,
	}, nil)
	if err != nil {
		return err
	}
	fmt.Println("Purged.")
	return nil
}

func runCount(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	q.Set("tenant_id", tenantID)
	if orgID != "" {
		q.Set("org_id", orgID)
	}

	var resp struct {
		Count int64 `json:"count"`
	}
	if err := getJSON("/api/v1/entries/count", q, &resp); err != nil {
		return err
	}
	fmt.Printf("Entries: %d\n", resp.Count)
	return nil
}

func getJSON(path string, query url.Values, out any) error {
	target := serverURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return doRequest(req, out)
}

func postJSON(path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, serverURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doRequest(req, out)
}

func doRequest(req *http.Request, out any) error {
	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
