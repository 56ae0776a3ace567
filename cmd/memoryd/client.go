package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

// healthCmd checks daemon health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check memoryd daemon health",
	Long: `Check the health status of a running memoryd daemon.

Examples:
  # Check health
  memoryd health

  # Check health on a different server
  memoryd health --server http://localhost:8080`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

// statsCmd shows store statistics
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show context store statistics",
	Long: `Show item and chunk counts for a running memoryd daemon, broken
down by collection, item type and source.

Examples:
  # Show stats
  memoryd stats

  # Show stats from a different server
  memoryd stats --server http://localhost:8080`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

// cleanupCmd removes expired items
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired items from the context store",
	Long: `Ask a running memoryd daemon to remove expired items.

Examples:
  # Run cleanup
  memoryd cleanup`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

// HealthResponse matches internal/server/types.go HealthResponse
type HealthResponse struct {
	Status      string `json:"status"`
	VectorStore string `json:"vectorstore"`
	Version     string `json:"version,omitempty"`
}

// StatsResponse matches internal/server/types.go StatsResponse
type StatsResponse struct {
	TotalItems   int            `json:"total_items"`
	TotalChunks  int            `json:"total_chunks"`
	ByCollection map[string]int `json:"by_collection"`
	ByType       map[string]int `json:"by_type"`
	BySource     map[string]int `json:"by_source"`
	Degraded     bool           `json:"degraded"`
}

// CleanupResponse matches internal/server/types.go CleanupResponse
type CleanupResponse struct {
	ChunksRemoved int `json:"chunks_removed"`
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	var health HealthResponse
	if err := callServer(http.MethodGet, "/health", 5*time.Second, &health); err != nil {
		return err
	}

	fmt.Printf("Status:       %s\n", health.Status)
	fmt.Printf("Vector store: %s\n", health.VectorStore)
	if health.Version != "" {
		fmt.Printf("Version:      %s\n", health.Version)
	}
	fmt.Printf("Server URL:   %s\n", serverURL)

	return nil
}

// runStats handles the stats command
func runStats(cmd *cobra.Command, args []string) error {
	var stats StatsResponse
	if err := callServer(http.MethodGet, "/api/v1/stats", 30*time.Second, &stats); err != nil {
		return err
	}

	fmt.Printf("Items:  %d\n", stats.TotalItems)
	fmt.Printf("Chunks: %d\n", stats.TotalChunks)
	if stats.Degraded {
		fmt.Println("Store:  DEGRADED (writes are being discarded)")
	}
	printBreakdown("By type", stats.ByType)
	printBreakdown("By source", stats.BySource)
	printBreakdown("By collection", stats.ByCollection)

	return nil
}

// runCleanup handles the cleanup command
func runCleanup(cmd *cobra.Command, args []string) error {
	var result CleanupResponse
	if err := callServer(http.MethodPost, "/api/v1/cleanup", 30*time.Second, &result); err != nil {
		return err
	}

	fmt.Printf("Removed %d expired chunk(s)\n", result.ChunksRemoved)

	return nil
}

// callServer issues a request against the daemon and decodes the JSON
// response into out.
func callServer(method, path string, timeout time.Duration, out interface{}) error {
	url := serverURL + path

	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	client := &http.Client{
		Timeout: timeout,
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// printBreakdown prints a count map with stable key order.
func printBreakdown(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("%s:\n", title)
	for _, k := range keys {
		fmt.Printf("  %-22s %d\n", k, counts[k])
	}
}
