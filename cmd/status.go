package cmd

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statusServer string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the health endpoint of a running sensoretl instance",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "http://localhost:8080", "sensoretl server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		},
	}
	resp, err := client.Get(statusServer + "/api/v1/health")
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", statusServer, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var health struct {
		Status        string `json:"status"`
		Version       string `json:"version"`
		Uptime        string `json:"uptime"`
		SummaryOldest string `json:"summary_oldest"`
		SummaryNewest string `json:"summary_newest"`
		AlertWatchers int    `json:"alert_watchers"`
		LastRun       *struct {
			RunID      string `json:"run_id"`
			State      string `json:"state"`
			Mode       string `json:"mode"`
			FinishedAt string `json:"finished_at"`
		} `json:"last_run"`
		Database struct {
			Driver    string `json:"driver"`
			Status    string `json:"status"`
			SizeBytes int64  `json:"size_bytes"`
			Sensors   int    `json:"sensors"`
			Readings  int    `json:"readings"`
			Summaries int    `json:"summaries"`
		} `json:"database"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&health); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	// Human-readable output.
	fmt.Printf("sensoretl %s\n", health.Version)
	fmt.Printf("Status: %s\n", health.Status)
	fmt.Printf("Uptime: %s\n", health.Uptime)
	fmt.Println()

	if health.LastRun != nil {
		fmt.Printf("Last run: %s (%s, %s)\n", health.LastRun.RunID, health.LastRun.Mode, health.LastRun.State)
		if health.LastRun.FinishedAt != "" {
			fmt.Printf("  Finished: %s\n", health.LastRun.FinishedAt)
		}
		fmt.Println()
	}

	fmt.Printf("Database: %s (%s)\n", health.Database.Driver, health.Database.Status)
	if health.Database.SizeBytes > 0 {
		fmt.Printf("  Size: %s\n", formatBytes(health.Database.SizeBytes))
	}
	fmt.Printf("  Readings: %s\n", formatNumber(health.Database.Readings))
	fmt.Printf("  Summaries: %s\n", formatNumber(health.Database.Summaries))
	if health.SummaryOldest != "" {
		fmt.Printf("  Summary range: %s to %s\n", health.SummaryOldest, health.SummaryNewest)
	}
	if health.AlertWatchers > 0 {
		fmt.Printf("  Alert watchers: %d\n", health.AlertWatchers)
	}

	return nil
}

// formatNumber formats an integer with comma separators (e.g., 1,247,832).
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var result []byte
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

func formatBytes(b int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
