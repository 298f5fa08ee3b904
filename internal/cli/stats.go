package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/inletfeed/inlet/internal/config"
	"github.com/inletfeed/inlet/internal/store"
)

var (
	statsSince  string
	statsFormat string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-source item counts and freshness",
	RunE:  statsAction,
}

func init() {
	statsCmd.Flags().StringVar(&statsSince, "since", "30d", "time window (e.g. 7d, 48h)")
	statsCmd.Flags().StringVar(&statsFormat, "format", "terminal", "output format: terminal, json")
	rootCmd.AddCommand(statsCmd)
}

const staleDays = 7

func statsAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	sinceDur, err := parseDuration(statsSince)
	if err != nil {
		return fmt.Errorf("parse --since: %w", err)
	}
	sinceTime := time.Now().Add(-sinceDur)

	ctx := cmd.Context()

	stats, err := db.GetSourceStats(ctx, sinceTime)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	if len(stats) == 0 {
		if statsFormat == "json" {
			fmt.Fprintln(os.Stdout, `{"sources":[]}`)
			return nil
		}
		fmt.Fprintln(os.Stdout, "No items found. Run 'inlet pull' first.")
		return nil
	}

	switch statsFormat {
	case "json":
		return printStatsJSON(os.Stdout, stats)
	case "terminal", "":
		printStats(os.Stdout, stats, sinceDur)
		return nil
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", statsFormat)
	}
}

type jsonSourceStats struct {
	SourceID      string `json:"source_id"`
	SourceType    string `json:"source_type"`
	Total         int    `json:"total"`
	LastPublished string `json:"last_published"`
	LastFetched   string `json:"last_fetched"`
}

func printStatsJSON(w io.Writer, stats []store.SourceStats) error {
	sources := make([]jsonSourceStats, 0, len(stats))
	for _, ss := range stats {
		sources = append(sources, jsonSourceStats{
			SourceID:      ss.SourceID,
			SourceType:    ss.SourceType,
			Total:         ss.Total,
			LastPublished: ss.LastPublished.UTC().Format(time.RFC3339),
			LastFetched:   ss.LastFetched.UTC().Format(time.RFC3339),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string][]jsonSourceStats{"sources": sources})
}

func printStats(w *os.File, stats []store.SourceStats, since time.Duration) {
	now := time.Now()

	total := 0
	for _, ss := range stats {
		total += ss.Total
	}

	fmt.Fprintf(w, "inlet stats — %s, %d items from %d sources\n\n", formatStatsDuration(since), total, len(stats))

	maxSrc := 6 // minimum "Source"
	for _, ss := range stats {
		if len(ss.SourceID) > maxSrc {
			maxSrc = len(ss.SourceID)
		}
	}
	if maxSrc > 40 {
		maxSrc = 40
	}

	fmt.Fprintf(w, "  %-*s  %-10s  %5s  %s\n", maxSrc, "Source", "Type", "Items", "Last Item")
	for _, ss := range stats {
		name := ss.SourceID
		if len(name) > maxSrc {
			name = name[:maxSrc-1] + "…"
		}
		age := "never"
		if !ss.LastPublished.IsZero() {
			daysAgo := int(now.Sub(ss.LastPublished).Hours() / 24)
			switch {
			case daysAgo == 0:
				age = "today"
			case daysAgo == 1:
				age = "1 day ago"
			default:
				age = fmt.Sprintf("%d days ago", daysAgo)
			}
		}
		fmt.Fprintf(w, "  %-*s  %-10s  %5d  %s\n", maxSrc, name, ss.SourceType, ss.Total, age)
	}
	fmt.Fprintln(w)

	staleThreshold := now.AddDate(0, 0, -staleDays)
	var stale []store.SourceStats
	for _, ss := range stats {
		if ss.LastPublished.Before(staleThreshold) {
			stale = append(stale, ss)
		}
	}
	if len(stale) > 0 {
		fmt.Fprintf(w, "--- Stale Sources (no items in %d+ days) ---\n\n", staleDays)
		for _, ss := range stale {
			daysAgo := int(now.Sub(ss.LastPublished).Hours() / 24)
			fmt.Fprintf(w, "  %s — last item %d days ago\n", ss.SourceID, daysAgo)
		}
		fmt.Fprintln(w)
	}
}

// parseDuration handles both Go durations and "Nd" day notation.
func parseDuration(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}

func formatStatsDuration(d time.Duration) string {
	hours := int(d.Hours())
	if hours >= 24 && hours%24 == 0 {
		return fmt.Sprintf("%d days", hours/24)
	}
	return fmt.Sprintf("%dh", hours)
}
