package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/inletfeed/inlet/internal/config"
	"github.com/inletfeed/inlet/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, credentials, and database health",
	RunE:  doctorAction,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// credentialEnvVars lists the environment variables each source type needs
// at fetch time. Types absent here need no credentials.
var credentialEnvVars = map[string][]string{
	"reddit":    {"REDDIT_CLIENT_ID", "REDDIT_CLIENT_SECRET"},
	"sec_edgar": {"SEC_EDGAR_USER_AGENT"},
	"telegram":  {"TELEGRAM_BOT_TOKEN"},
}

func doctorAction(_ *cobra.Command, _ []string) error {
	ok := true

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(false, "config directory %s", configDir)
		ok = false
	} else {
		printCheck(true, "config directory %s", configDir)
	}

	// Config file
	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(false, "config.yaml: %v", err)
		ok = false
	} else {
		byType := make(map[string]int)
		for _, src := range cfg.Sources {
			byType[src.Type]++
		}
		printCheck(true, "config.yaml (%d sources across %d types)", len(cfg.Sources), len(byType))

		// Source types must resolve against the registry.
		reg := newRegistry()
		for _, src := range cfg.Sources {
			if _, found := reg.Lookup(src.Type); !found {
				printCheck(false, "source %s: unknown type %q", src.ID, src.Type)
				ok = false
			}
		}

		// Credentials for configured source types
		for srcType, vars := range credentialEnvVars {
			if byType[srcType] == 0 {
				continue
			}
			for _, name := range vars {
				if os.Getenv(name) == "" {
					printCheck(false, "%s not set (needed by %s sources)", name, srcType)
					ok = false
				} else {
					printCheck(true, "%s", name)
				}
			}
		}
	}

	// Database
	var db *store.Store
	if cfg != nil {
		db, err = store.Open(cfg.Storage.Path)
		if err != nil {
			printCheck(false, "database: %v", err)
			ok = false
		} else {
			defer func() { _ = db.Close() }()
			printCheck(true, "database %s", cfg.Storage.Path)
		}
	}

	// Source health (info-level, non-fatal)
	if db != nil && cfg != nil {
		checkSourceHealth(db, cfg)
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

func checkSourceHealth(db *store.Store, cfg *config.Config) {
	ctx := context.Background()

	since := time.Now().AddDate(0, 0, -30)
	stats, err := db.GetSourceStats(ctx, since)
	if err != nil || len(stats) == 0 {
		return // no data yet, skip
	}

	seen := make(map[string]store.SourceStats, len(stats))
	for _, ss := range stats {
		seen[ss.SourceID] = ss
	}

	staleThreshold := time.Now().AddDate(0, 0, -staleDays)
	fmt.Println()

	for _, src := range cfg.Sources {
		ss, found := seen[src.ID]
		if !found {
			printInfo("no items yet: %s", src.ID)
			continue
		}
		if ss.LastPublished.Before(staleThreshold) {
			daysAgo := int(time.Since(ss.LastPublished).Hours() / 24)
			printInfo("stale: %s — last item %d days ago", src.ID, daysAgo)
		}
	}
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
