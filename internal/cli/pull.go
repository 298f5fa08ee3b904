package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inletfeed/inlet/internal/config"
	"github.com/inletfeed/inlet/internal/connector"
	"github.com/inletfeed/inlet/internal/connector/edgar"
	"github.com/inletfeed/inlet/internal/connector/hn"
	"github.com/inletfeed/inlet/internal/connector/lobsters"
	"github.com/inletfeed/inlet/internal/connector/podcast"
	"github.com/inletfeed/inlet/internal/connector/polymarket"
	"github.com/inletfeed/inlet/internal/connector/reddit"
	"github.com/inletfeed/inlet/internal/connector/telegram"
	"github.com/inletfeed/inlet/internal/store"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Fetch new items from all configured sources",
	RunE:  pullAction,
}

func init() {
	rootCmd.AddCommand(pullCmd)
}

// newRegistry wires every connector. Used by pull and doctor.
func newRegistry() *connector.Registry {
	return connector.NewRegistry(
		hn.New(log),
		podcast.New(log),
		lobsters.New(log),
		polymarket.New(log),
		reddit.New(log),
		edgar.New(log),
		telegram.New(log),
	)
}

func pullAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	reg := newRegistry()
	ctx := cmd.Context()
	now := time.Now()
	windowStart := now.Add(-cfg.Pull.Window.Duration)

	totalNew := 0
	pulled := 0

	for _, src := range cfg.Sources {
		conn, ok := reg.Lookup(src.Type)
		if !ok {
			return fmt.Errorf("source %s: unknown type %q (known: %v)", src.ID, src.Type, reg.Types())
		}

		cursor, err := db.GetCursor(ctx, src.ID)
		if err != nil {
			return fmt.Errorf("source %s: load cursor: %w", src.ID, err)
		}

		params := connector.FetchParams{
			SourceID:    src.ID,
			SourceType:  src.Type,
			Config:      src.Options,
			Cursor:      cursor,
			Limits:      connector.Limits{MaxItems: cfg.Pull.MaxItems},
			WindowStart: windowStart,
		}

		res, err := conn.Fetch(ctx, params)
		if err != nil {
			if connector.IsSetup(err) {
				return fmt.Errorf("source %s: %w", src.ID, err)
			}
			log.WithField("source", src.ID).Warnf("fetch failed: %v", err)
			continue
		}
		if res.Meta.Error != "" {
			log.WithFields(logrus.Fields{"source": src.ID, "code": res.Meta.ErrorCode}).
				Warnf("%s", res.Meta.Error)
		}

		inserted := 0
		for _, raw := range res.RawItems {
			draft, err := conn.Normalize(raw, params)
			if err != nil {
				log.WithField("source", src.ID).Debugf("item skipped: %v", err)
				continue
			}
			if draft.ExternalID == "" {
				continue
			}

			var metadata json.RawMessage
			if len(draft.Metadata) > 0 {
				metadata, _ = json.Marshal(draft.Metadata)
			}

			_, isNew, err := db.UpsertItem(ctx, store.ItemInput{
				SourceID:    src.ID,
				SourceType:  draft.SourceType,
				ExternalID:  draft.ExternalID,
				Title:       draft.Title,
				BodyText:    draft.BodyText,
				URL:         draft.CanonicalURL,
				Author:      draft.Author,
				PublishedAt: draft.PublishedAt,
				FetchedAt:   now,
				Metadata:    metadata,
				Raw:         draft.Raw,
			})
			if err != nil {
				return fmt.Errorf("source %s: store item: %w", src.ID, err)
			}
			if isNew {
				inserted++
			}
		}

		if err := db.SaveCursor(ctx, src.ID, res.NextCursor); err != nil {
			return fmt.Errorf("source %s: save cursor: %w", src.ID, err)
		}

		totalNew += inserted
		pulled++
		log.WithFields(logrus.Fields{
			"source":  src.ID,
			"fetched": res.Meta.Fetched,
			"skipped": res.Meta.Skipped,
			"new":     inserted,
		}).Debug("source done")
	}

	pruned, err := db.PruneOld(ctx, cfg.Storage.RetainDays)
	if err != nil {
		return fmt.Errorf("prune old: %w", err)
	}

	fmt.Printf("Pulled %d new items from %d sources", totalNew, pulled)
	if pruned > 0 {
		fmt.Printf(" (%d old items pruned)", pruned)
	}
	fmt.Println()

	return nil
}
