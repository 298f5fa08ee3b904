package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/inletfeed/inlet/internal/config"
	"github.com/inletfeed/inlet/internal/store"
)

var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Inspect or reset per-source fetch cursors",
}

var cursorShowCmd = &cobra.Command{
	Use:   "show [source-id]",
	Short: "Print stored cursors",
	Args:  cobra.MaximumNArgs(1),
	RunE:  cursorShowAction,
}

var cursorResetCmd = &cobra.Command{
	Use:   "reset <source-id>",
	Short: "Delete a source's cursor so the next pull starts cold",
	Args:  cobra.ExactArgs(1),
	RunE:  cursorResetAction,
}

func init() {
	cursorCmd.AddCommand(cursorShowCmd)
	cursorCmd.AddCommand(cursorResetCmd)
	rootCmd.AddCommand(cursorCmd)
}

func cursorShowAction(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx := cmd.Context()

	if len(args) == 1 {
		cursor, err := db.GetCursor(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get cursor: %w", err)
		}
		if cursor == nil {
			fmt.Printf("%s: no cursor stored\n", args[0])
			return nil
		}
		fmt.Println(indentJSON(cursor))
		return nil
	}

	infos, err := db.ListCursors(ctx)
	if err != nil {
		return fmt.Errorf("list cursors: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("No cursors stored. Run 'inlet pull' first.")
		return nil
	}
	for _, info := range infos {
		fmt.Printf("%s (updated %s)\n%s\n", info.SourceID,
			info.UpdatedAt.UTC().Format(time.RFC3339), indentJSON(info.Cursor))
	}
	return nil
}

func cursorResetAction(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.DeleteCursor(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}
	fmt.Printf("Cursor reset for %s.\n", args[0])
	return nil
}

func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
