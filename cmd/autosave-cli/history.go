package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"autosave/internal/config"
	"autosave/internal/event"

	sqlitestore "autosave/internal/storage/sqlite"
)

const messageWidth = 60

func newHistoryCmd() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Print journal events (saves, backups, sessions) from the database",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(dbPath); os.IsNotExist(err) {
				return fmt.Errorf("database file not found at %s; ensure the daemon has run or pass --db", dbPath)
			} else if err != nil {
				return fmt.Errorf("accessing database file %s: %w", dbPath, err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			types, _ := cmd.Flags().GetStringSlice("type")
			summary, _ := cmd.Flags().GetBool("summary")

			end := time.Now()
			start := end.AddDate(0, 0, -days)

			store := sqlitestore.NewSQLiteStore(dbPath)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize storage connection: %w", err)
			}
			defer store.Close()

			if summary {
				return printSummary(ctx, store, start)
			}

			eventTypes := make([]event.EventType, 0, len(types))
			for _, t := range types {
				eventTypes = append(eventTypes, event.EventType(t))
			}
			events, err := store.GetEvents(ctx, start, end, eventTypes...)
			if err != nil {
				return fmt.Errorf("failed to fetch events: %w", err)
			}
			if len(events) == 0 {
				fmt.Println("No events found for the specified period.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tTYPE\tAPP\tMESSAGE")
			for _, e := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Type, e.AppName,
					runewidth.Truncate(e.Message, messageWidth, "..."))
			}
			return w.Flush()
		},
	}

	historyCmd.Flags().StringVar(&dbPath, "db", config.DefaultDatabasePath(), "Path to the AutoSave journal database")
	historyCmd.Flags().IntP("days", "d", 7, "Number of past days to include")
	historyCmd.Flags().StringSliceP("type", "t", nil, "Only show these event types (save, backup, session_start, ...)")
	historyCmd.Flags().Bool("summary", false, "Count saves and backups per session instead of listing events")
	return historyCmd
}

type sessionCounter interface {
	CountBySession(ctx context.Context, t event.EventType, since time.Time) (map[string]int, error)
}

func printSummary(ctx context.Context, store sessionCounter, since time.Time) error {
	saves, err := store.CountBySession(ctx, event.EventTypeSave, since)
	if err != nil {
		return fmt.Errorf("failed to count saves: %w", err)
	}
	backups, err := store.CountBySession(ctx, event.EventTypeBackup, since)
	if err != nil {
		return fmt.Errorf("failed to count backups: %w", err)
	}

	sessions := make([]string, 0, len(saves))
	for id := range saves {
		sessions = append(sessions, id)
	}
	for id := range backups {
		if _, ok := saves[id]; !ok {
			sessions = append(sessions, id)
		}
	}
	if len(sessions) == 0 {
		fmt.Println("No saves or backups recorded for the specified period.")
		return nil
	}
	sort.Strings(sessions)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSAVES\tBACKUPS")
	for _, id := range sessions {
		fmt.Fprintf(w, "%s\t%d\t%d\n", id, saves[id], backups[id])
	}
	return w.Flush()
}
