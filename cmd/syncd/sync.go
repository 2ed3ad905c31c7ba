package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xelth-com/taskchat-sync/internal/models"
	syncengine "github.com/xelth-com/taskchat-sync/internal/sync"
)

var historyLimit int

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().IntVar(&historyLimit, "history", 10, "number of recent cycles to show")
}

var syncCmd = &cobra.Command{
	Use:   "sync <entity> <scope>",
	Short: "Run one push/pull cycle for a scope",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, err := parseScope(args[0], args[1])
		if err != nil {
			return err
		}

		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if !a.WaitOnline(ctx) {
			return syncengine.ErrOffline
		}

		report, err := a.Engine.SyncNow(ctx, scope)
		if report != nil {
			printReport(report)
		}
		if errors.Is(err, context.Canceled) {
			fmt.Println("cancelled, the cycle stops after the current item")
		}
		return err
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cursors of the configured scopes and recent cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := cmd.Context()
		st := a.Engine.Status(ctx)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SCOPE\tCURSOR")
		for _, s := range st.Scopes {
			cursor := "(none)"
			switch {
			case s.CursorErr != "":
				cursor = "error: " + s.CursorErr
			case !s.Cursor.IsZero():
				cursor = s.Cursor.LastPullTimestamp.Format(time.RFC3339Nano)
			}
			fmt.Fprintf(w, "%s\t%s\n", s.Scope, cursor)
		}
		w.Flush()

		rows, err := a.History.Recent(ctx, nil, historyLimit)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		fmt.Println()
		printHistory(rows)
		return nil
	},
}

func printReport(r *syncengine.CycleReport) {
	fmt.Printf("Scope:      %s\n", r.Scope)
	fmt.Printf("Duration:   %s\n", r.Duration)
	fmt.Printf("Pushed:     %d ok, %d failed, %d rejected, %d dead-lettered, %d skipped, %d parked\n",
		r.Count(syncengine.OutcomeSucceeded), r.Count(syncengine.OutcomeFailed),
		r.Count(syncengine.OutcomeRejected), r.Count(syncengine.OutcomeDeadLettered),
		r.Count(syncengine.OutcomeSkipped), r.Count(syncengine.OutcomeParked))
	fmt.Printf("Pulled:     %d fetched, %d inserted, %d overwritten, %d removed, %d deferred\n",
		r.Pull.Fetched, r.Pull.Inserted, r.Pull.Overwritten, r.Pull.Removed, r.Pull.Deferred)
	if r.CursorAdvanced {
		fmt.Printf("Cursor:     %s\n", r.CursorAfter.LastPullTimestamp.Format(time.RFC3339Nano))
	}
	for _, item := range r.Items {
		if item.Error != "" {
			fmt.Printf("  ✗ %s %s: %s\n", item.Op, item.LocalID, item.Error)
		}
	}
}

func printHistory(rows []models.SyncHistory) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSCOPE\tSTATUS\tPUSHED\tPULLED\tDURATION")
	for _, h := range rows {
		fmt.Fprintf(w, "%s\t%s:%s\t%s\t%d\t%d\t%dms\n",
			h.StartedAt.Format(time.RFC3339), h.EntityType, h.ScopeKey, h.Status,
			h.Pushed, h.Inserted+h.Overwritten+h.Removed, h.Duration)
	}
	w.Flush()
}
