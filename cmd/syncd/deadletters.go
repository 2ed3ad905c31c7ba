package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	deadLettersCmd.AddCommand(requeueCmd)
	rootCmd.AddCommand(deadLettersCmd)
}

var deadLettersCmd = &cobra.Command{
	Use:     "deadletters",
	Aliases: []string{"dlq"},
	Short:   "List records the remote store keeps rejecting",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		dls, err := a.Engine.DeadLetters(cmd.Context())
		if err != nil {
			return err
		}
		if len(dls) == 0 {
			fmt.Println("No dead-lettered records")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SCOPE\tLOCAL ID\tSTATUS\tATTEMPTS\tSINCE\tLAST ERROR")
		for _, dl := range dls {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				dl.Scope, dl.LocalID, dl.Status, dl.Attempts,
				dl.DeadLetteredAt.Format(time.RFC3339), dl.LastError)
		}
		return w.Flush()
	},
}

var requeueCmd = &cobra.Command{
	Use:   "requeue <entity> <scope> <local-id>",
	Short: "Reset the retry budget of a dead-lettered record",
	Args:  cobra.ExactArgs(3),
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

		if err := a.Engine.Requeue(cmd.Context(), scope, args[2]); err != nil {
			return err
		}
		fmt.Printf("Requeued %s in %s, it is pushed on the next cycle\n", args[2], scope)
		return nil
	},
}
