package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List past demonstration sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		sessions, err := e.store.ListSessions(cmd.Context(), sessionsLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tSTATUS\tSTARTED\tENDED\tCLAIMS\tCOST")
		for _, s := range sessions {
			ended := "-"
			if s.EndedAt != nil {
				ended = s.EndedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t$%.2f\n",
				s.ID,
				s.Status,
				s.StartedAt.UTC().Format(time.RFC3339),
				ended,
				s.ClaimsProcessed,
				s.TotalCostUSD,
			)
		}
		return w.Flush()
	},
}

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "maximum sessions to list")
	rootCmd.AddCommand(sessionsCmd)
}
