// File: cmd/history.go
package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newHistoryCmd creates the `history` command, listing stored runs.
func newHistoryCmd(d deps) *cobra.Command {
	var name string
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent reconciliation runs from the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			s, cleanup, err := d.stores.Create(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			if cleanup != nil {
				defer cleanup()
			}

			runs, err := s.RecentRuns(ctx, name, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tWHEN\tNAME\tCOMPUTED\tOBSERVED\tMATCH\tURL")
			for _, r := range runs {
				match := "yes"
				if !r.Matched {
					match = "no"
					if r.AlternateMatched {
						match = "no (alt)"
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%s\t%s\n",
					r.ID, r.ReconciledAt.Format("2006-01-02 15:04:05"), r.Name,
					r.ComputedTotal, r.ObservedTotal, match, r.URL)
			}
			return w.Flush()
		},
	}
	historyCmd.Flags().StringVar(&name, "name", "", "Only list runs with this report name.")
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list.")
	return historyCmd
}
