package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/dpsync/internal/progress"
	"github.com/Ning0612/dpsync/internal/state"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit       int
		source      string
		destination string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := state.NewManager(a.cfg.DataDir)
			if err != nil {
				return err
			}
			defer history.Close()

			var records []state.ExecutionRecord
			if source != "" || destination != "" {
				if source == "" || destination == "" {
					return fmt.Errorf("--source and --destination must be given together")
				}
				records, err = history.GetHistory(source, destination, limit)
			} else {
				records, err = history.GetAllHistory(limit)
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tSOURCE\tDESTINATION\tSTATUS\tFILES\tFAILED\tBYTES\tDURATION\tERROR")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
					r.StartTime.Local().Format(time.DateTime), r.Source, r.Destination, r.Status,
					r.FilesTransferred, r.FilesFailed, progress.FormatBytes(r.BytesTransferred),
					r.EndTime.Sub(r.StartTime).Round(time.Second), r.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")
	cmd.Flags().StringVar(&source, "source", "", "only runs from this distribution point")
	cmd.Flags().StringVar(&destination, "destination", "", "only runs to this distribution point")
	return cmd
}
