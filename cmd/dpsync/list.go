package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/logger"
	"github.com/Ning0612/dpsync/internal/progress"
)

func newListCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list NAME",
		Short: "List the files on a distribution point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			factory, closeStore, err := a.factory()
			if err != nil {
				return err
			}
			defer closeStore()

			point, err := factory.DistributionPoint(ctx, args[0])
			if err != nil {
				return err
			}
			if err := point.Prepare(ctx); err != nil {
				return err
			}
			defer func() {
				if err := point.Cleanup(ctx); err != nil {
					logger.Get().Warn("cleanup failed", "distribution_point", point.Name(), "error", err)
				}
			}()
			if err := point.ListFiles(ctx, !all); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSIZE\tCHECKSUM")
			for _, f := range point.Files() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, formatSize(f.Size), formatChecksum(f.Checksums))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include files that are not installer packages")
	return cmd
}

func formatSize(size int64) string {
	if size == domain.UnknownSize {
		return "-"
	}
	return progress.FormatBytes(size)
}

func formatChecksum(c domain.Checksums) string {
	best, ok := c.Best()
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%s:%s", best.Type, best.Value)
}
