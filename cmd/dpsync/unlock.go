package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ning0612/dpsync/internal/lock"
	"github.com/Ning0612/dpsync/internal/service"
)

func newUnlockCmd(a *app) *cobra.Command {
	var source, destination string

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Remove the lock left by a sync that crashed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := lock.NewFileLock(service.NewFactory(a.cfg).LockDir(), source, destination)
			if err != nil {
				return err
			}
			if holder, err := l.GetHolder(); err == nil {
				return fmt.Errorf("sync %s -> %s is running as PID %d on %s", source, destination, holder.PID, holder.Hostname)
			}
			if err := l.ForceRelease(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unlocked %s -> %s\n", source, destination)
			return nil
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "source distribution point")
	cmd.Flags().StringVarP(&destination, "destination", "d", "", "destination distribution point")
	cmd.MarkFlagRequired("source")
	cmd.MarkFlagRequired("destination")
	return cmd
}
