package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/dpsync/internal/daemon"
	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/logger"
	"github.com/Ning0612/dpsync/internal/scheduler"
	"github.com/Ning0612/dpsync/internal/service"
	"github.com/Ning0612/dpsync/internal/state"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		source       string
		destinations []string
		interval     time.Duration
		deleteFiles  bool
		stop         bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Synchronize a source to destinations on an interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pidFile := daemon.NewPIDFile(daemon.PIDPath(a.cfg.DataDir))
			if stop {
				if err := pidFile.Stop(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "watcher stopped")
				return nil
			}

			if source == "" || len(destinations) == 0 {
				return errors.New("--source and --destination are required")
			}
			pairs := make([]scheduler.Pair, 0, len(destinations))
			for _, d := range destinations {
				pairs = append(pairs, scheduler.Pair{Source: source, Destination: d})
			}

			if err := pidFile.Write(); err != nil {
				return err
			}
			defer pidFile.Remove()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			factory, closeStore, err := a.factory()
			if err != nil {
				return err
			}
			defer closeStore()

			history, err := state.NewManager(a.cfg.DataDir)
			if err != nil {
				return err
			}
			defer history.Close()

			watch, err := service.NewWatchService(factory, history, domain.SyncOptions{DeleteFiles: deleteFiles})
			if err != nil {
				return err
			}
			if err := watch.Start(ctx, interval, pairs); err != nil {
				return err
			}

			log := logger.With("component", "watch")
			log.Info("watching", "source", source, "destinations", destinations, "interval", interval)
			<-watch.Done()

			status := watch.Status()
			if s := status.SchedulerStats; s != nil {
				log.Info("watch stopped", "runs", s.TotalRuns, "failed", s.FailedRuns)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "source distribution point")
	cmd.Flags().StringSliceVarP(&destinations, "destination", "d", nil, "destination distribution points")
	cmd.Flags().DurationVar(&interval, "interval", 15*time.Minute, "time between runs")
	cmd.Flags().BoolVar(&deleteFiles, "delete-files", false, "delete destination files missing from the source")
	cmd.Flags().BoolVar(&stop, "stop", false, "stop the running watcher")
	return cmd
}
