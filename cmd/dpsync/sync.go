package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/progress"
	"github.com/Ning0612/dpsync/internal/service"
	"github.com/Ning0612/dpsync/internal/state"
)

type syncFlags struct {
	source         string
	destination    string
	files          []string
	force          bool
	deleteFiles    bool
	deletePackages bool
	progress       bool
}

func newSyncCmd(a *app) *cobra.Command {
	var f syncFlags

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Copy missing or changed packages from one distribution point to another",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSync(cmd, f)
		},
	}

	cmd.Flags().StringVarP(&f.source, "source", "s", "", "source distribution point")
	cmd.Flags().StringVarP(&f.destination, "destination", "d", "", "destination distribution point")
	cmd.Flags().StringSliceVar(&f.files, "file", nil, "only synchronize these file names")
	cmd.Flags().BoolVarP(&f.force, "force", "f", false, "copy every selected file even if the destination matches")
	cmd.Flags().BoolVar(&f.deleteFiles, "delete-files", false, "delete destination files missing from the source")
	cmd.Flags().BoolVar(&f.deletePackages, "delete-packages", false, "delete destination package records missing from the source")
	cmd.Flags().BoolVar(&f.progress, "progress", false, "show transfer progress")
	cmd.MarkFlagRequired("source")
	cmd.MarkFlagRequired("destination")
	return cmd
}

func (a *app) runSync(cmd *cobra.Command, f syncFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	task, err := factory.NewTask(ctx, f.source, f.destination, service.WithHistory(history))
	if err != nil {
		return err
	}

	opts := domain.SyncOptions{
		ForceSync:      f.force,
		DeleteFiles:    f.deleteFiles,
		DeletePackages: f.deletePackages,
	}
	for _, name := range f.files {
		opts.Selection = append(opts.Selection, domain.DpFile{Name: name})
	}

	var tracker *progress.Tracker
	if f.progress {
		tracker = progress.NewTracker(progress.NewConsole(cmd.ErrOrStderr(), 200*time.Millisecond).Callback())
	}

	done := make(chan struct{})
	go cancelOnSignal(ctx, done, task.Cancel)

	result, err := task.Run(ctx, opts, tracker)
	close(done)
	if result != nil {
		printResult(cmd, f, result)
	}
	if errors.Is(err, domain.ErrCanceled) {
		return fmt.Errorf("sync canceled")
	}
	return err
}

func printResult(cmd *cobra.Command, f syncFlags, r *service.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s -> %s: %s, %d transferred, %d failed, %s in %s\n",
		f.source, f.destination, r.Status, r.FilesTransferred, r.FilesFailed,
		progress.FormatBytes(r.BytesTransferred), r.EndTime.Sub(r.StartTime).Round(time.Second))
	if f.deleteFiles {
		fmt.Fprintf(out, "%d file(s) deleted on %s\n", r.FilesDeleted, f.destination)
	}
	if f.deletePackages {
		fmt.Fprintf(out, "%d package record(s) deleted on %s\n", r.PackagesDeleted, f.destination)
	}
}

// cancelOnSignal calls cancel when ctx ends before done is closed.
func cancelOnSignal(ctx context.Context, done <-chan struct{}, cancel func()) {
	select {
	case <-ctx.Done():
		cancel()
	case <-done:
	}
}
