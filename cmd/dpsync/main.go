// Command dpsync copies packages between distribution points.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ning0612/dpsync/internal/config"
	"github.com/Ning0612/dpsync/internal/keychain"
	"github.com/Ning0612/dpsync/internal/logger"
	"github.com/Ning0612/dpsync/internal/service"
)

var version = "dev"

type app struct {
	configPath string
	verbose    bool
	logFormat  string

	cfg *config.Config
}

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "dpsync",
		Short:         "Synchronize packages between distribution points",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd.ErrOrStderr())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
			logger.Shutdown()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default: search ./, ./configs, ~/.dpsync)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "override the log format (text or json)")

	root.AddCommand(
		newSyncCmd(a),
		newListCmd(a),
		newHistoryCmd(a),
		newSecretCmd(a),
		newWatchCmd(a),
		newUnlockCmd(a),
	)
	return root
}

// load reads the configuration and installs the process logger
func (a *app) load(stderr io.Writer) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	if a.verbose {
		level = logger.LevelDebug
	}
	formatName := cfg.Log.Format
	if a.logFormat != "" {
		formatName = a.logFormat
	}
	format, err := logger.ParseFormat(formatName)
	if err != nil {
		return err
	}

	return logger.Init(logger.Config{
		Level:   level,
		Format:  format,
		Writers: []io.Writer{stderr},
		File: logger.FileConfig{
			Enabled:    cfg.Log.File.Enabled,
			Path:       cfg.Log.File.Path,
			MaxSizeMB:  cfg.Log.File.MaxSizeMB,
			MaxAgeDays: cfg.Log.File.MaxAgeDays,
			MaxBackups: cfg.Log.File.MaxBackups,
			Compress:   cfg.Log.File.Compress,
		},
	})
}

// factory builds distribution points with secrets from the local store.
// The returned closer releases the store.
func (a *app) factory() (*service.Factory, func(), error) {
	store, err := a.secretStore()
	if err != nil {
		return nil, nil, err
	}
	f := service.NewFactory(a.cfg,
		service.WithSecrets(store),
		service.WithFactoryLogger(logger.Get()),
	)
	return f, func() { store.Close() }, nil
}

func (a *app) secretStore() (*keychain.SQLiteStore, error) {
	store, err := keychain.Open(a.cfg.DataDir, keychain.DefaultPassphrase())
	if err != nil {
		return nil, fmt.Errorf("open secret store: %w", err)
	}
	return store, nil
}
