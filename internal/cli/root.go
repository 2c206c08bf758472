// Package cli implements the scholarship command-line interface.
package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/twistedwarden/esm-v3-sub005/internal/app"
	"github.com/twistedwarden/esm-v3-sub005/internal/config"
)

// Options carries what every command needs to assemble the engine.
type Options struct {
	ConfigPath string
	DBPath     string // overrides the configured database
	Logger     *slog.Logger
	Level      *slog.LevelVar // follows the configured log level when set
}

func (o *Options) load() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.DBPath != "" {
		cfg.DBPath = o.DBPath
	}
	if o.Level != nil {
		o.Level.Set(cfg.Level())
	}
	return cfg, nil
}

// open builds the engine. Callers must Close it.
func (o *Options) open(ctx context.Context) (*app.App, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, o.Logger)
}

// NewRootCmd creates the top-level "scholarship" command and registers all
// subcommands. level may be nil; otherwise it is set from the loaded config.
func NewRootCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	opts := &Options{Logger: logger, Level: level}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	root := &cobra.Command{
		Use:           "scholarship",
		Short:         "Scholarship application lifecycle and disbursement engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML config file (default $"+config.FileEnv+")")
	root.PersistentFlags().StringVar(&opts.DBPath, "db", "", "SQLite database path (overrides config)")

	root.AddCommand(
		newServeCmd(opts),
		newBudgetCmd(opts),
		newApplicationCmd(opts),
		newReconcileCmd(opts),
	)
	return root
}
