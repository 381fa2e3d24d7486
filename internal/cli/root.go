// Package cli implements the faultlog command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/xtxerr/faultlogger/internal/faultlogger"
	"github.com/xtxerr/faultlogger/internal/logging"
	"github.com/xtxerr/faultlogger/internal/storage/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	DataDir    string
	Verbose    bool
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the faultlog CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "faultlog",
		Short: "faultlog - fault log store",
		Long:  "Record crash and freeze events and query them back, most recent first.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file path")
	cmd.PersistentFlags().StringVarP(&opts.DataDir, "data-dir", "d", "", "data directory (overrides config)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Add subcommands
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewQuerySelfCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewRetentionCommand(opts))
	cmd.AddCommand(NewSQLCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// loadConfig reads the config file if one was given or the default file
// exists, then applies flag overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()

	path := o.ConfigPath
	if path == "" {
		if _, err := os.Stat("faultlog.yaml"); err == nil {
			path = "faultlog.yaml"
		}
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if o.Verbose {
		level = slog.LevelDebug
	}
	logging.Init(level, cfg.Logging.JSON)

	return cfg, nil
}

// open opens the store behind a façade owning it.
func (o *RootOptions) open(cfg *config.Config) (*faultlogger.Logger, error) {
	l, err := faultlogger.Open(cfg, faultlogger.Options{})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return l, nil
}

// openDefault loads the configuration and opens the store.
func (o *RootOptions) openDefault() (*faultlogger.Logger, *config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	l, err := o.open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return l, cfg, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
