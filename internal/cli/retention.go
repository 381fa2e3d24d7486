package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xtxerr/faultlogger/internal/storage/config"
	"github.com/xtxerr/faultlogger/internal/storage/retention"
)

// RetentionOptions holds flags for the retention command.
type RetentionOptions struct {
	*RootOptions
	DryRun         bool
	MaxAge         time.Duration
	MaxPerCategory int
}

// NewRetentionCommand creates the retention command.
func NewRetentionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RetentionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Run a retention pass",
		Long: `Evict records beyond the per-type cap or older than the maximum age,
archive them to Parquet and delete WAL segments no longer needed.

Examples:
  faultlog retention --dry-run
  faultlog retention --max-per-type 50 --max-age 720h`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetention(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report what would be evicted")
	cmd.Flags().DurationVar(&opts.MaxAge, "max-age", 0, "override maximum age, e.g. 720h (0 keeps the configured value)")
	cmd.Flags().IntVar(&opts.MaxPerCategory, "max-per-type", -1, "override per-type record cap (0 disables)")

	return cmd
}

func runRetention(opts *RetentionOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.MaxAge > 0 {
		cfg.Retention.MaxAge = opts.MaxAge
	}
	if opts.MaxPerCategory >= 0 {
		cfg.Retention.MaxPerCategory = opts.MaxPerCategory
	}
	// The pass runs here; no background worker.
	cfg.Retention.Enabled = false

	l, err := opts.open(cfg)
	if err != nil {
		return err
	}
	defer l.Close()

	var result retention.CleanupResult
	if opts.DryRun {
		result = l.Store().DryRunRetention()
	} else {
		result, err = l.Store().RunRetention(context.Background())
		if err != nil {
			out.Error(err)
			return WrapExitError(ExitFailure, "retention failed", err)
		}
	}

	if opts.Format == "json" {
		byType := make(map[string]int)
		for cat, n := range result.ByCategory {
			byType[cat.Name()] = n
		}
		errs := make([]string, len(result.Errors))
		for i, e := range result.Errors {
			errs[i] = e.Error()
		}
		return out.Success(map[string]interface{}{
			"dry_run":          result.DryRun,
			"evicted":          result.Evicted,
			"by_type":          byType,
			"by_reason":        result.ByReason,
			"archived":         result.Archived,
			"archive_path":     result.ArchivePath,
			"segments_deleted": result.SegmentsDeleted,
			"bytes_freed":      result.BytesFreed,
			"errors":           errs,
		})
	}

	var b strings.Builder
	verb := "evicted"
	if result.DryRun {
		verb = "would evict"
	}
	fmt.Fprintf(&b, "%s %d records (count %d, age %d)",
		verb, result.Evicted, result.ByReason[retention.ReasonCount], result.ByReason[retention.ReasonAge])
	if result.ArchivePath != "" {
		fmt.Fprintf(&b, "\narchived %d records to %s", result.Archived, result.ArchivePath)
	}
	if result.SegmentsDeleted > 0 {
		fmt.Fprintf(&b, "\ndeleted %d segments, freed %s", result.SegmentsDeleted, config.FormatBytes(result.BytesFreed))
	}
	for _, e := range result.Errors {
		fmt.Fprintf(&b, "\nwarning: %v", e)
	}
	return out.Success(b.String())
}
