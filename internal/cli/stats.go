package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xtxerr/faultlogger/internal/storage/types"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		Long: `Show record counts per fault type, replay results, disk usage and
latency distributions of the store.

Examples:
  faultlog stats
  faultlog stats --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(rootOpts, cmd)
		},
	}
}

func runStats(opts *RootOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	l, cfg, err := opts.openDefault()
	if err != nil {
		return err
	}
	defer l.Close()

	store := l.Store()
	stats := store.Stats()
	usage := store.GetDiskUsage()

	if opts.Format == "json" {
		byType := make(map[string]int)
		for cat, n := range stats.Index.ByCategory {
			byType[cat.Name()] = n
		}
		return out.Success(map[string]interface{}{
			"data_dir":      cfg.DataDir,
			"live":          stats.Index.Live,
			"by_type":       byType,
			"next_seq":      stats.Ingestion.NextSeq,
			"replay":        stats.Replay,
			"disk":          usage,
			"distributions": stats.Distributions,
		})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Store: %s\n", cfg.DataDir)
	fmt.Fprintf(&b, "  live records: %d (next seq %d)\n", stats.Index.Live, stats.Ingestion.NextSeq)
	for _, cat := range types.AllCategories() {
		fmt.Fprintf(&b, "  %-12s %d\n", cat.Name()+":", stats.Index.ByCategory[cat])
	}
	fmt.Fprintf(&b, "Replay: %d segments, %d entries, %d corrupt, %d bad segments\n",
		stats.Replay.Segments, stats.Replay.Entries, stats.Replay.CorruptRecords, stats.Replay.BadSegments)
	b.WriteString(store.FormatDiskUsage())
	for _, d := range stats.Distributions {
		fmt.Fprintf(&b, "%s: n=%d p50=%.2f p99=%.2f max=%.2f\n", d.Name, d.Count, d.P50, d.P99, d.Max)
	}

	return out.Success(strings.TrimRight(b.String(), "\n"))
}
