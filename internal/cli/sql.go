package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// SQLOptions holds flags for the sql command.
type SQLOptions struct {
	*RootOptions
	Timeout time.Duration
}

// NewSQLCommand creates the sql command.
func NewSQLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SQLOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sql <query>",
		Short: "Run SQL against archived records",
		Long: `Run a DuckDB SQL statement against the Parquet archive of evicted
records. The archive is exposed as the view "archive" with the columns
seq, id, pid, uid, module, category, category_name, timestamp, reason,
summary, full_log, evicted_at and evict_reason.

Examples:
  faultlog sql "SELECT category, count(*) AS n FROM archive GROUP BY category"
  faultlog sql "SELECT module, max(timestamp) FROM archive GROUP BY module" --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSQL(opts, cmd, args[0])
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "query timeout")

	return cmd
}

func runSQL(opts *SQLOptions, cmd *cobra.Command, sql string) error {
	out := opts.formatter(cmd)

	l, _, err := opts.openDefault()
	if err != nil {
		return err
	}
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	rows, err := l.Store().QuerySQL(ctx, sql)
	if err != nil {
		out.Error(err)
		return WrapExitError(ExitFailure, "sql failed", err)
	}

	if opts.Format == "json" {
		return out.Success(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(out.Writer, "no rows")
		return nil
	}

	cols := make([]string, 0, len(rows[0]))
	for c := range rows[0] {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	tw := tabwriter.NewWriter(out.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.ToUpper(strings.Join(cols, "\t")))
	for _, row := range rows {
		vals := make([]string, len(cols))
		for i, c := range cols {
			vals[i] = fmt.Sprint(row[c])
		}
		fmt.Fprintln(tw, strings.Join(vals, "\t"))
	}
	return tw.Flush()
}
