package cli

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	faulterrors "github.com/xtxerr/faultlogger/internal/errors"
	"github.com/xtxerr/faultlogger/internal/faultlogger"
	"github.com/xtxerr/faultlogger/internal/storage/query"
	"github.com/xtxerr/faultlogger/internal/storage/types"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Type    string
	Limit   int
	Full    bool
	Archive bool
	Module  string
	Since   string
	Name    string
	Timeout time.Duration
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query fault records, most recent first",
		Long: `Query fault records of one type, or of every type with --type all.

With --archive the query runs against records evicted by retention.
--since takes a duration back from now ("1h") or a unix time in seconds.
--name looks up the single record whose log file name matches, in the
live records first and then in the archive.

Examples:
  faultlog query --type all
  faultlog query --type appfreeze --limit 5 --full
  faultlog query --type cppcrash --module com.example.app --since 24h
  faultlog query --type cppcrash --archive --format json
  faultlog query --name cppcrash-com.example.app-10001-20231114221320000 --full`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Type, "type", "t", "", "fault type: all, cppcrash, jscrash, appfreeze")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "maximum number of records")
	cmd.Flags().BoolVar(&opts.Full, "full", false, "print full log bodies")
	cmd.Flags().BoolVar(&opts.Archive, "archive", false, "query archived records")
	cmd.Flags().StringVarP(&opts.Module, "module", "m", "", "only records of this module")
	cmd.Flags().StringVar(&opts.Since, "since", "", "only records newer than a duration ago or a unix time")
	cmd.Flags().StringVar(&opts.Name, "name", "", "look up one record by log file name")
	cmd.MarkFlagsOneRequired("type", "name")
	cmd.MarkFlagsMutuallyExclusive("type", "name")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "how long to wait for the result")

	return cmd
}

func runQuery(opts *QueryOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	if opts.Name != "" {
		return runFindByName(opts, out)
	}

	cat, err := types.ParseCategory(opts.Type)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --type", err)
	}
	since, err := parseSince(opts.Since, time.Now())
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --since", err)
	}

	l, _, err := opts.openDefault()
	if err != nil {
		return err
	}
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	var records []types.Record
	if opts.Archive {
		records, err = l.Store().QueryArchive(ctx, query.Filter{
			Category: cat,
			Module:   opts.Module,
			Since:    since,
			Limit:    opts.Limit,
		})
	} else {
		var fut *faultlogger.Future
		fut, err = l.Query(faultlogger.QueryRequest{
			FaultType: &cat,
			Module:    opts.Module,
			Since:     since,
			Limit:     opts.Limit,
		})
		if err == nil {
			records, err = fut.Await(ctx)
		}
	}
	if err != nil {
		out.Error(err)
		return WrapExitError(ExitFailure, "query failed", err)
	}

	out.VerboseLog("%d records", len(records))
	return out.Records(records, opts.Full)
}

func runFindByName(opts *QueryOptions, out *OutputFormatter) error {
	l, _, err := opts.openDefault()
	if err != nil {
		return err
	}
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	r, ok, err := l.Store().FindByLogName(ctx, opts.Name)
	if err != nil {
		out.Error(err)
		return WrapExitError(ExitFailure, "lookup failed", err)
	}

	var records []types.Record
	if ok {
		records = append(records, r)
	}
	return out.Records(records, opts.Full)
}

// parseSince accepts a duration back from now or a unix time in seconds.
// An empty value disables the bound.
func parseSince(v string, now time.Time) (int64, error) {
	if v == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs < 0 {
			return 0, faulterrors.NewInvalidParameter("since", "negative")
		}
		return secs, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, faulterrors.NewInvalidParameter("since", "negative")
	}
	return now.Add(-d).Unix(), nil
}

// QuerySelfOptions holds flags for the query-self command.
type QuerySelfOptions struct {
	*RootOptions
	UserID    int32
	Module    string
	FaultType int32
	Limit     int
	Full      bool
}

// NewQuerySelfCommand creates the query-self command.
func NewQuerySelfCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QuerySelfOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query-self",
		Short: "Query the records of one application (legacy)",
		Long: `Query the records owned by one application, identified by user id and
module, with a raw numeric fault type (0 all, 2 native crash, 3 script
crash, 4 app freeze). Unknown fault types print nothing.

Examples:
  faultlog query-self --uid 10001 --module com.example.app --fault-type 0`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuerySelf(opts, cmd)
		},
	}

	cmd.Flags().Int32Var(&opts.UserID, "uid", 0, "caller user id")
	cmd.Flags().StringVarP(&opts.Module, "module", "m", "", "caller module (required)")
	_ = cmd.MarkFlagRequired("module")
	cmd.Flags().Int32Var(&opts.FaultType, "fault-type", 0, "raw fault type")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "maximum number of records")
	cmd.Flags().BoolVar(&opts.Full, "full", false, "print full log bodies")

	return cmd
}

func runQuerySelf(opts *QuerySelfOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	l, _, err := opts.openDefault()
	if err != nil {
		return err
	}
	defer l.Close()

	self := l.WithCaller(faultlogger.Caller{UserID: opts.UserID, Module: opts.Module})

	ft := opts.FaultType
	fut := self.QuerySelf(faultlogger.LegacyQuery{FaultType: &ft, Limit: opts.Limit})
	if fut == nil {
		out.VerboseLog("no result for fault type %d", opts.FaultType)
		return nil
	}

	records, err := fut.Await(context.Background())
	if err != nil {
		out.Error(err)
		return WrapExitError(ExitFailure, "query failed", err)
	}
	return out.Records(records, opts.Full)
}
