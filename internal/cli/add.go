package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xtxerr/faultlogger/internal/faultlogger"
	"github.com/xtxerr/faultlogger/internal/storage/types"
)

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	Type        string
	ProcessID   int32
	UserID      int32
	Module      string
	Reason      string
	Summary     string
	Signal      string
	FaultThread string
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a fault record",
		Long: `Add a fault record to the store.

With --signal the record is reported as a native crash and its reason
names the signal; otherwise it is added directly with the given summary.

Examples:
  faultlog add --type appfreeze --module com.example.app --summary "APP_FREEZE 0"
  faultlog add --module com.example.app --signal SIGABRT --thread "Tid:1, Name:main"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Type, "type", "t", "", "fault type: cppcrash, jscrash, appfreeze")
	cmd.Flags().Int32Var(&opts.ProcessID, "pid", 0, "process id")
	cmd.Flags().Int32Var(&opts.UserID, "uid", 0, "user id")
	cmd.Flags().StringVarP(&opts.Module, "module", "m", "", "module name (required)")
	_ = cmd.MarkFlagRequired("module")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "fault reason")
	cmd.Flags().StringVarP(&opts.Summary, "summary", "s", "", "fault summary")
	cmd.Flags().StringVar(&opts.Signal, "signal", "", "signal name; reports a native crash")
	cmd.Flags().StringVar(&opts.FaultThread, "thread", "", "fault thread stack for native crashes")

	return cmd
}

func runAdd(opts *AddOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx := context.Background()

	l, _, err := opts.openDefault()
	if err != nil {
		return err
	}
	defer l.Close()

	var h types.Handle
	if opts.Signal != "" {
		h, err = l.ReportNativeCrash(ctx, faultlogger.NativeCrash{
			ProcessID:   opts.ProcessID,
			UserID:      opts.UserID,
			Module:      opts.Module,
			Signal:      opts.Signal,
			FaultThread: opts.FaultThread,
		})
	} else {
		cat, perr := types.ParseCategory(opts.Type)
		if perr != nil {
			return WrapExitError(ExitCommandError, "invalid --type", perr)
		}
		h, err = l.AddFaultLog(ctx, faultlogger.AddRequest{
			ProcessID: opts.ProcessID,
			UserID:    opts.UserID,
			FaultType: cat,
			Module:    opts.Module,
			Reason:    opts.Reason,
			Summary:   opts.Summary,
		})
	}
	if err != nil {
		out.Error(err)
		return WrapExitError(ExitFailure, "add failed", err)
	}

	if opts.Format == "json" {
		return out.Success(map[string]interface{}{
			"seq":       h.Seq,
			"type":      int32(h.Category),
			"timestamp": h.Timestamp,
			"location":  h.Location.String(),
		})
	}
	return out.Success(fmt.Sprintf("added %s record %d", h.Category.Name(), h.Seq))
}
