package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/xtxerr/faultlogger/internal/logging"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	MetricsAddr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the store open and run retention in the background",
		Long: `Open the store, run the periodic retention worker and expose store
metrics in Prometheus format until interrupted.

Examples:
  faultlog serve --metrics-addr :9464`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", ":9464", "metrics listen address (empty disables)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, cfg, err := opts.openDefault()
	if err != nil {
		return err
	}
	defer l.Close()

	log := logging.Component("serve")
	log.Info("store open",
		"data_dir", cfg.DataDir,
		"live", l.Store().Stats().Index.Live,
		"retention", cfg.Retention.Enabled)

	errCh := make(chan error, 1)
	var srv *http.Server
	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(l.Store().Metrics().Registry, promhttp.HandlerOpts{}))
		srv = &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("metrics listening", "addr", opts.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return WrapExitError(ExitFailure, "metrics server failed", err)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown", "error", err)
		}
	}
	return nil
}
