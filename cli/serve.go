package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/bsaid97/go-spike-fixer/logging"
	"github.com/bsaid97/go-spike-fixer/metrics"
	"github.com/bsaid97/go-spike-fixer/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	*rootOptions
	addr string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the check and fix endpoints over HTTP",
		Long: `Start the HTTP API: POST /v1/check, /v1/fix and /v1/validate take a GeoJSON
FeatureCollection as JSON or as a multipart upload. Prometheus metrics are
exposed on /metrics.`,
		Args: cobra.NoArgs,
		RunE: opts.run,
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (default: config server.addr)")
	return cmd
}

func (o *serveOptions) run(cmd *cobra.Command, _ []string) error {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.NewWithWriter(cfg.Log, o.errOut)
	classes, err := cfg.Classes()
	if err != nil {
		return err
	}
	addr := cfg.Server.Addr
	if o.addr != "" {
		addr = o.addr
	}

	collector, err := metrics.NewCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	service, err := server.NewService(server.Settings{
		MinAngle:  cfg.MinAngle,
		Tolerance: cfg.Tolerance,
		Workers:   cfg.Workers,
		Kinds:     classes,
		Precision: cfg.Precision,
	}, collector, logger)
	if err != nil {
		return err
	}

	srv := server.NewHTTPServer(addr, service)
	errc := srv.Start()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case err, ok := <-errc:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info(cmd.Context(), "shutting down")
	return srv.Stop(cmd.Context())
}
