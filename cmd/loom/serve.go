package main

import (
	"context"

	"loom/internal/config"
	"loom/internal/metrics"
	"loom/internal/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
)

type serveOptions struct {
	configPath  string
	logfile     string
	verbose     int
	metricsAddr string
}

func newServeCommand() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the language server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "TOML configuration file")
	cmd.Flags().StringVar(&opts.logfile, "logfile", "", "write logs to this file instead of stderr")
	cmd.Flags().CountVarP(&opts.verbose, "verbose", "v", "increase log verbosity (repeatable)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	// glsp logs through commonlog as well.
	if opts.logfile != "" {
		commonlog.Configure(1+opts.verbose, &opts.logfile)
	} else {
		commonlog.Configure(1+opts.verbose, nil)
	}

	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(opts.configPath); err != nil {
			return err
		}
	}

	m := metrics.New()
	if opts.metricsAddr != "" {
		registry := prometheus.NewRegistry()
		m.MustRegister(registry)
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(ctx, opts.metricsAddr, registry); err != nil {
				log.Error("metrics server", "error", err.Error())
			}
		}()
	}

	lsp, _ := server.New(server.Options{
		Config:  cfg,
		Metrics: m,
		Debug:   opts.verbose > 1,
	})
	log.Info("starting", "version", server.Version)
	return lsp.RunStdio()
}
