package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/comigor/genieq/internal/httpapi"
	"github.com/comigor/genieq/internal/logger"
)

var drainTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer cancel()

		log := logger.L
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a, err := newApp(cfg, reg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		// The queue outlives the signal so Shutdown can drain it.
		if err := a.manager.Start(context.WithoutCancel(ctx)); err != nil {
			return err
		}

		srv := httpapi.New(a.manager, a.metrics.Handler(), log)
		serveErr := srv.ListenAndServe(ctx, cfg.Server.Addr(), drainTimeout)

		drainCtx, stop := context.WithTimeout(context.Background(), drainTimeout)
		defer stop()
		log.Info("draining request queue", "timeout", drainTimeout.String())
		return errors.Join(serveErr, a.manager.Shutdown(drainCtx))
	},
}

func init() {
	serveCmd.Flags().DurationVar(&drainTimeout, "drain-timeout", 30*time.Second, "how long to wait for queued questions on shutdown")
	rootCmd.AddCommand(serveCmd)
}
