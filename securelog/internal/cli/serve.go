package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/wtyler2505/RoverMissionControl-sub001/common/logging"
	"github.com/wtyler2505/RoverMissionControl-sub001/common/messaging"
	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/service"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the logging service until interrupted",
		Long: `Runs the pipeline workers, storage health checks, notification
workers and SIEM batching. With nats.intake enabled, events are accepted on
the ` + messaging.SubjectEventsIngest + ` subject. Prometheus metrics are
served on metrics.addr when metrics.enabled is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.Build(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	svc.Start(ctx)

	var intake *service.Intake
	if a.cfg.NATS.Intake {
		if svc.Bus == nil {
			a.logger.Warn("nats intake enabled without a nats connection, intake disabled")
		} else {
			intake = service.NewIntake(svc, svc.Bus, a.logger)
			if err := intake.Start(); err != nil {
				a.stopService(svc)
				return err
			}
		}
	}

	var metricsSrv *http.Server
	if a.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              a.cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("metrics listening", "addr", a.cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server error", logging.Error(err))
			}
		}()
	}

	a.logger.Info("securelog serving", "workers", a.cfg.Service.Workers, "intake", intake != nil)
	<-ctx.Done()
	a.logger.Info("shutdown signal received")

	if intake != nil {
		if err := intake.Stop(); err != nil {
			a.logger.Warn("intake unsubscribe failed", logging.Error(err))
		}
	}
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics shutdown failed", logging.Error(err))
		}
		cancel()
	}
	return a.stopService(svc)
}

func (a *app) stopService(svc *service.Service) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
