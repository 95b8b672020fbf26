package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumenwallet/custody/internal/config"
	"github.com/lumenwallet/custody/internal/core/application"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

//nolint:all
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	log.SetLevel(log.Level(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	log.Debugf("config: %s", cfg)

	executor, err := cfg.Executor()
	if err != nil {
		log.WithError(err).Fatal("failed to start scheduled payment executor")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cfg.StartProbing(ctx)

	scheduler := cfg.SchedulerService()
	if _, err := scheduler.ScheduleTask(
		cfg.SchedulerInterval, true, func() { runBatch(ctx, cfg, executor) },
	); err != nil {
		log.WithError(err).Fatal("failed to schedule payment executor")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		cfg.MetricsRegistry(), promhttp.HandlerOpts{},
	))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.RegisterExitHandler(func() {
		cancel()
		scheduler.Stop()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		// nolint:all
		server.Shutdown(shutdownCtx)
		cfg.Close()
	})

	log.Infof("starting custodyd %s (%s, %s)...", version, commit, date)
	scheduler.Start()
	go func() {
		if err := server.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	log.Infof("serving metrics on port %d", cfg.MetricsPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down service...")
	log.Exit(0)
}

func runBatch(ctx context.Context, cfg *config.Config, executor *application.Executor) {
	if !cfg.Monitor().IsOnline() {
		log.Debug("ledger unreachable, skipping scheduled payments")
		return
	}

	result, err := executor.RunOnce(ctx, time.Now())
	if err != nil {
		log.WithError(err).Warn("scheduled payment batch stopped early")
	}
	if result == nil {
		return
	}

	log.WithFields(log.Fields{
		"processed": result.Processed,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
	}).Info("scheduled payment batch done")
	for _, item := range result.Items {
		if item.Status == application.ItemFailed {
			log.WithField("id", item.PaymentId).Warnf("scheduled payment failed: %s", item.Error)
		}
	}
}
