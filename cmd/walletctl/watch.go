package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var watchCommand = cli.Command{
	Name:   "watch",
	Usage:  "Submit queued payments whenever the ledger is reachable, until the session expires (CUSTODY_SESSION_TTL)",
	Action: watchAction,
	Flags:  []cli.Flag{&passwordFlag},
}

func watchAction(ctx *cli.Context) error {
	if err := unlock(ctx); err != nil {
		return err
	}

	probeCtx, cancel := context.WithCancel(ctx.Context)
	defer cancel()
	cfg.StartProbing(probeCtx)

	scheduler := cfg.SchedulerService()
	engine := cfg.SyncEngine()
	if err := engine.Start(); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.Monitor().IsOnline() {
		if err := engine.Drain(ctx.Context); err != nil {
			log.WithError(err).Warn("initial drain stopped early")
		}
	}

	log.Info("watching the offline queue, press ctrl+c to stop")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	// app.After closes the config, which stops the engine and clears the
	// session.
	for {
		select {
		case <-sigChan:
			log.Info("shutting down...")
			return nil
		case <-ticker.C:
			if cfg.Wallet().IsLocked() {
				return fmt.Errorf("session expired, unlock the wallet again")
			}
		}
	}
}
