package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/JSONRemodeler/internal/api"
	"github.com/router-for-me/JSONRemodeler/internal/config"
)

// RunServe starts the HTTP server and blocks until an interrupt arrives
// or the listener fails.
func RunServe(cfg *config.Config, cfgPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger, err := openLedger(cfg, cfgPath)
	if err != nil {
		return err
	}
	var opts []api.ServerOption
	if ledger != nil {
		defer func() { _ = ledger.Close() }()
		opts = append(opts, api.WithLedger(ledger))
	}

	srv := api.NewServer(cfg, cfgPath, opts...)
	if cfgPath != "" {
		if errWatch := srv.WatchConfig(); errWatch != nil {
			log.Warnf("config watch unavailable: %v", errWatch)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Printf("%s✓ Listening on :%d%s\n", colorGreen, cfg.Server.GetPort(), colorReset)

	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = srv.Stop(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
