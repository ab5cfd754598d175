package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/varhub/varhub/internal/config"
	"github.com/varhub/varhub/internal/logging"
	"github.com/varhub/varhub/internal/protocol"
	"github.com/varhub/varhub/internal/registry"
	"github.com/varhub/varhub/internal/server"
	"github.com/varhub/varhub/internal/storage"
)

// runServe starts the coordinator daemon and blocks until a signal.
func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "TOML config file path")
	host := fs.String("host", "", "listen address (overrides config)")
	port := fs.Int("port", 0, "listen port (overrides config)")
	logLevel := fs.String("log-level", "", "log level (overrides config)")
	pretty := fs.Bool("pretty", false, "human-readable console logging")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *pretty {
		cfg.Logging.Pretty = true
	}

	log := logging.New(cfg.Logging.Level, cfg.Logging.Pretty)

	store, err := storage.New(cfg.Storage.Backend, cfg.Storage.Path, cfg.Storage.DSN)
	if err != nil {
		log.Error().Err(err).Msg("storage init failed")
		return 1
	}
	defer store.Close()

	coord := registry.New(registry.Config{
		HistoryCap:    cfg.Registry.HistoryCap,
		LeaseTTL:      cfg.Session.LeaseTTL.Duration(),
		SweepInterval: cfg.Session.SweepInterval.Duration(),
	}, log)
	defer coord.Close()

	if err := restoreSnapshot(coord, store); err != nil {
		log.Error().Err(err).Msg("snapshot restore failed")
		return 1
	}

	saveDone := make(chan struct{})
	go saveLoop(coord, store, cfg.Storage.SaveInterval.Duration(), log, saveDone)
	defer func() {
		close(saveDone)
		if err := saveSnapshot(coord, store); err != nil {
			log.Error().Err(err).Msg("final snapshot save failed")
		}
	}()

	srv := server.New(coord, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Addr())
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
			return 1
		}
		return 0
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
		return 1
	}
	return 0
}

func restoreSnapshot(coord *registry.Coordinator, store storage.Backend) error {
	vars, err := store.LoadAll()
	if err != nil {
		return err
	}
	if len(vars) == 0 {
		return nil
	}
	recs, err := protocol.DecodeRecords(vars)
	if err != nil {
		return err
	}
	return coord.Restore(recs)
}

func saveSnapshot(coord *registry.Coordinator, store storage.Backend) error {
	vars, err := protocol.EncodeRecords(coord.Snapshot())
	if err != nil {
		return err
	}
	return store.ReplaceAll(vars)
}

func saveLoop(coord *registry.Coordinator, store storage.Backend, interval time.Duration, log zerolog.Logger, done chan struct{}) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := saveSnapshot(coord, store); err != nil {
				log.Warn().Err(err).Msg("snapshot save failed")
			}
		}
	}
}
