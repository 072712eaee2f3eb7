// Package main runs the raffle engine daemon: it wires storage, the
// ticket ledger, the draw engine and the orchestrator together, starts
// the draw scheduler and serves operational metrics.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/raffleworks/raffle-engine/internal/app/events"
	"github.com/raffleworks/raffle-engine/internal/app/metrics"
	"github.com/raffleworks/raffle-engine/internal/app/services/draw"
	ledgersvc "github.com/raffleworks/raffle-engine/internal/app/services/ledger"
	"github.com/raffleworks/raffle-engine/internal/app/services/orchestrator"
	"github.com/raffleworks/raffle-engine/internal/app/storage"
	"github.com/raffleworks/raffle-engine/internal/app/storage/memory"
	"github.com/raffleworks/raffle-engine/internal/app/storage/postgres"
	"github.com/raffleworks/raffle-engine/internal/config"
	"github.com/raffleworks/raffle-engine/internal/platform/migrations"
	"github.com/raffleworks/raffle-engine/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/raffle.yaml", "Path to configuration file")
	flag.Parse()

	cfg := config.LoadOrDefault(*configPath)

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log := logger.New("raffled", level, os.Stderr)

	log.WithField("driver", cfg.Storage.Driver).
		WithField("draw_cycle", cfg.Scheduler.DrawCycleSpec).
		Info("starting raffle engine")

	store, cleanup, err := openStore(cfg, log)
	if err != nil {
		log.WithError(err).Error("open storage")
		os.Exit(1)
	}
	defer cleanup()

	bus := events.NewMemoryBus(1000)
	bus.Subscribe(func(e events.Event) {
		log.WithField("event", string(e.Type)).
			WithField("raffle_id", e.RaffleID).
			WithField("event_id", e.ID).
			Debug("event published")
	})

	ledgerSvc := ledgersvc.New(store, bus, logger.New("ledger", level, os.Stderr))
	engine := draw.New(draw.Policy{OneWinPerUser: cfg.Draw.OneWinPerUser}, logger.New("draw", level, os.Stderr))
	orch := orchestrator.New(store, ledgerSvc, engine, bus, nil, logger.New("orchestrator", level, os.Stderr))

	scheduler, err := orchestrator.NewScheduler(orch, cfg.Scheduler.DrawCycleSpec, logger.New("scheduler", level, os.Stderr))
	if err != nil {
		log.WithError(err).Error("configure scheduler")
		os.Exit(1)
	}
	scheduler.Start()

	metricsServer := &http.Server{
		Addr:         cfg.Server.MetricsAddr,
		Handler:      metrics.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("addr", cfg.Server.MetricsAddr).Info("metrics listener started")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("metrics listener failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("scheduler stop")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("metrics listener shutdown")
	}

	log.Info("raffle engine stopped")
}

func openStore(cfg config.Config, log *logger.Logger) (storage.Store, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		store, err := postgres.Open(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.Apply(store.DB()); err != nil {
			store.Close()
			return nil, nil, err
		}
		log.Info("database schema up to date")
		return store, func() { store.Close() }, nil
	default:
		return memory.New(), func() {}, nil
	}
}
