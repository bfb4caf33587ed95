// cmd/watchpost/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"watchpost/internal/config"
	"watchpost/internal/database"
	"watchpost/internal/metrics"
	"watchpost/internal/monitoring"
	"watchpost/internal/web"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("watchpost %s\nCommit: %s\nBuilt:  %s\n", web.Version, web.GitCommit, web.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	setupLogging(cfg.Logging)

	logrus.WithFields(logrus.Fields{
		"config_file": *configFile,
		"port":        cfg.Server.Port,
		"workers":     cfg.Server.Workers,
		"interval":    cfg.Monitoring.Interval,
	}).Info("Starting watchpost")

	store, err := database.NewBoltStore(cfg.Database.Path)
	if err != nil {
		logrus.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	collector := metrics.NewCollector(store)

	engine := monitoring.NewEngine(cfg, store, collector)

	server := web.NewServer(cfg, store, engine, collector)
	engine.SetNotify(server.BroadcastProbe)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reconciles the previous session before any probing starts. A
	// corrupted session table aborts startup rather than guessing.
	if err := engine.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start monitoring engine: %v", err)
	}
	if sess := engine.Session(); sess != nil {
		collector.SetSessionStarted(sess.StartedAt)
	}

	go func() {
		if err := server.Start(ctx); err != nil {
			logrus.Fatalf("Web server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logrus.WithField("signal", sig).Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Web server shutdown error")
	}

	// Stops the scheduler, waits for in-flight probes to drain, then
	// closes the session cleanly so the next run sees no gap.
	if err := engine.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Monitoring engine shutdown error")
	}

	logrus.Info("Shutdown complete")
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}
