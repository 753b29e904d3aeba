package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hummel22/bambuQueue/internal/api"
	"github.com/hummel22/bambuQueue/internal/config"
	"github.com/hummel22/bambuQueue/internal/coordinator"
	"github.com/hummel22/bambuQueue/internal/db"
	"github.com/hummel22/bambuQueue/internal/importer"
	"github.com/hummel22/bambuQueue/internal/logging"
	"github.com/hummel22/bambuQueue/internal/transport"
	"github.com/hummel22/bambuQueue/internal/watcher"
	"github.com/hummel22/bambuQueue/internal/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(cfg.Logging)
	log := logging.Component("main")

	if err := cfg.EnsureDirectories(); err != nil {
		log.WithError(err).Fatal("failed to prepare data directories")
	}

	store, err := db.Open(cfg.Paths.DataDir)
	if err != nil {
		log.WithError(err).Fatal("failed to open job store")
	}
	defer store.Close()
	log.WithField("path", store.Path()).Info("job store ready")

	events := webhook.NewSender(cfg.Webhooks, webhook.SenderConfig{})
	events.Start()

	fileImporter := importer.New(cfg.Paths, store, events)
	importWatcher := watcher.New(cfg.Paths.ImportDir, cfg.Import.ScanInterval, fileImporter)
	if err := importWatcher.Start(); err != nil {
		log.WithError(err).Fatal("failed to start import watcher")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	printerCoordinator := coordinator.New(cfg, store, transport.NewFTPSClient(),
		func() coordinator.Messenger { return transport.NewMQTTClient() }, events)
	if err := printerCoordinator.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start printer coordinator")
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(cfg, store, importWatcher),
	}
	go func() {
		log.WithField("addr", httpServer.Addr).Info("api listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("api server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)

	importWatcher.Stop()
	printerCoordinator.Stop()
	events.Stop()
}
