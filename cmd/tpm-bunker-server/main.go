package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/bunker-labs/tpm-bunker-server/internal/blob"
	"github.com/bunker-labs/tpm-bunker-server/internal/config"
	"github.com/bunker-labs/tpm-bunker-server/internal/server"
	"github.com/bunker-labs/tpm-bunker-server/internal/service"
	boltstore "github.com/bunker-labs/tpm-bunker-server/internal/storage/bolt"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	store, err := boltstore.New(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	var blobs blob.Store
	switch cfg.Blob.Backend {
	case "fs":
		blobs, err = blob.NewFSStore(cfg.Blob.Dir)
		if err != nil {
			log.Fatalf("open blob store: %v", err)
		}
	default:
		blobs = store.Blobs()
	}

	deviceSvc := service.NewDeviceService(store, logger)
	authSvc := service.NewAuthService(store, deviceSvc, cfg.Auth.TokenTTL, logger)
	operationSvc := service.NewOperationService(store, blobs, logger)
	auditSvc := service.NewAuditService(store)
	adminSvc := service.NewAdminService(cfg)

	srv := server.New(cfg, deviceSvc, authSvc, operationSvc, auditSvc, adminSvc, logger)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("server stopped: %v", err)
		}
	}()

	// graceful shutdown
	waitForSignal()
	logger.Info().Msg("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
