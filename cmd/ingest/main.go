package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/cardid/cardid/internal/catalogclient"
	"github.com/cardid/cardid/internal/config"
	"github.com/cardid/cardid/internal/ingest"
	"github.com/cardid/cardid/internal/logger"
	"github.com/cardid/cardid/internal/store/postgres"
	"github.com/cardid/cardid/internal/vision/detector"
	"github.com/cardid/cardid/internal/vision/embedder"
)

func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "cardid-ingest",
	})
	logger.SetDefaultLogger(appLogger)

	setCode := flag.String("set", "", "Set code to seed (required)")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if *setCode == "" {
		appLogger.Fatal("-set is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("failed to load config")
	}

	db, err := postgres.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("failed to initialize database")
	}

	det := detector.New(detector.DefaultConfig())

	emb, err := embedder.New(cfg.Model.Path)
	if err != nil {
		appLogger.WithError(err).Fatal("failed to load embedding model")
	}
	defer emb.Close()

	catalogStore := postgres.NewCatalogStore(db)
	catalogClient := catalogclient.New(cfg.Catalog.BaseURL, cfg.Catalog.UserAgent)
	ingestor := ingest.New(catalogClient, catalogStore, det, emb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("received shutdown signal, canceling...")
		cancel()
	}()

	processed, generated, err := ingestor.SeedSet(ctx, *setCode)
	if err != nil {
		appLogger.WithError(err).Fatal("seed_set failed")
	}

	appLogger.WithFields(logger.Fields{
		"set":                  *setCode,
		"cards_processed":      processed,
		"embeddings_generated": generated,
	}).Info("seed completed")
}
