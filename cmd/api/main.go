package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cardid/cardid/internal/api"
	"github.com/cardid/cardid/internal/catalogclient"
	"github.com/cardid/cardid/internal/config"
	"github.com/cardid/cardid/internal/fuse"
	"github.com/cardid/cardid/internal/ingest"
	"github.com/cardid/cardid/internal/logger"
	"github.com/cardid/cardid/internal/pipeline"
	"github.com/cardid/cardid/internal/reconcile"
	"github.com/cardid/cardid/internal/store/postgres"
	"github.com/cardid/cardid/internal/vision/detector"
	"github.com/cardid/cardid/internal/vision/embedder"
	"github.com/cardid/cardid/internal/vision/ocr"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.NewFromEnv(logger.LoadFromEnv())
	logger.SetDefaultLogger(appLogger)

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

	titleReader := ocr.New(cfg.OCR.DataPath)
	defer titleReader.Close()

	catalogStore := postgres.NewCatalogStore(db)
	fuser := fuse.New(fuse.ThresholdsFromConfig(cfg.Fuser))

	pl := pipeline.New(det, emb, titleReader, catalogStore, fuser, cfg.Pipeline.OCRInjectThreshold)

	catalogClient := catalogclient.New(cfg.Catalog.BaseURL, cfg.Catalog.UserAgent)
	ingestor := ingest.New(catalogClient, catalogStore, det, emb)

	reconciler := reconcile.New(catalogClient, catalogStore, ingestor, cfg.Reconciler)
	ctx, cancelReconciler := context.WithCancel(context.Background())
	go reconciler.Run(ctx)

	router := api.SetupRouter(pl, ingestor, cfg)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down server...")
	cancelReconciler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("server forced to shutdown")
	}

	appLogger.Info("server exited")
}
