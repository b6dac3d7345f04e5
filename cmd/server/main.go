package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/plant-disease-api/internal/advisory"
	"github.com/Brownie44l1/plant-disease-api/internal/app"
	"github.com/Brownie44l1/plant-disease-api/internal/config"
	"github.com/Brownie44l1/plant-disease-api/internal/handlers"
	"github.com/Brownie44l1/plant-disease-api/internal/labels"
	"github.com/Brownie44l1/plant-disease-api/internal/logger"
	"github.com/Brownie44l1/plant-disease-api/internal/metrics"
	"github.com/Brownie44l1/plant-disease-api/internal/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogPretty); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize logger")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	table, err := labels.Load(cfg.LabelsPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.LabelsPath).Msg("failed to load class labels")
	}

	predictor, closeModel, err := app.LoadPredictor(cfg, table)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.ModelPath).Msg("failed to load model")
	}
	defer closeModel()

	ctx := context.Background()
	generator, closeGenerator, err := app.NewGenerator(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create advisory client")
	}
	defer closeGenerator()
	advisor := advisory.NewAdvisor(generator, cfg.AdvisoryTimeout)

	store := session.NewStore(cfg.SessionCacheBytes, cfg.SessionTTL)
	metrics.Register(func() float64 { return float64(store.EntryCount()) })

	if !logger.IsDebug(cfg.LogLevel) {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := handlers.NewHandler(predictor, advisor, store, cfg.MaxUploadBytes)
	router := handlers.NewRouter(handler, cfg.CORSAllowedOrigin)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("port", cfg.Port).
			Int("classes", table.Len()).
			Str("advisor", advisor.GeneratorName()).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited")
}
