package main

import (
	"net/http"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"cropsense/internal/api"
	"cropsense/internal/config"
)

func main() {
	_ = godotenv.Load(".env")
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	srv, err := api.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer srv.Close()

	logger.Info("cropsense api listening",
		zap.String("addr", cfg.APIAddr),
		zap.String("embed_provider", cfg.EmbedProvider),
		zap.String("generation_provider", cfg.GenerationProvider))
	if err := http.ListenAndServe(cfg.APIAddr, srv.Routes()); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
