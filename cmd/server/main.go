package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"github.com/agenthands/esgrecon/internal/config"
	"github.com/agenthands/esgrecon/internal/logging"
	"github.com/agenthands/esgrecon/internal/server"
)

func main() {
	log := logging.Default()
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, using defaults")
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Warn().Err(err).Msg("Config not loaded, using defaults")
		cfg = config.Default()
	}
	config.ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := logging.WithLogger(context.Background(), log)
	srv, cleanup, err := server.Bootstrap(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start reconciler")
	}
	defer cleanup()

	r := srv.SetupRouter()
	log.Info().Str("port", cfg.Server.Port).Msg("Starting server")
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.Error().Err(err).Msg("Server stopped")
	}
}
