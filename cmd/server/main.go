package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/Lokesh-T-2506/AutoGrader/internal/config"
	httpserver "github.com/Lokesh-T-2506/AutoGrader/internal/http"
)

func main() {
	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	srv, err := httpserver.NewServer(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create server")
	}

	if err := srv.Run(); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
}
