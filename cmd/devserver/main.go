package main

import (
	"log"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"consult-chat/internal/config"
	"consult-chat/internal/devserver"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	tokens := devserver.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL)
	srv := devserver.NewServer(tokens, logger)

	logger.Info("devserver listening", zap.String("port", cfg.DevServerPort))
	if err := srv.Router().Run(":" + cfg.DevServerPort); err != nil {
		logger.Fatal("devserver stopped", zap.Error(err))
	}
}
