package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/logger"
	"github.com/lorekeep/lorekeep/internal/server"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal("failed to load configuration", "path", cfgPath, "error", err)
	}

	srv, err := server.NewServer(log, cfg)
	if err != nil {
		log.Fatal("failed to initialize server", "error", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	r := srv.SetupRouter()
	log.Info("starting server", "port", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal("server exited", "error", err)
	}
}
