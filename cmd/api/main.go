package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/markdave123-py/Cardify/internal/app"
	"github.com/markdave123-py/Cardify/internal/config"
	"github.com/markdave123-py/Cardify/internal/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync()

	application, err := app.NewApp(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("startup failed", "error", err)
	}
	defer application.Close()

	lg.Info("Cardify is running", "port", cfg.Port, "workers", cfg.Workers, "queue", cfg.QueueBackend)
	if err := application.Run(ctx); err != nil {
		lg.Error("server stopped", "error", err)
	}
	lg.Info("shut down")
}
