package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sisvent/wabridge/internal/app"
	"github.com/sisvent/wabridge/internal/config"
	"github.com/sisvent/wabridge/internal/server"
	"github.com/sisvent/wabridge/internal/session"
	"github.com/sisvent/wabridge/internal/wa"
	"github.com/sisvent/wabridge/pkg/logger"
)

func main() {
	cfg := config.NewConfig()

	appLogger, err := logger.SetupLogging(cfg.LogDir)
	if err != nil {
		appLogger = logger.SetupFallbackLogger()
	}
	defer logger.CloseLogger()

	if err := cfg.EnsureDataDir(); err != nil {
		appLogger.Fatalf("Failed to create data directory %s: %v", cfg.DataDir, err)
	}

	application := app.NewApp(appLogger)

	builder := wa.NewBuilder(wa.Config{
		DataDir: cfg.DataDir,
		Verbose: cfg.VerboseEvents,
	}, appLogger)

	registry := session.NewRegistry()
	logs := session.NewLogStore(cfg.LogBufferCap)
	manager := session.NewManager(registry, builder, logs, appLogger, session.Config{
		InitTimeout:  cfg.InitTimeout,
		ReconnectMin: cfg.ReconnectDelay,
		ReconnectMax: cfg.ReconnectMax,
	})

	srv := server.NewServer(application, cfg, manager)
	srv.SetupRoutes()

	if err := srv.Start(); err != nil {
		appLogger.Fatalf("Failed to start server: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
