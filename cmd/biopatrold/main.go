package main

import (
	"context"
	"log"

	"biopatrol/internal/runtime"
	"biopatrol/internal/taskapi"
	"biopatrol/pkg/config"
	"biopatrol/pkg/logger"
	"biopatrol/pkg/metrics"
	"biopatrol/pkg/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	metrics.InitMetrics(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to build runtime", "error", err)
	}
	defer rt.Close()

	rt.Start(ctx)

	srv := server.New(cfg)
	taskapi.Register(srv.GetEngine(), taskapi.NewService(rt.Dispatcher))

	logger.Info("Starting bio patrol service",
		"port", cfg.GRPC.Port,
		"robots", len(cfg.Robots.Fleet),
		"environment", cfg.App.Environment,
		"version", cfg.App.Version,
	)

	if err := srv.Run(); err != nil {
		logger.Fatal("server failed", "error", err)
	}
}
