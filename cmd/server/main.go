package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/linwei/iface-registry/internal/api"
	"github.com/linwei/iface-registry/internal/calendar"
	"github.com/linwei/iface-registry/internal/config"
	"github.com/linwei/iface-registry/internal/hooks"
	"github.com/linwei/iface-registry/internal/queue"
	"github.com/linwei/iface-registry/internal/service"
	"github.com/linwei/iface-registry/pkg/database"
	"github.com/linwei/iface-registry/pkg/utils"
)

func main() {
	configPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
		MaxSizeMB:  cfg.Logger.MaxSizeMB,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAgeDays: cfg.Logger.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting interface task registry",
		zap.Int("port", cfg.Server.Port))

	if cfg.Database.Path != "" {
		database.SetPath(cfg.Database.Path)
	} else {
		hooks.SetDataFolder(cfg.Database.DataFolder)
	}
	if _, err := database.Acquire(logger); err != nil {
		logger.Fatal("Failed to open registry database", zap.Error(err))
	}
	defer database.Close()

	workdays := calendar.NewWorkdays(cfg.Scan.Holidays)
	svc := service.New(workdays.IsOverdue, logger)

	writeQueue := queue.NewWriteQueue(svc, logger, queue.Options{
		Enabled:       cfg.Queue.Enabled,
		MaxBatchSize:  cfg.Queue.MaxBatchSize,
		BatchInterval: cfg.Queue.BatchInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := writeQueue.Start(ctx); err != nil {
		logger.Fatal("Failed to start write queue", zap.Error(err))
	}

	facade := hooks.New(svc, writeQueue, logger)

	server := api.NewServer(api.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, facade, svc, api.ScanSettings{
		MissingKeepDays:   cfg.Scan.MissingKeepDays,
		ConfirmedKeepDays: cfg.Scan.ConfirmedKeepDays,
	}, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutting down")
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	cancel()
	if err := writeQueue.Flush(30 * time.Second); err != nil {
		logger.Warn("Shutdown with writes still pending", zap.Error(err))
	}
	writeQueue.Stop()

	logger.Info("Server exited")
}
