package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/application"
	"github.com/salmalm/salmalm/internal/infrastructure/config"
	"github.com/salmalm/salmalm/internal/infrastructure/logger"
	httpiface "github.com/salmalm/salmalm/internal/interfaces/http"
	"github.com/salmalm/salmalm/internal/interfaces/telegram"
	"github.com/salmalm/salmalm/internal/interfaces/websocket"
	"github.com/salmalm/salmalm/pkg/safego"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting salmalm",
		zap.String("version", version),
		zap.String("home", cfg.Home),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.New(cfg, log)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	server := httpiface.NewServer(app, log)
	hub := websocket.NewHub(app, log)
	server.Mount("/ws", hub)

	if cfg.Telegram.Token != "" {
		adapter, err := telegram.NewAdapter(app, log)
		if err != nil {
			log.Error("telegram adapter failed, continuing without it", zap.Error(err))
		} else {
			app.SubAgents.SetNotifier(adapter)
			safego.GoCtx(ctx, log, "telegram", adapter.Run)
		}
	}

	serverErr := make(chan error, 1)
	safego.Go(log, "http-server", func() {
		serverErr <- server.Run(ctx)
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverDown := false
	select {
	case sig := <-quit:
		log.Info("shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErr:
		serverDown = true
		if err != nil {
			log.Error("http server failed", zap.Error(err))
		}
	}

	cancel()
	hub.Shutdown()
	if !serverDown {
		if err := <-serverErr; err != nil {
			log.Error("http drain failed", zap.Error(err))
		}
	}
	app.Shutdown()
	log.Info("stopped")
	return nil
}
