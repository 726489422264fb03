package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcoot/pvg/internal/api"
	"github.com/mcoot/pvg/internal/config"
	"github.com/mcoot/pvg/internal/factory"
)

func main() {
	// Set up logging with JSON output
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := config.LoadEnv(); err != nil {
		logger.Error("failed to load .env", slog.String("error", err.Error()))
		os.Exit(1)
	}

	serverConfig, err := api.ServerConfigFromEnv()
	if err != nil {
		logger.Error("invalid server configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	// Create application factory
	app := factory.New(factory.Config{Logger: logger})
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("close error", slog.String("error", err.Error()))
		}
	}()

	// An unconfigured or unreachable backend is reported through the API,
	// where it can be fixed with PUT /api/v1/config or a join link
	if err := app.Connect(ctx); err != nil {
		logger.Warn("could not connect to backend", slog.String("error", err.Error()))
	} else if code, err := app.Resume(ctx); err == nil {
		logger.Info("resumed session", slog.String("room", string(code)))
	}
	app.StartBroadcasting(ctx)

	router := api.NewRouter(api.RouterConfig{
		Logger:     logger,
		Dispatcher: app.Dispatcher,
		Sessions:   app.Sessions,
		Settings:   app.Settings,
		Configurer: app,
		HubManager: app.HubManager,
		Token:      serverConfig.Token,
	})

	// Create server
	server := api.NewServer(router, serverConfig, logger)
	server.OnShutdown(app.HubManager.Close)

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("server started", slog.String("addr", server.Addr()))

	// Wait for shutdown or error
	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	case <-ctx.Done():
		if err := server.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	logger.Info("server stopped")
}
