package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	internalhttp "github.com/EternisAI/radsec-provisioner/internal/api/http"
	"github.com/EternisAI/radsec-provisioner/internal/ledger"
	"github.com/EternisAI/radsec-provisioner/internal/provisioning"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API for starting and inspecting provisioning runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	slog.Info("RadSec Provisioner", "version", AppVersion)

	if config.JWT.Secret == "" {
		slog.Warn("jwt.secret is not set, the runs API will reject every request")
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openLedger(ctx, config)
	if err != nil {
		return err
	}
	defer closeStore()

	if mem, ok := store.(*ledger.MemoryStore); ok {
		go mem.StartCleanup(ctx, config.Ledger.CleanupInterval)
	}

	p, err := newProvisioner(config, store)
	if err != nil {
		return err
	}
	// Runs outlive the request that started them but not the server.
	runner := provisioning.NewBackground(ctx, p)

	services := &internalhttp.Services{
		Runner:    runner,
		Store:     store,
		JWTSecret: config.JWT.Secret,
		Version:   AppVersion,
	}

	allowedOrigins := config.Http.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:  allowedOrigins,
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Http.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	var serveErr error
	select {
	case serveErr = <-errChan:
		slog.Error("Server error", "error", serveErr)
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	}

	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	stop()
	runner.Wait()

	slog.Info("Shutdown complete")
	return serveErr
}
