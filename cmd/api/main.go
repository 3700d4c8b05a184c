package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/klixlabs/klix-backend/internal/config"
	"github.com/klixlabs/klix-backend/internal/handler"
	"github.com/klixlabs/klix-backend/internal/notify"
	aiservice "github.com/klixlabs/klix-backend/internal/service/ai"
	authservice "github.com/klixlabs/klix-backend/internal/service/auth"
	chatservice "github.com/klixlabs/klix-backend/internal/service/chat"
	memoryservice "github.com/klixlabs/klix-backend/internal/service/memory"
	"github.com/klixlabs/klix-backend/internal/store"
	"github.com/klixlabs/klix-backend/internal/store/memstore"
	"github.com/klixlabs/klix-backend/internal/store/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "klix",
	})

	if err := godotenv.Load(); err != nil {
		logger.Warn("no .env file loaded, using system environment only")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}

	var st store.Store
	if cfg.Database.InMemory() {
		logger.Info("using in-memory store; data is lost on shutdown")
		st = memstore.New()
	} else {
		sqliteStore, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			logger.Fatal("failed to open database", "path", cfg.Database.Path, "error", err)
		}
		defer sqliteStore.Close()
		st = sqliteStore
	}

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		logger.Fatal("failed to initialize completion provider", "provider", cfg.AI.Provider, "error", err)
	}
	aiSvc, err := aiservice.NewService(ctx, chatModel, logger)
	if err != nil {
		logger.Fatal("failed to initialize AI service", "error", err)
	}
	logger.Info("completion provider ready", "provider", cfg.AI.Provider)

	hub := notify.NewHub()
	authSvc := authservice.NewService(st, logger)
	chatSvc := chatservice.NewService(st, aiSvc, hub, logger)
	memorySvc := memoryservice.NewService(st, logger)

	router := handler.NewRouter(authSvc, chatSvc, memorySvc, logger)

	startServer(ctx, logger, cfg.Server, router)
}

func startServer(ctx context.Context, logger *log.Logger, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("klix backend listening", "addr", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", "error", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
