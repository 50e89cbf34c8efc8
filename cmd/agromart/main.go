// Package main запускает HTTP-шлюз агромаркета.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/agromart-gateway/internal/backend"
	"github.com/mmeshcher/agromart-gateway/internal/cart"
	"github.com/mmeshcher/agromart-gateway/internal/checkout"
	"github.com/mmeshcher/agromart-gateway/internal/config"
	"github.com/mmeshcher/agromart-gateway/internal/handler"
	"github.com/mmeshcher/agromart-gateway/internal/middleware"
	"github.com/mmeshcher/agromart-gateway/internal/poller"
	"github.com/mmeshcher/agromart-gateway/internal/repository"
	"github.com/mmeshcher/agromart-gateway/internal/session"
	"github.com/mmeshcher/agromart-gateway/internal/toast"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	if cfg.BackendAddress == "" {
		sugar.Fatalw("backend address is required")
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	secret := cfg.AuthSecret
	if secret == "" {
		secret = "agromart-secret"
	}

	client := backend.NewClient(cfg.BackendAddress)

	sessions := session.NewManager(repo)
	carts := cart.NewStore(repo)
	toasts := toast.NewHub(cfg.ToastTTL)
	defer toasts.Close()

	requestsPoller := poller.New(client, cfg.PollInterval, logger)
	sequencer := checkout.NewSequencer(carts, client, toasts, requestsPoller, logger)

	authMiddleware := middleware.NewAuthMiddleware(secret)
	guard := middleware.NewGuard(authMiddleware, sessions)

	h := handler.NewHandler(client, sessions, carts, sequencer, toasts, requestsPoller, authMiddleware, guard, logger)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: h.SetupRouter(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновый опрос списков заявок активных дилеров
	g.Go(func() error {
		requestsPoller.Run(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting agromart gateway", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
