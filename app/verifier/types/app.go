package types

import (
	"context"
	"net/http"
	"time"

	"github.com/openmonetize/receipt-verifier/pkg/balances"
	"github.com/openmonetize/receipt-verifier/pkg/receipts"
	"github.com/openmonetize/receipt-verifier/pkg/redis"
	"github.com/openmonetize/receipt-verifier/pkg/spsp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type App struct {
	// Store is the Redis client that holds balances, watermarks, and proxy mappings.
	Store *redis.Client

	// Settlement components.
	Ledger   *balances.Ledger
	Tracker  *receipts.Tracker
	Registry *spsp.Registry
	Proxy    *spsp.Proxy

	// Window is the configured receipt validity window; RemainingTTL is
	// measured against it when receipts are registered.
	Window time.Duration

	// Cron runs the proxy-cache sweep and the store heartbeat.
	Cron *cron.Cron

	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// Start starts the application and blocks until ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	a.Cron.Start()

	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = a.Server.Shutdown(shutdownCtx)

	cronCtx := a.Cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-shutdownCtx.Done():
	}

	if err := a.Store.Close(); err != nil {
		a.Logger.Error("Failed to close store connection", zap.Error(err))
	}

	a.Logger.Info("Shutdown complete")
}
