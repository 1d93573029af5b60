package verifier

import (
	"context"
	"time"

	"github.com/openmonetize/receipt-verifier/app/verifier/types"
	"github.com/openmonetize/receipt-verifier/pkg/balances"
	"github.com/openmonetize/receipt-verifier/pkg/logging"
	"github.com/openmonetize/receipt-verifier/pkg/receipts"
	"github.com/openmonetize/receipt-verifier/pkg/redis"
	"github.com/openmonetize/receipt-verifier/pkg/retry"
	"github.com/openmonetize/receipt-verifier/pkg/spsp"
	"github.com/openmonetize/receipt-verifier/pkg/utils"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultReceiptTTL is the validity window granted to a stream's receipts
// when RECEIPT_TTL_SECONDS is not set.
const DefaultReceiptTTL = 300 * time.Second

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	// The store is the system of record; wait out a restart before giving up.
	var store *redis.Client
	connectErr := retry.WithBackoff(ctx, retry.ConnectConfig(), logger, "redis connect", func() error {
		c, err := redis.NewClient(ctx, logger)
		if err != nil {
			return err
		}
		store = c
		return nil
	})
	if connectErr != nil {
		logger.Fatal("Unable to connect to Redis", zap.Error(connectErr))
	}

	window := utils.EnvDuration("RECEIPT_TTL_SECONDS", DefaultReceiptTTL)

	registry := spsp.NewRegistry(store, logger)

	app := &types.App{
		Store:    store,
		Ledger:   balances.NewLedger(store, logger),
		Tracker:  receipts.NewTracker(store, logger),
		Registry: registry,
		Proxy:    spsp.NewProxy(registry, logger),
		Window:   window,
		Logger:   logger,
	}

	if err := setupScheduler(ctx, app); err != nil {
		logger.Fatal("Unable to set up scheduler", zap.Error(err))
	}

	logger.Info("Verifier initialized",
		zap.Duration("receiptValidityWindow", window))

	return app
}

// setupScheduler registers the background jobs: a periodic sweep of the
// SPSP endpoint cache so deletions made by other instances converge, and a
// store heartbeat for operational visibility.
func setupScheduler(ctx context.Context, app *types.App) error {
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	if _, err := c.AddFunc("0 */5 * * * *", func() {
		app.Proxy.SweepCache()
		app.Logger.Debug("SPSP endpoint cache swept")
	}); err != nil {
		return err
	}

	if _, err := c.AddFunc("*/30 * * * * *", func() {
		hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := app.Store.Health(hctx); err != nil {
			app.Logger.Warn("Store heartbeat failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	app.Cron = c
	return nil
}
