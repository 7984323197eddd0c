// cmd/ledger drains claim activity records from the redis queue the server
// publishes to and persists them to the postgres order_claims table.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/jason-s-yu/courier/internal/cache"
	"github.com/jason-s-yu/courier/internal/config"
	"github.com/jason-s-yu/courier/internal/database"
	"github.com/jason-s-yu/courier/internal/ledger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "courier-ledger: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadLedger()
	if err != nil {
		return err
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer rdb.Close()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	svc := ledger.NewService(
		cache.NewClaimQueue(rdb, cfg.ActivityQueue, cfg.PopWait),
		database.NewClaimWriter(pool),
		ledger.Settings{BatchSize: cfg.BatchSize, FlushDelay: cfg.FlushDelay},
		logger.WithField("queue", cfg.ActivityQueue),
	)
	svc.Run(ctx)
	return nil
}
