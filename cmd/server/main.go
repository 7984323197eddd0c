// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/jason-s-yu/courier/internal/auth"
	"github.com/jason-s-yu/courier/internal/cache"
	"github.com/jason-s-yu/courier/internal/config"
	"github.com/jason-s-yu/courier/internal/handlers"
	"github.com/jason-s-yu/courier/internal/lobby"
	"github.com/jason-s-yu/courier/internal/notify"
	"github.com/jason-s-yu/courier/internal/scheduler"
	"github.com/jason-s-yu/courier/internal/session"
	"github.com/jason-s-yu/courier/internal/storage"
	"github.com/jason-s-yu/courier/internal/workers"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "courier: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	expiry, _ := cfg.TokenExpiry()
	if err := auth.Init(expiry); err != nil {
		return err
	}

	store, closer, err := storage.Open(ctx, cfg, false, logger)
	if err != nil {
		return err
	}
	defer closer.Close()

	pool := workers.NewPool(cfg.WorkerCount, cfg.QueueSize, logger)
	// outlives ctx so in-flight commands finish during shutdown
	pool.Start(context.Background())
	sched := scheduler.New(pool, logger)
	hub := notify.NewHub(32, logger)
	fanout := notify.NewFanout(hub, cfg.NotifyTimeout, logger)
	defer func() {
		sched.Stop()
		pool.Stop()
		fanout.Wait()
	}()

	reg := lobby.NewRegistry(store, lobby.Settings{
		SessionDuration: cfg.SessionDuration,
		StoreTimeout:    cfg.StoreTimeout,
	}, logger)
	reg.Restore(ctx)

	settings := session.DefaultSettings()
	settings.DefaultCapacity = cfg.DefaultCapacity
	settings.MaxCapacity = cfg.MaxCapacity
	settings.OpenRoomsLimit = cfg.OpenRoomsLimit
	settings.ReminderDelay = cfg.ReminderDelay
	settings.StatsDelay = cfg.StatsInterval
	settings.SweepFirstDelay = cfg.SweepFirstDelay
	settings.SweepInterval = cfg.SweepInterval

	var opts []session.Option
	if cfg.ActivityQueue != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		opts = append(opts, session.WithActivityRecorder(cache.NewActivityPublisher(rdb, cfg.ActivityQueue)))
		logger.Infof("publishing claim activity to %q", cfg.ActivityQueue)
	}
	mgr := session.NewManager(reg, sched, fanout, settings, logger, opts...)
	mgr.Start()

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     handlers.NewServer(mgr, pool, hub, cfg.SessionIssuerSecret, logger).Routes(),
		ReadTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Infof("Running on %s (store=%s)", server.Addr, cfg.StoreBackend)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server exited: %w", err)
		}
	case <-ctx.Done():
		logger.Info("terminating")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
