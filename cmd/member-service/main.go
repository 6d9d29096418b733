package main

import (
	"context"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/syncteam/project/internal/app/commandapi"
	"github.com/syncteam/project/internal/app/member"
	"github.com/syncteam/project/internal/consumer"
	"github.com/syncteam/project/internal/dedup"
	"github.com/syncteam/project/internal/messaging"
	"github.com/syncteam/project/internal/platform/auth"
	"github.com/syncteam/project/internal/platform/dbpool"
	"github.com/syncteam/project/internal/platform/httpx"
	"github.com/syncteam/project/internal/platform/logger"
	"github.com/syncteam/project/internal/platform/metrics"
	"github.com/syncteam/project/internal/platform/natsutil"
	"github.com/syncteam/project/internal/producer"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := loadConfig()
	log, err := logger.New(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		stdlog.Fatal(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log.With("service", serviceName)); err != nil {
		log.Fatal("member-service stopped", "error", err)
	}
}

func run(ctx context.Context, cfg config, log *logger.Logger) error {
	pool, err := dbpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	outbox := producer.NewOutbox(pool, serviceName)
	repo := member.NewRepository(pool, outbox)
	if err := dbpool.WaitReady(ctx, pool, cfg.StartupTimeout, log, repo.EnsureSchema); err != nil {
		return fmt.Errorf("postgres not ready: %w", err)
	}

	client, err := natsutil.ConnectJetStreamWithRetry(ctx, cfg.NATSURL, serviceName, cfg.StartupTimeout, log)
	if err != nil {
		return err
	}
	defer client.Close()

	guard, closeGuard, err := dedup.Open(ctx, cfg.Dedup, pool)
	if err != nil {
		return err
	}
	defer closeGuard()

	registry := messaging.NewRegistry(cfg.TopicPartitions)
	publisher := producer.NewJetStreamPublisher(client.JS, registry, metrics.Events)

	relay := producer.NewRelay(outbox, publisher, serviceName, log)
	relay.Interval = cfg.RelayInterval

	members := member.NewService(repo, log)
	commands := commandapi.NewService(publisher, members, log)
	authManager := auth.NewManager(cfg.JWTSecret, time.Hour)

	workers := consumer.NewPool(log)
	workers.DrainTimeout = cfg.DrainTimeout
	deadLetter := consumer.NewJetStreamDeadLetter(client.JS)
	opts := consumer.Options{HandlerTimeout: cfg.HandlerTimeout}
	if err := consumer.Mount(ctx, workers, client.JS, registry, guard, deadLetter, members.Subscriptions(), cfg.OwnedPartitions, opts, log); err != nil {
		return err
	}

	r := chi.NewRouter()
	httpx.Health(r, readiness(client, pool))
	r.Handle("/metrics", metrics.DefaultHandler())
	member.NewHandler(members, authManager, log).Routes(r)
	commandapi.NewHandler(commands, authManager, cfg.AllowedOrigin, log).Routes(r)

	log.Info("member-service starting",
		"addr", cfg.Addr,
		"partitions", cfg.TopicPartitions,
		"owned_partitions", cfg.OwnedPartitions,
		"dedup_backend", cfg.Dedup.Backend,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return workers.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error {
		return httpx.Serve(gctx, httpx.NewServer(cfg.Addr, r), cfg.ShutdownTimeout)
	})
	err = g.Wait()
	// one last pass so rows committed during shutdown are not left waiting
	// for the next start
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	relay.Flush(flushCtx)
	return err
}

func readiness(client *natsutil.Client, pool *pgxpool.Pool) func() error {
	return func() error {
		if err := client.Ready(); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
		return nil
	}
}
