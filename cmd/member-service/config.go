package main

import (
	"time"

	"github.com/syncteam/project/internal/consumer"
	"github.com/syncteam/project/internal/dedup"
	"github.com/syncteam/project/internal/platform/env"
	"github.com/syncteam/project/internal/sharding"
)

const serviceName = "member-service"

type config struct {
	Addr            string
	AllowedOrigin   string
	DatabaseURL     string
	NATSURL         string
	JWTSecret       string
	LogMode         string
	LogLevel        string
	TopicPartitions int
	OwnedPartitions []int
	HandlerTimeout  time.Duration
	DrainTimeout    time.Duration
	ShutdownTimeout time.Duration
	StartupTimeout  time.Duration
	RelayInterval   time.Duration
	Dedup           dedup.Options
}

func loadConfig() config {
	partitions := env.Int("TOPIC_PARTITIONS", sharding.DefaultPartitions)
	if partitions <= 0 {
		partitions = sharding.DefaultPartitions
	}
	return config{
		Addr:            env.String("MEMBER_ADDR", env.DefaultMemberAddr),
		AllowedOrigin:   env.String("UI_ORIGIN", "*"),
		DatabaseURL:     env.String("DATABASE_URL", env.DefaultDatabaseURL),
		NATSURL:         env.String("NATS_URL", env.DefaultNATSURL),
		JWTSecret:       env.String("JWT_SECRET", "dev-insecure-change-me"),
		LogMode:         env.String("LOG_MODE", "development"),
		LogLevel:        env.String("LOG_LEVEL", "info"),
		TopicPartitions: partitions,
		OwnedPartitions: env.Partitions("OWNED_PARTITIONS", partitions),
		HandlerTimeout:  env.Duration("HANDLER_TIMEOUT", consumer.DefaultHandlerTimeout),
		DrainTimeout:    env.Duration("DRAIN_TIMEOUT", consumer.DefaultDrainTimeout),
		ShutdownTimeout: env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		StartupTimeout:  env.Duration("STARTUP_TIMEOUT", 30*time.Second),
		RelayInterval:   env.Duration("OUTBOX_INTERVAL", 250*time.Millisecond),
		Dedup: dedup.Options{
			Backend:        env.String("DEDUP_BACKEND", dedup.BackendPostgres),
			MemoryCapacity: env.Int("DEDUP_MEMORY_CAPACITY", dedup.DefaultMemoryCapacity),
			RedisAddr:      env.String("REDIS_ADDR", env.DefaultRedisAddr),
			RedisPrefix:    serviceName + ":dedup",
			RedisTTL:       env.Duration("DEDUP_TTL", dedup.DefaultRedisTTL),
		},
	}
}
