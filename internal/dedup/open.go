package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Options struct {
	Backend        string
	MemoryCapacity int
	RedisAddr      string
	RedisPrefix    string
	RedisTTL       time.Duration
}

// Open builds the guard named by opts.Backend. The returned close func is
// never nil.
func Open(ctx context.Context, opts Options, pool *pgxpool.Pool) (Guard, func(), error) {
	noop := func() {}
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendMemory:
		return NewMemory(opts.MemoryCapacity), noop, nil
	case BackendPostgres:
		if pool == nil {
			return nil, noop, fmt.Errorf("dedup backend %q needs a database pool", BackendPostgres)
		}
		pg := NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, noop, fmt.Errorf("ensure processed_events: %w", err)
		}
		return pg, noop, nil
	case BackendRedis:
		client := goredis.NewClient(&goredis.Options{Addr: opts.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("ping redis %s: %w", opts.RedisAddr, err)
		}
		return NewRedis(client, opts.RedisPrefix, opts.RedisTTL), func() { _ = client.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unknown dedup backend %q", opts.Backend)
	}
}
