package dedup

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const DefaultRedisTTL = 24 * time.Hour

// Redis shares processed ids between the processes of a group with a TTL.
type Redis struct {
	Client *goredis.Client
	Prefix string
	TTL    time.Duration
}

func NewRedis(client *goredis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "dedup"
	}
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &Redis{Client: client, Prefix: prefix, TTL: ttl}
}

func (r *Redis) key(group, eventID string) string {
	return r.Prefix + ":" + group + ":" + eventID
}

func (r *Redis) Seen(ctx context.Context, group, eventID string) (bool, error) {
	_, err := r.Client.Get(ctx, r.key(group, eventID)).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Redis) Mark(ctx context.Context, group, eventID string) error {
	return r.Client.SetNX(ctx, r.key(group, eventID), time.Now().UTC().Format(time.RFC3339), r.TTL).Err()
}
