package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// Options selects the Redis server shared by the analytics cache, the backfill locks and
// the job queue.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis and fails fast when the server does not answer a ping.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

// NewLocker returns the lock client used to serialise backfills per scope.
func NewLocker(client *redis.Client) *redislock.Client {
	return redislock.New(client)
}
