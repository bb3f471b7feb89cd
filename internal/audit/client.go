package audit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// client wraps the Redis client used by Sink and logs the outcome of a
// connectivity ping made when it is constructed.
type client struct {
	*redis.Client
	log *zap.Logger
}

func newClient(addr string, log *zap.Logger) *client {
	opts := &redis.Options{
		Addr:         addr,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 1,
		MaxRetries:   3,
	}

	c := &client{
		Client: redis.NewClient(opts),
		log:    log.Named("redis"),
	}
	c.ping()
	return c
}

func (c *client) ping() {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := c.Client.Ping(ctx).Err()
	elapsed := time.Since(start)

	if err != nil {
		c.log.Warn("connection failed", zap.String("addr", c.Options().Addr), zap.Error(err), zap.Duration("ping_rtt", elapsed))
	} else {
		c.log.Info("connection established", zap.String("addr", c.Options().Addr), zap.Duration("ping_rtt", elapsed))
	}
}
