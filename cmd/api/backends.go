package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"marketgate.org/internal/config"
	"marketgate.org/internal/identity"
	"marketgate.org/internal/realtime"
	"marketgate.org/internal/store/memory"
	"marketgate.org/internal/store/pg"
)

// backends are the store, feed and publisher selected by configuration.
type backends struct {
	accounts  identity.AccountStore
	bans      identity.BanStore
	feed      identity.Feed
	publisher identity.Publisher

	pg     *pg.Store
	pool   *pgxpool.Pool
	redis  *redis.Client
	cancel context.CancelFunc
}

func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	be := &backends{}
	if cfg.PGDSN != "" {
		store, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		be.pg = store
		be.accounts, be.bans = store, store
	} else {
		mem := memory.New()
		be.accounts, be.bans = mem, mem
	}

	switch cfg.Feed {
	case config.FeedRedis:
		be.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		feed := realtime.NewRedisFeed(be.redis)
		be.feed, be.publisher = feed, feed
	case config.FeedPostgres:
		pool, err := pgxpool.New(ctx, cfg.PGDSN)
		if err != nil {
			be.Close()
			return nil, fmt.Errorf("open listen pool: %w", err)
		}
		be.pool = pool
		feed := realtime.NewPGFeed(pool)
		runCtx, cancel := context.WithCancel(ctx)
		be.cancel = cancel
		go feed.Run(runCtx)
		// The accounts_notify_change trigger publishes; nothing to do in-process.
		be.feed = feed
	default:
		hub := realtime.NewHub()
		be.feed, be.publisher = hub, hub
	}
	return be, nil
}

// Ready pings every networked dependency.
func (b *backends) Ready(ctx context.Context) error {
	var errs []error
	if b.pg != nil {
		if err := b.pg.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if b.redis != nil {
		if err := b.redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if b.pool != nil {
		if err := b.pool.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("listen pool: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (b *backends) Close() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.pool != nil {
		b.pool.Close()
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.pg != nil {
		_ = b.pg.Close()
	}
}
