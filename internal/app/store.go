package app

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/xenking/storefront-pay/internal/bkash"
	"github.com/xenking/storefront-pay/internal/checkout"
	"github.com/xenking/storefront-pay/internal/storage/mongodb"
	"github.com/xenking/storefront-pay/internal/storage/postgres"
	"github.com/xenking/storefront-pay/internal/storage/redislock"
	"github.com/xenking/storefront-pay/pkg/health"
)

// Backend is the opened storage backend.
type Backend struct {
	checkout.Store

	Tokens bkash.TokenStore
	Ping   health.CheckFunc
	close  func(ctx context.Context)
}

// Close releases the backend connections.
func (b *Backend) Close(ctx context.Context) {
	b.close(ctx)
}

// OpenStore connects to the configured backend and prepares its schema:
// migrations on PostgreSQL, indexes on MongoDB.
func OpenStore(ctx context.Context, cfg *Config) (*Backend, error) {
	lg := zctx.From(ctx)

	switch cfg.Store {
	case StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		store := postgres.NewStore(pool)
		lg.Info("Using PostgreSQL store")
		return &Backend{
			Store:  store,
			Tokens: store.Tokens(),
			Ping:   health.PingCheck(pool),
			close:  func(context.Context) { pool.Close() },
		}, nil

	case StoreMongo:
		store, err := mongodb.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, errors.Wrap(err, "connect mongo")
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = store.Close(ctx)
			return nil, errors.Wrap(err, "ensure indexes")
		}
		lg.Info("Using MongoDB store", zap.String("database", cfg.Mongo.Database))
		return &Backend{
			Store:  store,
			Tokens: store.Tokens(),
			Ping:   health.PingCheck(store),
			close: func(ctx context.Context) {
				if err := store.Close(ctx); err != nil {
					lg.Warn("Close mongo", zap.Error(err))
				}
			},
		}, nil

	default:
		return nil, errors.Errorf("unknown store %q", cfg.Store)
	}
}

// Locks is the per-reference lock shared by callbacks and the sweeper.
type Locks struct {
	checkout.Locker

	// Ping is nil for the in-process locker.
	Ping  health.CheckFunc
	close func() error
}

// Close releases the Redis client, if any.
func (l *Locks) Close() error {
	if l.close == nil {
		return nil
	}
	return l.close()
}

// OpenLocks returns a Redis locker when Redis is configured and an
// in-process one otherwise. Only the Redis locker excludes other processes,
// so multi-instance deployments and payctl need it.
func OpenLocks(ctx context.Context, cfg *Config) *Locks {
	if cfg.Redis.Addr == "" {
		return &Locks{Locker: checkout.NewMemoryLocker()}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	rl := redislock.New(rdb, cfg.Redis.Prefix)
	zctx.From(ctx).Info("Using Redis callback lock", zap.String("addr", cfg.Redis.Addr))
	return &Locks{
		Locker: rl,
		Ping:   health.PingCheck(rl),
		close:  rdb.Close,
	}
}
