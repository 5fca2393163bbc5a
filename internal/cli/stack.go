package cli

import (
	"context"
	"fmt"
	"time"

	"cic-sync/internal/app"
	"cic-sync/internal/auth"
	"cic-sync/internal/config"
	"cic-sync/internal/infra/gcs"
	"cic-sync/internal/infra/memory"
	"cic-sync/internal/infra/postgres"
	redisstore "cic-sync/internal/infra/redis"
	"cic-sync/internal/infra/retry"
	"cic-sync/internal/infra/sqlite"
	"cic-sync/internal/localstore"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func noopClose() error { return nil }

// openBackend returns the device key/value storage selected by local.driver.
func openBackend(cfg config.Config, log *zap.Logger) (localstore.Backend, func() error, error) {
	switch cfg.Local.Driver {
	case "", "memory":
		log.Warn("using in-memory local storage; data is lost on exit")
		return memory.NewKV(), noopClose, nil
	case "sqlite":
		kv, err := sqlite.Open(cfg.Local.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return kv, kv.Close, nil
	case "redis":
		if cfg.Redis.Addr == "" {
			return nil, nil, fmt.Errorf("redis addr not configured")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ttl := config.Duration(cfg.Redis.TTL, 0)
		return redisstore.NewKV(client, cfg.Local.Namespace, ttl), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown local driver %q", cfg.Local.Driver)
	}
}

// openRemote returns the document store selected by remote.driver, wrapped
// with retries. A nil store means local-only operation.
func openRemote(ctx context.Context, cfg config.Config, tokens *auth.Tokens, log *zap.Logger) (app.DocumentStore, func(), error) {
	var (
		store app.DocumentStore
		done  = func() {}
	)
	switch cfg.Remote.Driver {
	case "", "none":
		return nil, done, nil
	case "memory":
		store = memory.NewDocumentStore()
	case "postgres":
		if cfg.Postgres.URL == "" {
			return nil, nil, fmt.Errorf("postgres url not configured")
		}
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return nil, nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, err
		}
		store, done = postgres.NewDocumentStore(pool, tokens), pool.Close
	case "gcs":
		if cfg.GCS.Bucket == "" {
			return nil, nil, fmt.Errorf("gcs bucket not configured")
		}
		client, err := gcs.NewClient(ctx, cfg.GCS.EmulatorHost, cfg.GCS.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		store = gcs.NewDocumentStore(client, cfg.GCS.Bucket, tokens)
		done = func() { _ = client.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown remote driver %q", cfg.Remote.Driver)
	}

	retries := cfg.Remote.Retries
	if retries <= 0 {
		retries = 3
	}
	return retry.Wrap(store, retry.Options{MaxRetries: uint64(retries), Logger: log}), done, nil
}

const devAuthSecret = "cic-sync-dev-secret"

func tokenIssuer(cfg config.Config) *auth.Tokens {
	secret := cfg.Auth.Secret
	if secret == "" {
		secret = devAuthSecret
	}
	return auth.NewTokens(secret, config.Duration(cfg.Auth.TokenTTL, time.Hour))
}
