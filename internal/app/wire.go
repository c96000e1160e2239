package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/quantrove/mmbot/internal/blob/s3"
	"github.com/quantrove/mmbot/internal/cache/redis"
	"github.com/quantrove/mmbot/internal/config"
	"github.com/quantrove/mmbot/internal/domain"
	"github.com/quantrove/mmbot/internal/store/postgres"
)

// Dependencies bundles the infrastructure dependencies the application
// modes need. Fields stay nil when the mode does not require them. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	FillStore domain.FillStore
	BookStore *postgres.BookStore

	// Caches
	BookCache domain.BookCache
	SignalBus domain.SignalBus
	Locks     *redis.LockManager

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver
}

// needsPostgres reports whether the configured mode requires a database
// connection.
func needsPostgres(cfg *config.Config) bool {
	switch strings.ToLower(cfg.Mode) {
	case "live", "record", "archive":
		return true
	case "backtest":
		return cfg.Backtest.Source == "store" || cfg.Backtest.PersistFills
	default:
		return false
	}
}

// needsRedis reports whether the configured mode requires Redis.
func needsRedis(cfg *config.Config) bool {
	switch strings.ToLower(cfg.Mode) {
	case "live", "record", "archive":
		return true
	default:
		return false
	}
}

// needsS3 reports whether the configured mode requires object storage.
func needsS3(cfg *config.Config) bool {
	if strings.ToLower(cfg.Mode) == "archive" {
		return true
	}
	return cfg.Archive.Enabled
}

// Wire constructs the concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	if needsPostgres(cfg) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.FillStore = postgres.NewFillStore(pool)
		deps.BookStore = postgres.NewBookStore(pool)
	}

	// --- Redis ---
	if needsRedis(cfg) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.BookCache = redis.NewBookCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
	}

	// --- S3 blob storage ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)

		// The archiver moves snapshot rows to object storage, so it needs
		// both stores. Locks may be nil; the sweep then runs unguarded.
		if deps.BookStore != nil {
			var locker s3blob.Locker
			if deps.Locks != nil {
				locker = deps.Locks
			}
			deps.Archiver = s3blob.NewBookArchiver(deps.BlobWriter, deps.BookStore, locker, logger)
		}
	}

	return deps, cleanup, nil
}
