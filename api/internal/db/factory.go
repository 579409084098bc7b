package db

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/irgordon/whisper/api/internal/config"
	"github.com/irgordon/whisper/api/internal/core/domain"
	"github.com/irgordon/whisper/api/internal/db/memory"
	"github.com/irgordon/whisper/api/internal/db/postgres"
	"github.com/irgordon/whisper/api/internal/db/redis"
	"github.com/irgordon/whisper/api/internal/db/sealed"
	"github.com/irgordon/whisper/api/internal/db/sqlite"
	"github.com/irgordon/whisper/api/internal/infrastructure/crypto"
)

// Open builds the configured SecretStore backend and, when a master key is
// present, wraps it in the at-rest sealing decorator. The returned func
// releases backend resources and is never nil.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.SecretStore, func(), error) {
	store, closeFn, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	if cfg.SealingEnabled() {
		cryptoService, err := crypto.NewAESCryptoService(cfg.MasterKeyHex)
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("at-rest sealing: %w", err)
		}
		store = sealed.New(store, cryptoService)
	}

	logger.Info("🗄️ Secret store ready",
		slog.String("backend", cfg.StoreBackend),
		slog.Bool("sealed", cfg.SealingEnabled()),
	)
	return store, closeFn, nil
}

func openBackend(ctx context.Context, cfg *config.Config) (domain.SecretStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendMemory, "":
		return memory.New(), func() {}, nil

	case config.BackendSQLite:
		repo, err := sqlite.Open(cfg.SQLitePath, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite store: %w", err)
		}
		return repo, func() { repo.Close() }, nil

	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres store: %w", err)
		}
		repo := postgres.NewSecretRepository(pool, nil)
		if err := repo.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres store: %w", err)
		}
		return repo, pool.Close, nil

	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		store := redis.NewSecretStore(client, "", nil)
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("redis store: %w", err)
		}
		return store, func() { store.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store backend: %s", cfg.StoreBackend)
	}
}
