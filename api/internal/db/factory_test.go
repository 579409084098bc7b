package db_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irgordon/whisper/api/internal/config"
	"github.com/irgordon/whisper/api/internal/core/domain"
	"github.com/irgordon/whisper/api/internal/db"
	"github.com/irgordon/whisper/api/internal/db/memory"
	"github.com/irgordon/whisper/api/internal/db/sealed"
	"github.com/irgordon/whisper/api/internal/db/sqlite"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestOpen_Backends(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		store, closeFn, err := db.Open(ctx, &config.Config{StoreBackend: config.BackendMemory}, quiet)
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &memory.Store{}, store)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := &config.Config{
			StoreBackend: config.BackendSQLite,
			SQLitePath:   filepath.Join(t.TempDir(), "whisper.db"),
		}
		store, closeFn, err := db.Open(ctx, cfg, quiet)
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &sqlite.SecretRepository{}, store)
	})

	t.Run("sealed", func(t *testing.T) {
		cfg := &config.Config{
			StoreBackend: config.BackendMemory,
			MasterKeyHex: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
		}
		store, closeFn, err := db.Open(ctx, cfg, quiet)
		require.NoError(t, err)
		defer closeFn()
		require.IsType(t, &sealed.Store{}, store)

		id, err := store.Put(ctx, domain.NewSecretRecord{Ciphertext: "blob"}, time.Minute)
		require.NoError(t, err)
		rec, err := store.TakeAndDelete(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "blob", rec.Ciphertext)
	})

	t.Run("unknown", func(t *testing.T) {
		_, _, err := db.Open(ctx, &config.Config{StoreBackend: "etcd"}, quiet)
		assert.Error(t, err)
	})
}
