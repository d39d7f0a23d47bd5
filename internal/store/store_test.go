package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var createdAt = time.Unix(1_700_000_000, 0).UTC()

func record(ns, value string) Record {
	return Record{
		Namespace: ns,
		Value:     []byte(value),
		CreatedAt: createdAt,
		TTL:       5 * time.Minute,
		Version:   "1.0",
	}
}

// runStoreContract exercises the behaviour every Store must share.
func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("load missing", func(t *testing.T) {
		_, found, err := s.Load(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("save load roundtrip", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, "users:u1::0", record("users", `{"name":"Ann"}`)))

		got, found, err := s.Load(ctx, "users:u1::0")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "users", got.Namespace)
		assert.JSONEq(t, `{"name":"Ann"}`, string(got.Value))
		assert.True(t, createdAt.Equal(got.CreatedAt), "created_at %s", got.CreatedAt)
		assert.Equal(t, 5*time.Minute, got.TTL)
		assert.Equal(t, "1.0", got.Version)
	})

	t.Run("save overwrites", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, "users:u2::0", record("users", `1`)))
		rec := record("users", `2`)
		rec.Version = "2.0"
		require.NoError(t, s.Save(ctx, "users:u2::0", rec))

		got, found, err := s.Load(ctx, "users:u2::0")
		require.NoError(t, err)
		require.True(t, found)
		assert.JSONEq(t, `2`, string(got.Value))
		assert.Equal(t, "2.0", got.Version)
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, "users:u3::0", record("users", `true`)))
		require.NoError(t, s.Remove(ctx, "users:u3::0"))
		require.NoError(t, s.Remove(ctx, "users:u3::0"), "removing an absent key is not an error")

		_, found, err := s.Load(ctx, "users:u3::0")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("remove namespace keeps others", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, "a:k1::0", record("a", `1`)))
		require.NoError(t, s.Save(ctx, "a:k2::0", record("a", `2`)))
		require.NoError(t, s.Save(ctx, "b:k1::0", record("b", `3`)))

		require.NoError(t, s.RemoveNamespace(ctx, "a"))

		for _, key := range []string{"a:k1::0", "a:k2::0"} {
			_, found, err := s.Load(ctx, key)
			require.NoError(t, err)
			assert.False(t, found, key)
		}
		_, found, err := s.Load(ctx, "b:k1::0")
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("clear", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, "c:k::0", record("c", `null`)))
		require.NoError(t, s.Clear(ctx))

		for _, key := range []string{"c:k::0", "b:k1::0", "users:u1::0"} {
			_, found, err := s.Load(ctx, key)
			require.NoError(t, err)
			assert.False(t, found, key)
		}
	})
}

func TestRistrettoStore(t *testing.T) {
	s, err := NewRistretto(1)
	require.NoError(t, err)
	defer s.Close()

	runStoreContract(t, s)
}

func TestFileStore(t *testing.T) {
	s, err := NewFile(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	runStoreContract(t, s)
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer s.Close()

	runStoreContract(t, s)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping integration test")
	}
	s, err := OpenPostgres(context.Background(), dsn)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Clear(context.Background()))

	runStoreContract(t, s)
}

var (
	_ Purger = (*FileStore)(nil)
	_ Purger = (*SQLiteStore)(nil)
	_ Purger = (*PostgresStore)(nil)
)

func TestPurge(t *testing.T) {
	ctx := context.Background()
	purgers := map[string]func(t *testing.T) Store{
		"file": func(t *testing.T) Store {
			s, err := NewFile(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "cache.db"))
			require.NoError(t, err)
			return s
		},
	}

	for name, open := range purgers {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			short := record("ns", `1`)
			short.TTL = time.Second
			forever := record("ns", `2`)
			forever.TTL = 0

			require.NoError(t, s.Save(ctx, "short", short))
			require.NoError(t, s.Save(ctx, "forever", forever))

			removed, err := s.(Purger).Purge(ctx, createdAt.Add(time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			_, found, err := s.Load(ctx, "short")
			require.NoError(t, err)
			assert.False(t, found)

			_, found, err = s.Load(ctx, "forever")
			require.NoError(t, err)
			assert.True(t, found)
		})
	}
}

func TestStoresKeepSubMillisecondTTL(t *testing.T) {
	ctx := context.Background()
	stores := map[string]func(t *testing.T) Store{
		"file": func(t *testing.T) Store {
			s, err := NewFile(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "cache.db"))
			require.NoError(t, err)
			return s
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()

			tiny := record("ns", `1`)
			tiny.TTL = 500 * time.Microsecond
			odd := record("ns", `2`)
			odd.TTL = 1500 * time.Microsecond
			require.NoError(t, s.Save(ctx, "tiny", tiny))
			require.NoError(t, s.Save(ctx, "odd", odd))

			got, found, err := s.Load(ctx, "tiny")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, 500*time.Microsecond, got.TTL)
			assert.True(t, got.Expired(createdAt.Add(time.Millisecond)))

			got, found, err = s.Load(ctx, "odd")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, 1500*time.Microsecond, got.TTL)

			removed, err := s.(Purger).Purge(ctx, createdAt.Add(time.Millisecond))
			require.NoError(t, err)
			assert.Equal(t, 1, removed)
		})
	}
}

func TestFileStoreCancelledContext(t *testing.T) {
	s, err := NewFile(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Save(ctx, "k", record("ns", `1`)), context.Canceled)
	_, _, err = s.Load(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecordExpired(t *testing.T) {
	rec := record("ns", `1`)
	rec.TTL = time.Second

	assert.False(t, rec.Expired(createdAt.Add(time.Second)), "exactly at TTL is still live")
	assert.True(t, rec.Expired(createdAt.Add(time.Second+time.Millisecond)))
	assert.Equal(t, createdAt.Add(time.Second), rec.ExpiresAt())

	rec.TTL = 0
	assert.False(t, rec.Expired(createdAt.Add(24*time.Hour)))
	assert.True(t, rec.ExpiresAt().IsZero())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Kind: "none"})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = Open(ctx, Config{Kind: ""})
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = Open(ctx, Config{Kind: "redis"})
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = Open(ctx, Config{Kind: "sqlite"})
	assert.ErrorIs(t, err, ErrMissingDSN)

	_, err = Open(ctx, Config{Kind: "postgres"})
	assert.ErrorIs(t, err, ErrMissingDSN)

	s, err = Open(ctx, Config{Kind: "FILE", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(ctx, Config{Kind: "memory", MaxSizeMB: 1})
	require.NoError(t, err)
	assert.IsType(t, &RistrettoStore{}, s)
	s.Close()
}
