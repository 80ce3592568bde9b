package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/splusd-labs/splusd-tracker/internal/config"
	"github.com/splusd-labs/splusd-tracker/internal/core/domain"
)

func exerciseStore(t *testing.T, s domain.KeyValueStore) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "splusd_tvl_history")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.Put(ctx, "splusd_tvl_history", []byte(`[{"timestamp":1}]`)))
	got, err := s.Get(ctx, "splusd_tvl_history")
	require.NoError(t, err)
	require.JSONEq(t, `[{"timestamp":1}]`, string(got))

	require.NoError(t, s.Put(ctx, "splusd_tvl_history", []byte(`[]`)))
	got, err = s.Get(ctx, "splusd_tvl_history")
	require.NoError(t, err)
	require.Equal(t, "[]", string(got))

	_, err = s.Get(ctx, "splusd_idle_wallet_history")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemory(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	exerciseStore(t, s)
}

func TestLevelDB(t *testing.T) {
	s, err := NewLevelDB(filepath.Join(t.TempDir(), "history.ldb"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestBolt(t *testing.T) {
	s, err := NewBolt(filepath.Join(t.TempDir(), "history.bolt"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestFile(t *testing.T) {
	s, err := NewFile(filepath.Join(t.TempDir(), "nested", "history.json"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestFileRecoversFromCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	s, err := NewFile(path)
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "k")
	require.Error(t, err)

	require.NoError(t, s.Put(context.Background(), "k", []byte("v")))
	got, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, "v", string(got))
}

func TestRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "splusd:")
	defer s.Close()
	exerciseStore(t, s)

	// keys are namespaced
	require.True(t, mr.Exists("splusd:splusd_tvl_history"))
}

func TestOpenDrivers(t *testing.T) {
	dir := t.TempDir()
	for _, cfg := range []config.StoreConfig{
		{Driver: config.DriverMemory},
		{Driver: config.DriverLevelDB, Path: filepath.Join(dir, "a.ldb")},
		{Driver: config.DriverBolt, Path: filepath.Join(dir, "b", "b.bolt")},
		{Driver: config.DriverFile, Path: filepath.Join(dir, "c.json")},
	} {
		s, err := Open(cfg)
		require.NoError(t, err, cfg.Driver)
		require.NoError(t, s.Close())
	}

	_, err := Open(config.StoreConfig{Driver: "sqlite"})
	require.Error(t, err)
}
