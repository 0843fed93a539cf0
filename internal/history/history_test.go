package history_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litescript/smartim-build/internal/history"
)

func newStore(t *testing.T) *history.Store {
	t.Helper()

	s, err := history.Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndList(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, v := range []string{"1.2.3", "1.2.4", "1.2.5"} {
		_, err := s.Record(ctx, history.Release{
			PluginID:  "com.example.smartim",
			Version:   v,
			Artifact:  "build/distributions/smart-im-switcher-" + v + ".zip",
			SHA256:    "abc",
			Size:      1024,
			Signed:    i%2 == 0,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "1.2.5", all[0].Version)
	assert.Equal(t, "1.2.3", all[2].Version)
	assert.True(t, all[0].Signed)
	assert.False(t, all[1].Signed)
	assert.Equal(t, base.Add(2*time.Hour), all[0].CreatedAt)
	assert.NotEmpty(t, all[0].ID)

	two, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestLatest(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	_, err := s.Latest(ctx, "com.example.smartim")
	require.ErrorIs(t, err, history.ErrNotFound)

	_, err = s.Record(ctx, history.Release{PluginID: "com.example.smartim", Version: "1.0.0"})
	require.NoError(t, err)
	_, err = s.Record(ctx, history.Release{PluginID: "com.example.other", Version: "9.9.9"})
	require.NoError(t, err)
	rec, err := s.Record(ctx, history.Release{PluginID: "com.example.smartim", Version: "1.0.1"})
	require.NoError(t, err)

	got, err := s.Latest(ctx, "com.example.smartim")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "1.0.1", got.Version)
}

func TestRecordRequiresIdentity(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	_, err := s.Record(context.Background(), history.Release{Version: "1.0.0"})
	require.Error(t, err)
}

func TestReopen(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "history.db")
	s, err := history.Open(p)
	require.NoError(t, err)
	_, err = s.Record(context.Background(), history.Release{PluginID: "p", Version: "1.0.0"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = history.Open(p)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, p, s.Path())

	all, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMarkSigned(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	rec, err := s.Record(ctx, history.Release{PluginID: "p", Version: "1.0.0"})
	require.NoError(t, err)
	require.NoError(t, s.MarkSigned(ctx, rec.ID))

	got, err := s.Latest(ctx, "p")
	require.NoError(t, err)
	assert.True(t, got.Signed)

	require.ErrorIs(t, s.MarkSigned(ctx, "missing"), history.ErrNotFound)
}
