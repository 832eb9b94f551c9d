package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hsm "github.com/stateforward/hsm-engine"
	"github.com/stateforward/hsm-engine/pkg/store"
)

func door(t *testing.T) *hsm.Graph {
	t.Helper()
	graph, err := hsm.Define("door",
		hsm.State("closed", hsm.Transition(hsm.On("open"), hsm.Target("opened"))),
		hsm.State("opened",
			hsm.History(hsm.HistoryDeep),
			hsm.State("ajar", hsm.Transition(hsm.On("push"), hsm.Target("wide"))),
			hsm.State("wide"),
			hsm.Transition(hsm.On("close"), hsm.Target("closed")),
		),
	)
	require.NoError(t, err)
	return graph
}

func TestFileRoundTrip(t *testing.T) {
	for _, codec := range []store.Codec{store.JSON{}, store.YAML{}} {
		t.Run(codec.Extension(), func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			s, err := store.NewFile(dir, codec)
			require.NoError(t, err)

			graph := door(t)
			sm, err := hsm.New(graph, hsm.Config{ID: "front"})
			require.NoError(t, err)
			require.NoError(t, sm.Fire(ctx, "open", nil))
			require.NoError(t, sm.Fire(ctx, "push", nil))
			require.NoError(t, sm.Fire(ctx, "close", nil))
			require.NoError(t, store.Save(ctx, s, sm))
			assert.FileExists(t, filepath.Join(dir, "front"+codec.Extension()))

			resumed, err := hsm.New(graph, hsm.Config{ID: "front"})
			require.NoError(t, err)
			require.NoError(t, store.Resume(ctx, s, resumed))
			assert.Equal(t, "closed", resumed.CurrentState())
			assert.Equal(t, "wide", resumed.LastActiveChild()["opened"])

			require.NoError(t, resumed.Fire(ctx, "open", nil))
			assert.Equal(t, "wide", resumed.CurrentState())
		})
	}
}

func TestFileNotFound(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewFile(t.TempDir())
	require.NoError(t, err)

	_, err = s.Load(ctx, "missing")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
	assert.ErrorIs(t, err, store.ErrNotFound)

	sm, err := hsm.New(door(t), hsm.Config{ID: "missing"})
	require.NoError(t, err)
	assert.True(t, store.IsNotFound(store.Resume(ctx, s, sm)))
}

func TestFileDelete(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewFile(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, &hsm.Snapshot{ID: "gone", Current: "closed"}))

	loaded, err := s.Load(ctx, "gone")
	require.NoError(t, err)
	assert.Equal(t, "closed", loaded.Current)

	require.NoError(t, s.Delete(ctx, "gone"))
	require.NoError(t, s.Delete(ctx, "gone"))
	_, err = s.Load(ctx, "gone")
	assert.True(t, store.IsNotFound(err))
}

func TestFileRejectsCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := store.NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{"), 0o644))

	_, err = s.Load(ctx, "bad")
	require.Error(t, err)
	assert.False(t, store.IsNotFound(err))
}
