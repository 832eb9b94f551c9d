package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hsm "github.com/stateforward/hsm-engine"
	"github.com/stateforward/hsm-engine/pkg/store"
	"github.com/stateforward/hsm-engine/pkg/store/redis"
)

func newStore(t *testing.T, opts ...redis.Option) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := redis.New(mr.Addr(), "", 0, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)
	graph, err := hsm.Define("door",
		hsm.State("closed", hsm.Transition(hsm.On("open"), hsm.Target("opened"))),
		hsm.State("opened"),
	)
	require.NoError(t, err)
	sm, err := hsm.New(graph, hsm.Config{ID: "front"})
	require.NoError(t, err)
	require.NoError(t, sm.Fire(ctx, "open", nil))

	require.NoError(t, store.Save(ctx, s, sm))
	assert.True(t, mr.Exists("hsm:snapshot:front"))

	resumed, err := hsm.New(graph, hsm.Config{ID: "front"})
	require.NoError(t, err)
	require.NoError(t, store.Resume(ctx, s, resumed))
	assert.Equal(t, "opened", resumed.CurrentState())
	assert.Equal(t, "closed", resumed.LastState())
}

func TestLoadMissing(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Load(context.Background(), "nobody")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, redis.WithPrefix("test:"), redis.WithCodec(store.YAML{}))
	require.NoError(t, s.Save(ctx, &hsm.Snapshot{ID: "a", Current: "closed"}))
	require.NoError(t, s.Save(ctx, &hsm.Snapshot{ID: "b", Current: "opened"}))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	require.NoError(t, s.Delete(ctx, "a"))
	ids, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)

	loaded, err := s.Load(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "opened", loaded.Current)
}

func TestTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t, redis.WithTTL(time.Minute))
	require.NoError(t, s.Save(ctx, &hsm.Snapshot{ID: "short", Current: "closed"}))
	assert.Equal(t, time.Minute, mr.TTL("hsm:snapshot:short"))

	mr.FastForward(2 * time.Minute)
	_, err := s.Load(ctx, "short")
	assert.True(t, store.IsNotFound(err))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestNewFromClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	s := redis.NewFromClient(client)
	defer s.Close()
	require.NoError(t, s.Save(context.Background(), &hsm.Snapshot{ID: "x", Current: "closed"}))
	got, err := client.Get(context.Background(), "hsm:snapshot:x").Result()
	require.NoError(t, err)
	assert.Contains(t, got, `"current": "closed"`)
}
