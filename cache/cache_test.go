package cache

import (
	"context"
	"testing"
	"time"

	"CalmFM/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRecentPlayCacheColdPushIsIgnored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr, client := newTestRedis(t)
	c := NewRecentPlayCache(client, 10)

	require.NoError(t, c.Push(ctx, 1, "a"))
	require.False(t, mr.Exists("recent:1"))

	_, ok, err := c.Get(ctx, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRecentPlayCacheFillPushTrim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr, client := newTestRedis(t)
	c := NewRecentPlayCache(client, 3)

	require.NoError(t, c.Fill(ctx, 1, []string{"c", "b", "a"}, ""))
	require.Equal(t, 24*time.Hour, mr.TTL("recent:1"))

	require.NoError(t, c.Push(ctx, 1, "d"))
	ids, ok, err := c.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"d", "c", "b"}, ids)

	require.NoError(t, c.Invalidate(ctx, 1))
	_, ok, err = c.Get(ctx, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRecentPlayCacheFillEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr, client := newTestRedis(t)
	c := NewRecentPlayCache(client, 10)

	require.NoError(t, c.Fill(ctx, 1, []string{"a"}, ""))
	require.NoError(t, c.Fill(ctx, 1, nil, ""))
	require.False(t, mr.Exists("recent:1"))
}

func TestRecentPlayCacheFillSkippedAfterWrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr, client := newTestRedis(t)
	c := NewRecentPlayCache(client, 10)

	version, err := c.Version(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, version)

	// a play lands on the cold key between the database read and the fill
	require.NoError(t, c.Push(ctx, 1, "b"))
	require.NoError(t, c.Fill(ctx, 1, []string{"a"}, version))
	require.False(t, mr.Exists("recent:1"))

	version, err = c.Version(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "1", version)
	require.NoError(t, c.Fill(ctx, 1, []string{"b", "a"}, version))
	ids, ok, err := c.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"b", "a"}, ids)

	// invalidation also moves the version on
	require.NoError(t, c.Invalidate(ctx, 1))
	require.NoError(t, c.Fill(ctx, 1, []string{"b", "a"}, version))
	require.False(t, mr.Exists("recent:1"))
}

func TestFeedBusRoundTrip(t *testing.T) {
	t.Parallel()
	_, client := newTestRedis(t)
	bus := NewFeedBus(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type delivery struct {
		userID int64
		event  model.ChangeEvent
	}
	got := make(chan delivery, 1)
	ready := make(chan struct{})
	go func() {
		_ = bus.Run(ctx, ready, func(userID int64, event model.ChangeEvent) {
			got <- delivery{userID, event}
		})
	}()

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("subscription never became ready")
	}

	event := model.NewChangeEvent(model.EventTrackCreated, "t1")
	event.Status = model.TrackStatusPending
	require.NoError(t, bus.Publish(ctx, 7, event))

	select {
	case d := <-got:
		require.Equal(t, int64(7), d.userID)
		require.Equal(t, event, d.event)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}
