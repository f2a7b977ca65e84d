package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/noteduco342/OMChat-backend/internal/models"
)

func startRedis(t *testing.T) *RedisCache {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	rc := NewRedisCache(endpoint, "", 0)
	require.NoError(t, rc.Ping(ctx))
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestRedisUnreadBackend(t *testing.T) {
	rc := startRedis(t)
	ctx := context.Background()
	counter := NewUnreadCounterFor(rc)
	key := models.GroupConversation(3)

	counter.Increment(ctx, 1, key)
	_, ok := counter.Get(ctx, 1, key)
	assert.False(t, ok, "unseeded entry must miss")

	// The store count already includes the message incremented above.
	seedSnap := counter.Snapshot(ctx, 1, key)
	require.True(t, counter.Seed(ctx, 1, key, seedSnap, 1))
	counter.Increment(ctx, 1, key)
	got, ok := counter.Get(ctx, 1, key)
	require.True(t, ok)
	assert.Equal(t, int64(2), got)

	snap := counter.Snapshot(ctx, 1, key)
	assert.Equal(t, Snapshot{Count: 2, Epoch: 1}, snap)

	counter.Increment(ctx, 1, key)
	assert.True(t, counter.Reset(ctx, 1, key, snap))
	assert.False(t, counter.Reset(ctx, 1, key, snap), "same snapshot cannot settle twice")

	got, ok = counter.Get(ctx, 1, key)
	require.True(t, ok)
	assert.Equal(t, int64(1), got)

	assert.False(t, counter.Seed(ctx, 1, key, counter.Snapshot(ctx, 1, key), 40))
	got, _ = counter.Get(ctx, 1, key)
	assert.Equal(t, int64(1), got)
}

func TestRedisUnreadBackend_SeedKeepsIncrementsDuringCount(t *testing.T) {
	rc := startRedis(t)
	ctx := context.Background()
	counter := NewUnreadCounterFor(rc)
	key := models.DirectConversation(11)

	snap := counter.Snapshot(ctx, 4, key)
	// Lands after the store count below was taken.
	counter.Increment(ctx, 4, key)

	require.True(t, counter.Seed(ctx, 4, key, snap, 3))
	got, ok := counter.Get(ctx, 4, key)
	require.True(t, ok)
	assert.Equal(t, int64(4), got)
}

func TestPresenceCache(t *testing.T) {
	rc := startRedis(t)
	ctx := context.Background()
	nodeA := NewPresenceCache(rc, "a")
	nodeB := NewPresenceCache(rc, "b")

	require.NoError(t, nodeA.SetOnline(ctx, 1))
	require.NoError(t, nodeB.SetOnline(ctx, 2))
	require.NoError(t, nodeB.SetOnline(ctx, 1))

	ids, err := nodeA.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2}, ids)

	require.NoError(t, nodeB.Leave(ctx))
	ids, err = nodeA.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, ids)

	require.NoError(t, nodeA.Refresh(ctx, nil))
	ids, err = nodeA.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestConversationCache(t *testing.T) {
	rc := startRedis(t)
	ctx := context.Background()
	cc := NewConversationCache(rc)
	recipient := uint(2)

	msgs := []models.Message{{ID: 1, SenderID: 1, RecipientID: &recipient, Text: "hi"}}
	gen := cc.Generation(ctx, 1, models.DirectConversation(2))
	stored, err := cc.Set(ctx, 1, models.DirectConversation(2), gen, msgs)
	require.NoError(t, err)
	require.True(t, stored)

	// the other side of the chat shares the entry
	got, ok := cc.Get(ctx, 2, models.DirectConversation(1))
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Text)

	require.NoError(t, cc.Invalidate(ctx, 2, models.DirectConversation(1)))
	_, ok = cc.Get(ctx, 1, models.DirectConversation(2))
	assert.False(t, ok)
}

func TestConversationCache_InvalidateDuringFetchWins(t *testing.T) {
	rc := startRedis(t)
	ctx := context.Background()
	cc := NewConversationCache(rc)
	key := models.GroupConversation(7)
	group := uint(7)

	// A fetch reads the generation and loads one message from the store.
	gen := cc.Generation(ctx, 1, key)
	stale := []models.Message{{ID: 1, SenderID: 2, GroupID: &group, Text: "one"}}

	// A send commits and invalidates before the fetch writes its result.
	require.NoError(t, cc.Invalidate(ctx, 2, key))

	stored, err := cc.Set(ctx, 1, key, gen, stale)
	require.NoError(t, err)
	assert.False(t, stored, "list loaded before the invalidation must not be cached")
	_, ok := cc.Get(ctx, 1, key)
	assert.False(t, ok)

	fresh := append(stale, models.Message{ID: 2, SenderID: 1, GroupID: &group, Text: "two"})
	gen = cc.Generation(ctx, 1, key)
	stored, err = cc.Set(ctx, 1, key, gen, fresh)
	require.NoError(t, err)
	require.True(t, stored)

	got, ok := cc.Get(ctx, 3, key)
	require.True(t, ok)
	assert.Len(t, got, 2)
}

func TestNilCachesAreNoOps(t *testing.T) {
	ctx := context.Background()
	var cc *ConversationCache
	var pc *PresenceCache

	_, ok := cc.Get(ctx, 1, models.DirectConversation(2))
	assert.False(t, ok)
	assert.Equal(t, NoGeneration, cc.Generation(ctx, 1, models.DirectConversation(2)))
	stored, err := cc.Set(ctx, 1, models.DirectConversation(2), 0, nil)
	assert.NoError(t, err)
	assert.False(t, stored)
	assert.NoError(t, cc.Invalidate(ctx, 1, models.DirectConversation(2)))

	assert.NoError(t, pc.SetOnline(ctx, 1))
	ids, err := pc.OnlineUsers(ctx)
	assert.NoError(t, err)
	assert.Nil(t, ids)
}
