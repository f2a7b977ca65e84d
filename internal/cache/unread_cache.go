package cache

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noteduco342/OMChat-backend/internal/metrics"
	"github.com/noteduco342/OMChat-backend/internal/models"
)

// Snapshot is a counter entry as read before a store mutation. Settle uses it
// to tell increments that happened afterwards from the ones already covered.
type Snapshot struct {
	Count int64
	Epoch int64
}

// UnreadBackend stores {count, epoch, seeded} entries. Implementations make
// every single call atomic per key.
//
// An entry is seeded once a settle has tied it to a store count. Before that
// its count only holds increments, Get misses, and the next read seeds it.
type UnreadBackend interface {
	// Increment adds one, creating an unseeded entry when absent.
	Increment(ctx context.Context, key string) error
	Snapshot(ctx context.Context, key string) (Snapshot, error)
	// Settle sets count = base + (count - snap.Count), floored at 0, marks the
	// entry seeded and bumps the epoch, but only while the epoch still equals
	// snap.Epoch.
	Settle(ctx context.Context, key string, snap Snapshot, base int64) (bool, error)
	// Get reports false for absent and unseeded entries.
	Get(ctx context.Context, key string) (int64, bool, error)
	// Seed is Settle for an unseeded entry and a no-op for a seeded one.
	Seed(ctx context.Context, key string, snap Snapshot, base int64) (bool, error)
}

// UnreadSource is the authoritative count, normally the message store.
type UnreadSource interface {
	CountUnread(ctx context.Context, reader uint, key models.ConversationKey) (int64, error)
}

type touchedKey struct {
	reader uint
	key    models.ConversationKey
}

// UnreadCounter caches per-(reader, conversation) unread counts. Cache
// failures are logged and never surface to callers; the store stays the
// source of truth.
type UnreadCounter struct {
	backend UnreadBackend

	// tracking is set while RunResync is running; touched only grows then.
	tracking atomic.Bool
	mu       sync.Mutex
	touched  map[touchedKey]struct{}
}

func NewUnreadCounter(backend UnreadBackend) *UnreadCounter {
	return &UnreadCounter{
		backend: backend,
		touched: make(map[touchedKey]struct{}),
	}
}

// NewUnreadCounterFor picks Redis when a client is available and falls back
// to process memory otherwise.
func NewUnreadCounterFor(rc *RedisCache) *UnreadCounter {
	if rc == nil {
		log.Println("[unread] Redis unavailable, using in-memory unread counters")
		return NewUnreadCounter(NewMemoryUnreadBackend())
	}
	return NewUnreadCounter(NewRedisUnreadBackend(rc))
}

func unreadKey(reader uint, key models.ConversationKey) string {
	return fmt.Sprintf("unread:%d:%s", reader, key.String())
}

func (u *UnreadCounter) touch(reader uint, key models.ConversationKey) {
	if !u.tracking.Load() {
		return
	}
	u.mu.Lock()
	u.touched[touchedKey{reader: reader, key: key}] = struct{}{}
	u.mu.Unlock()
}

func (u *UnreadCounter) Increment(ctx context.Context, reader uint, key models.ConversationKey) {
	u.touch(reader, key)
	if err := u.backend.Increment(ctx, unreadKey(reader, key)); err != nil {
		log.Printf("[unread] increment %d/%s failed: %v", reader, key, err)
	}
}

func (u *UnreadCounter) Snapshot(ctx context.Context, reader uint, key models.ConversationKey) Snapshot {
	snap, err := u.backend.Snapshot(ctx, unreadKey(reader, key))
	if err != nil {
		log.Printf("[unread] snapshot %d/%s failed: %v", reader, key, err)
	}
	return snap
}

// Settle replaces the part of the count that snap covered with base. It
// reports false when a concurrent settle already advanced the entry.
func (u *UnreadCounter) Settle(ctx context.Context, reader uint, key models.ConversationKey, snap Snapshot, base int64) bool {
	u.touch(reader, key)
	return u.settle(ctx, reader, key, snap, base)
}

func (u *UnreadCounter) settle(ctx context.Context, reader uint, key models.ConversationKey, snap Snapshot, base int64) bool {
	ok, err := u.backend.Settle(ctx, unreadKey(reader, key), snap, base)
	switch {
	case err != nil:
		metrics.UnreadSettles.WithLabelValues("error").Inc()
		log.Printf("[unread] settle %d/%s failed: %v", reader, key, err)
	case ok:
		metrics.UnreadSettles.WithLabelValues("applied").Inc()
	default:
		metrics.UnreadSettles.WithLabelValues("superseded").Inc()
	}
	return ok
}

// Reset zeroes what snap covered, keeping increments that raced in after it.
func (u *UnreadCounter) Reset(ctx context.Context, reader uint, key models.ConversationKey, snap Snapshot) bool {
	return u.Settle(ctx, reader, key, snap, 0)
}

func (u *UnreadCounter) Get(ctx context.Context, reader uint, key models.ConversationKey) (int64, bool) {
	count, ok, err := u.backend.Get(ctx, unreadKey(reader, key))
	if err != nil {
		log.Printf("[unread] get %d/%s failed: %v", reader, key, err)
		return 0, false
	}
	return count, ok
}

// Seed fills a missing entry from a store count taken after snap. Increments
// that landed since snap are kept on top of count. It reports false when the
// entry was already seeded or another seed won.
func (u *UnreadCounter) Seed(ctx context.Context, reader uint, key models.ConversationKey, snap Snapshot, count int64) bool {
	ok, err := u.backend.Seed(ctx, unreadKey(reader, key), snap, count)
	if err != nil {
		log.Printf("[unread] seed %d/%s failed: %v", reader, key, err)
		return false
	}
	return ok
}

// Recompute resyncs the entry from the store. A message persisted between
// the snapshot and the count may be counted twice; the next recompute fixes it.
func (u *UnreadCounter) Recompute(ctx context.Context, reader uint, key models.ConversationKey, src UnreadSource) (int64, error) {
	snap := u.Snapshot(ctx, reader, key)
	count, err := src.CountUnread(ctx, reader, key)
	if err != nil {
		return 0, err
	}
	u.settle(ctx, reader, key, snap, count)
	return count, nil
}

// RunResync recomputes every entry touched since the previous pass, once per
// interval, until ctx is done.
func (u *UnreadCounter) RunResync(ctx context.Context, interval time.Duration, src UnreadSource) {
	if interval <= 0 {
		return
	}
	u.tracking.Store(true)
	defer func() {
		u.tracking.Store(false)
		u.mu.Lock()
		u.touched = make(map[touchedKey]struct{})
		u.mu.Unlock()
	}()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.resyncTouched(ctx, src)
		}
	}
}

func (u *UnreadCounter) resyncTouched(ctx context.Context, src UnreadSource) int {
	u.mu.Lock()
	batch := u.touched
	u.touched = make(map[touchedKey]struct{})
	u.mu.Unlock()

	for tk := range batch {
		if _, err := u.Recompute(ctx, tk.reader, tk.key, src); err != nil {
			log.Printf("[unread] resync %d/%s failed: %v", tk.reader, tk.key, err)
		}
	}
	if len(batch) > 0 {
		log.Printf("[unread] resynced %d counters", len(batch))
	}
	return len(batch)
}

// RedisUnreadBackend keeps each entry in a hash with fields count and epoch.
type RedisUnreadBackend struct {
	redis *RedisCache
}

func NewRedisUnreadBackend(rc *RedisCache) *RedisUnreadBackend {
	return &RedisUnreadBackend{redis: rc}
}

// ARGV[1] epoch, ARGV[2] snapshot count, ARGV[3] base, ARGV[4] 1 to skip
// seeded entries.
var settleScript = redis.NewScript(`
if ARGV[4] == '1' and redis.call('HGET', KEYS[1], 'seeded') == '1' then
  return 0
end
local epoch = tonumber(redis.call('HGET', KEYS[1], 'epoch') or '0')
if epoch ~= tonumber(ARGV[1]) then
  return 0
end
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local n = tonumber(ARGV[3]) + (count - tonumber(ARGV[2]))
if n < 0 then
  n = 0
end
redis.call('HSET', KEYS[1], 'count', n, 'epoch', epoch + 1, 'seeded', 1)
return 1
`)

func (b *RedisUnreadBackend) Increment(ctx context.Context, key string) error {
	return b.redis.client.HIncrBy(ctx, key, "count", 1).Err()
}

func (b *RedisUnreadBackend) Snapshot(ctx context.Context, key string) (Snapshot, error) {
	vals, err := b.redis.client.HMGet(ctx, key, "count", "epoch").Result()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Count: parseHashInt(vals[0]), Epoch: parseHashInt(vals[1])}, nil
}

func (b *RedisUnreadBackend) Settle(ctx context.Context, key string, snap Snapshot, base int64) (bool, error) {
	return b.settle(ctx, key, snap, base, false)
}

func (b *RedisUnreadBackend) settle(ctx context.Context, key string, snap Snapshot, base int64, unseededOnly bool) (bool, error) {
	flag := 0
	if unseededOnly {
		flag = 1
	}
	res, err := settleScript.Run(ctx, b.redis.client, []string{key}, snap.Epoch, snap.Count, base, flag).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (b *RedisUnreadBackend) Get(ctx context.Context, key string) (int64, bool, error) {
	vals, err := b.redis.client.HMGet(ctx, key, "count", "seeded").Result()
	if err != nil {
		return 0, false, err
	}
	if seeded, _ := vals[1].(string); seeded != "1" {
		return 0, false, nil
	}
	return parseHashInt(vals[0]), true, nil
}

func (b *RedisUnreadBackend) Seed(ctx context.Context, key string, snap Snapshot, base int64) (bool, error) {
	return b.settle(ctx, key, snap, base, true)
}

func parseHashInt(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

type memoryEntry struct {
	mu     sync.Mutex
	count  int64
	epoch  int64
	seeded bool
}

// MemoryUnreadBackend is the single-node backend used when Redis is down.
type MemoryUnreadBackend struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
}

func NewMemoryUnreadBackend() *MemoryUnreadBackend {
	return &MemoryUnreadBackend{entries: make(map[string]*memoryEntry)}
}

func (b *MemoryUnreadBackend) entry(key string, create bool) *memoryEntry {
	b.mu.RLock()
	e := b.entries[key]
	b.mu.RUnlock()
	if e != nil || !create {
		return e
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if e = b.entries[key]; e == nil {
		e = &memoryEntry{}
		b.entries[key] = e
	}
	return e
}

func (b *MemoryUnreadBackend) Increment(_ context.Context, key string) error {
	e := b.entry(key, true)
	e.mu.Lock()
	e.count++
	e.mu.Unlock()
	return nil
}

func (b *MemoryUnreadBackend) Snapshot(_ context.Context, key string) (Snapshot, error) {
	e := b.entry(key, false)
	if e == nil {
		return Snapshot{}, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{Count: e.count, Epoch: e.epoch}, nil
}

func (b *MemoryUnreadBackend) Settle(_ context.Context, key string, snap Snapshot, base int64) (bool, error) {
	return b.settle(key, snap, base, false), nil
}

func (b *MemoryUnreadBackend) settle(key string, snap Snapshot, base int64, unseededOnly bool) bool {
	e := b.entry(key, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	if (unseededOnly && e.seeded) || e.epoch != snap.Epoch {
		return false
	}
	n := base + (e.count - snap.Count)
	if n < 0 {
		n = 0
	}
	e.count = n
	e.epoch++
	e.seeded = true
	return true
}

func (b *MemoryUnreadBackend) Get(_ context.Context, key string) (int64, bool, error) {
	e := b.entry(key, false)
	if e == nil {
		return 0, false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count, e.seeded, nil
}

func (b *MemoryUnreadBackend) Seed(_ context.Context, key string, snap Snapshot, base int64) (bool, error) {
	return b.settle(key, snap, base, true), nil
}
