package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/noteduco342/OMChat-backend/internal/models"
)

const (
	ConversationTTL = 5 * time.Minute
	// generationTTL outlives any fetch by far, so a generation never
	// expires between the read and the conditional write of one fetch.
	generationTTL = time.Hour
)

// NoGeneration makes Set a no-op. Generation returns it when the cache is
// disabled or unreachable.
const NoGeneration int64 = -1

// KEYS[1] entry, KEYS[2] generation. ARGV[1] expected generation,
// ARGV[2] value, ARGV[3] ttl ms.
var setIfCurrentScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2])
if not gen then gen = '0' end
if gen ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// KEYS[1] entry, KEYS[2] generation. ARGV[1] generation ttl ms.
var invalidateScript = redis.NewScript(`
redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[1])
return 1
`)

// ConversationCache holds fetched conversations encoded with msgpack. The
// cached list is the same for both sides of a direct chat, so entries are
// keyed by the unordered pair. A nil cache is a valid no-op cache.
//
// Every Invalidate bumps a per-entry generation. A fetch reads the
// generation before querying the store and Set only writes if it is
// unchanged, so a list loaded before a concurrent send or read is never
// cached over the invalidation.
type ConversationCache struct {
	redis *RedisCache
}

func NewConversationCache(redis *RedisCache) *ConversationCache {
	return &ConversationCache{redis: redis}
}

func conversationCacheKey(reader uint, key models.ConversationKey) string {
	if key.IsGroup {
		return fmt.Sprintf("conv:group:%d", key.ID)
	}
	a, b := reader, key.ID
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("conv:%d:%d", a, b)
}

func (cc *ConversationCache) Get(ctx context.Context, reader uint, key models.ConversationKey) ([]models.Message, bool) {
	if cc == nil || cc.redis == nil {
		return nil, false
	}
	var messages []models.Message
	found, err := cc.redis.GetValue(ctx, conversationCacheKey(reader, key), &messages)
	if err != nil || !found {
		return nil, false
	}
	return messages, true
}

func generationKey(entry string) string {
	return entry + ":gen"
}

// Generation must be read before the store query whose result is passed
// to Set.
func (cc *ConversationCache) Generation(ctx context.Context, reader uint, key models.ConversationKey) int64 {
	if cc == nil || cc.redis == nil {
		return NoGeneration
	}
	gen, err := cc.redis.Client().Get(ctx, generationKey(conversationCacheKey(reader, key))).Int64()
	if errors.Is(err, redis.Nil) {
		return 0
	}
	if err != nil {
		return NoGeneration
	}
	return gen
}

// Set caches messages if no Invalidate happened since gen was read. It
// reports whether the entry was written.
func (cc *ConversationCache) Set(ctx context.Context, reader uint, key models.ConversationKey, gen int64, messages []models.Message) (bool, error) {
	if cc == nil || cc.redis == nil || gen < 0 {
		return false, nil
	}
	data, err := msgpack.Marshal(messages)
	if err != nil {
		return false, err
	}
	entry := conversationCacheKey(reader, key)
	stored, err := setIfCurrentScript.Run(ctx, cc.redis.Client(),
		[]string{entry, generationKey(entry)},
		gen, data, ConversationTTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

// Invalidate drops the entry after a send or a read changes the conversation.
func (cc *ConversationCache) Invalidate(ctx context.Context, reader uint, key models.ConversationKey) error {
	if cc == nil || cc.redis == nil {
		return nil
	}
	entry := conversationCacheKey(reader, key)
	return invalidateScript.Run(ctx, cc.redis.Client(),
		[]string{entry, generationKey(entry)},
		generationTTL.Milliseconds(),
	).Err()
}
