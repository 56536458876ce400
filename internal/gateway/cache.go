package gateway

import (
	"hash/fnv"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chainvista/dlt-gateway/pkg/types"
)

const cacheShardCount = 32

// ResponseCache is the per-route TTL cache for idempotent reads. Entries are
// sharded by signature so unrelated routes never contend on one lock.
type ResponseCache struct {
	shards [cacheShardCount]cacheShard

	// now is swapped out in tests
	now func() time.Time
}

type cacheShard struct {
	entries map[string]*types.CachedResponse
	mutex   sync.RWMutex
}

// NewResponseCache creates a new response cache
func NewResponseCache() *ResponseCache {
	rc := &ResponseCache{now: time.Now}
	for i := range rc.shards {
		rc.shards[i].entries = map[string]*types.CachedResponse{}
	}
	return rc
}

// CacheSignature builds the deterministic request signature: route name plus
// normalized query parameters with sorted keys. Auth headers never
// participate, so a signature can be shared across identities.
func CacheSignature(routeName, path string, query url.Values) string {
	var sb strings.Builder
	sb.WriteString(routeName)
	sb.WriteByte('|')
	sb.WriteString(path)

	if len(query) > 0 {
		keys := make([]string, 0, len(query))
		for k := range query {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			values := append([]string(nil), query[k]...)
			sort.Strings(values)
			for _, v := range values {
				sb.WriteByte('|')
				sb.WriteString(k)
				sb.WriteByte('=')
				sb.WriteString(v)
			}
		}
	}

	return sb.String()
}

// Get returns the cached response for a signature, treating expired entries
// as a miss and evicting them on access
func (rc *ResponseCache) Get(signature string) (*types.CachedResponse, bool) {
	shard := rc.shard(signature)

	shard.mutex.RLock()
	entry, exists := shard.entries[signature]
	shard.mutex.RUnlock()

	if !exists {
		return nil, false
	}

	if entry.Expired(rc.now()) {
		shard.mutex.Lock()
		// Re-check under the write lock; a concurrent Put may have
		// replaced the entry with a fresh one.
		if current, ok := shard.entries[signature]; ok && current.Expired(rc.now()) {
			delete(shard.entries, signature)
		}
		shard.mutex.Unlock()
		return nil, false
	}

	return entry, true
}

// Put stores a response payload under the signature with the given TTL
func (rc *ResponseCache) Put(signature string, payload []byte, contentType string, ttlSeconds int) {
	if ttlSeconds <= 0 {
		return
	}

	entry := &types.CachedResponse{
		Signature:   signature,
		Payload:     append([]byte(nil), payload...),
		ContentType: contentType,
		StoredAt:    rc.now(),
		TTLSeconds:  ttlSeconds,
	}

	shard := rc.shard(signature)
	shard.mutex.Lock()
	shard.entries[signature] = entry
	shard.mutex.Unlock()
}

func (rc *ResponseCache) shard(signature string) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(signature))
	return &rc.shards[h.Sum32()%cacheShardCount]
}
