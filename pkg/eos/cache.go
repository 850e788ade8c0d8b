package eos

import (
	"context"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	cmap "github.com/orcaman/concurrent-map"
)

// Store is a key/value cache store with per-entry time to live.
// A zero ttl means the entry does not expire. Implementations must be safe for concurrent use.
type Store interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Touch re-arms an entry's ttl; a missing key is not an error.
	Touch(ctx context.Context, key string, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// ExpirationPolicy is the eviction policy applied to cached responses.
type ExpirationPolicy struct {
	Offset            time.Duration
	SlidingExpiration time.Duration
}

// initialTTL is the store ttl of a fresh entry.
func (ep ExpirationPolicy) initialTTL() time.Duration {

	switch {
	case ep.Offset > 0 && ep.SlidingExpiration > 0:
		if ep.SlidingExpiration < ep.Offset {
			return ep.SlidingExpiration
		}
		return ep.Offset
	case ep.Offset > 0:
		return ep.Offset
	default:
		return ep.SlidingExpiration
	}
}

var (
	sharedStore     *MemoryStore
	sharedStoreOnce sync.Once
)

// SharedStore returns the process-wide store used by SharedCache mode.
func SharedStore() *MemoryStore {

	sharedStoreOnce.Do(func() {
		sharedStore = NewMemoryStore("shared")
	})

	return sharedStore
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (me *memoryEntry) expired(now time.Time) bool {
	return !me.expiresAt.IsZero() && !now.Before(me.expiresAt)
}

// MemoryStore is an in-process Store. Expired entries are dropped when read.
type MemoryStore struct {
	name    string
	entries cmap.ConcurrentMap
	now     func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{
		name:    name,
		entries: cmap.New(),
		now:     time.Now,
	}
}

// Name returns the store name.
func (ms *MemoryStore) Name() string {
	return ms.name
}

// Get returns a live entry.
func (ms *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {

	item, ok := ms.entries.Get(key)
	if !ok {
		return nil, false, nil
	}

	entry, _ := item.(*memoryEntry)
	if entry == nil || entry.expired(ms.now()) {
		ms.entries.Remove(key)
		return nil, false, nil
	}

	return entry.value, true, nil
}

// Set stores value under key.
func (ms *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	ms.entries.Set(key, &memoryEntry{value: value, expiresAt: ms.deadline(ttl)})
	return nil
}

// Touch re-arms the ttl of a live entry.
func (ms *MemoryStore) Touch(_ context.Context, key string, ttl time.Duration) error {

	ms.entries.Upsert(key, nil, func(exists bool, valueInMap interface{}, _ interface{}) interface{} {
		entry, _ := valueInMap.(*memoryEntry)
		if !exists || entry == nil || entry.expired(ms.now()) {
			// an already expired tombstone, dropped by the next Get
			return &memoryEntry{expiresAt: time.Unix(0, 1)}
		}

		return &memoryEntry{value: entry.value, expiresAt: ms.deadline(ttl)}
	})

	return nil
}

// Remove deletes key.
func (ms *MemoryStore) Remove(_ context.Context, key string) error {
	ms.entries.Remove(key)
	return nil
}

// Clear deletes every entry.
func (ms *MemoryStore) Clear(_ context.Context) error {

	for _, key := range ms.entries.Keys() {
		ms.entries.Remove(key)
	}

	return nil
}

// Count returns the number of stored entries, expired ones included.
func (ms *MemoryStore) Count() int {
	return ms.entries.Count()
}

func (ms *MemoryStore) deadline(ttl time.Duration) time.Time {

	if ttl <= 0 {
		return time.Time{}
	}

	return ms.now().Add(ttl)
}

// cachedResponse is the envelope written to a Store.
type cachedResponse struct {
	Value    jsoniter.RawMessage `json:"v"`
	Deadline int64               `json:"d,omitempty"` // absolute expiry, unix nanoseconds
}

// ResponseCache caches remote responses keyed by the request that produced them.
// Keys are namespaced so targets sharing a store don't see each other's responses.
type ResponseCache struct {
	store       Store
	namespace   string
	policy      ExpirationPolicy
	compression bool
	now         func() time.Time
}

// NewResponseCache wraps store with policy.
func NewResponseCache(store Store, namespace string, policy ExpirationPolicy, compression bool) *ResponseCache {
	return &ResponseCache{
		store:       store,
		namespace:   namespace,
		policy:      policy,
		compression: compression,
		now:         time.Now,
	}
}

// Store returns the underlying store.
func (rc *ResponseCache) Store() Store {
	return rc.store
}

// Policy returns the expiration policy.
func (rc *ResponseCache) Policy() ExpirationPolicy {
	return rc.policy
}

// Get decodes the cached response for request into out and reports whether there was one.
func (rc *ResponseCache) Get(ctx context.Context, request interface{}, out interface{}) (bool, error) {

	key, err := rc.key(request)
	if err != nil {
		return false, err
	}

	data, ok, err := rc.store.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}

	if rc.compression {
		if data, err = DecompressWithZstd(data); err != nil {
			return false, err
		}
	}

	var json = jsoniter.ConfigFastest
	envelope := &cachedResponse{}
	if err := json.Unmarshal(data, envelope); err != nil {
		return false, err
	}

	now := rc.now()
	if envelope.Deadline > 0 && now.UnixNano() >= envelope.Deadline {
		return false, rc.store.Remove(ctx, key)
	}

	if err := json.Unmarshal(envelope.Value, out); err != nil {
		return false, err
	}

	if rc.policy.SlidingExpiration > 0 {
		ttl := rc.policy.SlidingExpiration
		if envelope.Deadline > 0 {
			if remaining := time.Duration(envelope.Deadline - now.UnixNano()); remaining < ttl {
				ttl = remaining
			}
		}

		if err := rc.store.Touch(ctx, key, ttl); err != nil {
			return true, err
		}
	}

	return true, nil
}

// Set caches response for request.
func (rc *ResponseCache) Set(ctx context.Context, request interface{}, response interface{}) error {

	key, err := rc.key(request)
	if err != nil {
		return err
	}

	var json = jsoniter.ConfigFastest
	value, err := json.Marshal(response)
	if err != nil {
		return err
	}

	envelope := &cachedResponse{Value: value}
	if rc.policy.Offset > 0 {
		envelope.Deadline = rc.now().Add(rc.policy.Offset).UnixNano()
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	if rc.compression {
		if data, err = CompressWithZstd(data); err != nil {
			return err
		}
	}

	return rc.store.Set(ctx, key, data, rc.policy.initialTTL())
}

// Remove evicts the cached response for request.
func (rc *ResponseCache) Remove(ctx context.Context, request interface{}) error {

	key, err := rc.key(request)
	if err != nil {
		return err
	}

	return rc.store.Remove(ctx, key)
}

// Clear empties the underlying store.
func (rc *ResponseCache) Clear(ctx context.Context) error {
	return rc.store.Clear(ctx)
}

func (rc *ResponseCache) key(request interface{}) (string, error) {

	key, err := CacheKey(request)
	if err != nil {
		return "", err
	}

	if rc.namespace == "" {
		return key, nil
	}

	return rc.namespace + ":" + key, nil
}
