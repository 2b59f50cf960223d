package cache

import (
	"sync"
	"time"
)

// TTL cache のデフォルト設定。クエリEmbeddingは内容が変わらないため長め、
// 検索結果はデータ更新で陳腐化するため短めに保持する。
const (
	DefaultEmbeddingTTL = time.Hour
	DefaultSearchTTL    = 5 * time.Minute
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache は有効期限付きのメモリキャッシュ。
// 期限切れエントリは参照時と Set 時に破棄される（バックグラウンド掃除は持たない）。
type TTLCache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]entry[V]
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// Option は TTLCache のオプション設定
type Option[K comparable, V any] func(*TTLCache[K, V])

// WithMaxSize はエントリ数の上限を設定する（0は無制限）
func WithMaxSize[K comparable, V any](n int) Option[K, V] {
	return func(c *TTLCache[K, V]) {
		c.maxSize = n
	}
}

// withClock はテスト用に時刻源を差し替える
func withClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *TTLCache[K, V]) {
		c.now = now
	}
}

// New は新しい TTLCache を作成する
func New[K comparable, V any](ttl time.Duration, opts ...Option[K, V]) *TTLCache[K, V] {
	c := &TTLCache[K, V]{
		entries: make(map[K]entry[V]),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get はキーの値を返す。期限切れまたは未登録なら ok=false。
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Set はキーに値を登録する。上限超過時は期限切れ掃除後、最も古いエントリを捨てる。
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evict(now)
	}

	c.entries[key] = entry[V]{
		value:     value,
		expiresAt: now.Add(c.ttl),
	}
}

// Delete はキーを削除する
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear は全エントリを破棄する
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]entry[V])
}

// Len は現在のエントリ数を返す（期限切れ含む）
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evict は期限切れを掃除し、それでも上限なら最も期限の近いエントリを1つ捨てる
func (c *TTLCache[K, V]) evict(now time.Time) {
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	if c.maxSize <= 0 || len(c.entries) < c.maxSize {
		return
	}

	var (
		oldestKey K
		oldestAt  time.Time
		found     bool
	)
	for key, e := range c.entries {
		if !found || e.expiresAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.expiresAt
			found = true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}
