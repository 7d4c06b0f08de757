package embedding

import (
	"container/list"
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/arcwright/recall/internal/types"
)

var cacheMetrics struct {
	hits   metric.Int64Counter
	misses metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/arcwright/recall/embedding")
	cacheMetrics.hits, _ = m.Int64Counter("recall.embedding_cache.hits")
	cacheMetrics.misses, _ = m.Int64Counter("recall.embedding_cache.misses")
}

// Cache is a bounded in-memory LRU (capacity 1000 by default, per
// spec §4.C) in front of the persistent embedding_cache table. A miss
// falls through to the table; a hit there is promoted into the LRU and
// its accessed_at is refreshed.
type Cache struct {
	db       *sql.DB
	capacity int

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
}

type cacheEntry struct {
	hash string
	vec  []float32
}

// NewCache wraps db (which must already have the embedding_cache table)
// with an LRU of the given capacity.
func NewCache(db *sql.DB, capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Cache{
		db:       db,
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the cached vector for contentHash, checking the in-memory
// LRU first and the persistent table on a miss.
func (c *Cache) Get(ctx context.Context, contentHash string) ([]float32, bool, error) {
	if vec, ok := c.getMemory(contentHash); ok {
		cacheMetrics.hits.Add(ctx, 1)
		return vec, true, nil
	}

	var blob []byte
	var dim int
	err := c.db.QueryRowContext(ctx, `
		SELECT vector, dim FROM embedding_cache WHERE content_hash = ?
	`, contentHash).Scan(&blob, &dim)
	if err == sql.ErrNoRows {
		cacheMetrics.misses.Add(ctx, 1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.WrapError("get cached embedding", types.ErrIO, err)
	}

	vec := decodeVector(blob, dim)
	c.putMemory(contentHash, vec)

	_, _ = c.db.ExecContext(ctx, `UPDATE embedding_cache SET accessed_at = ? WHERE content_hash = ?`,
		time.Now().UTC().Format(time.RFC3339), contentHash)
	cacheMetrics.hits.Add(ctx, 1)
	return vec, true, nil
}

// Put persists vec for contentHash and updates the in-memory LRU.
func (c *Cache) Put(ctx context.Context, contentHash string, vec []float32) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (content_hash, dim, vector, created_at, accessed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (content_hash) DO UPDATE SET
			vector = excluded.vector, dim = excluded.dim, accessed_at = excluded.accessed_at
	`, contentHash, len(vec), encodeVector(vec), now, now)
	if err != nil {
		return types.WrapError("put cached embedding", types.ErrIO, err)
	}
	c.putMemory(contentHash, vec)
	return nil
}

func (c *Cache) getMemory(hash string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[hash]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).vec, true
}

func (c *Cache) putMemory(hash string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[hash]; ok {
		el.Value.(*cacheEntry).vec = vec
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&cacheEntry{hash: hash, vec: vec})
	c.items[hash] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).hash)
		}
	}
}

// Len returns the number of entries currently in the in-memory LRU.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// NewestAccessedAt returns the most recent accessed_at timestamp across
// every cached embedding, or ok=false if the cache is empty. Used by
// the maintenance package's freshness check to decide whether a
// backfill pass would find any work to do.
func (c *Cache) NewestAccessedAt(ctx context.Context) (t time.Time, ok bool) {
	var raw sql.NullString
	err := c.db.QueryRowContext(ctx, `SELECT MAX(accessed_at) FROM embedding_cache`).Scan(&raw)
	if err != nil || !raw.Valid {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339, raw.String)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// SQLImportAdapter streams every row of embedding_cache as an
// ImportAdapter, letting Index.ImportFrom rebuild a vector index whose
// sidecar was reset to empty after corruption — the embeddings
// themselves are never lost since this table is the durable store.
type SQLImportAdapter struct {
	rows *sql.Rows
}

// NewSQLImportAdapter opens a cursor over every persisted embedding.
func NewSQLImportAdapter(ctx context.Context, db *sql.DB) (*SQLImportAdapter, error) {
	rows, err := db.QueryContext(ctx, `SELECT content_hash, dim, vector FROM embedding_cache ORDER BY content_hash`)
	if err != nil {
		return nil, types.WrapError("open embedding import cursor", types.ErrIO, err)
	}
	return &SQLImportAdapter{rows: rows}, nil
}

// Next implements ImportAdapter.
func (a *SQLImportAdapter) Next() (contentHash string, vec []float32, md map[string]string, ok bool, err error) {
	if !a.rows.Next() {
		return "", nil, nil, false, a.rows.Err()
	}
	var blob []byte
	var dim int
	if err := a.rows.Scan(&contentHash, &dim, &blob); err != nil {
		return "", nil, nil, false, err
	}
	return contentHash, decodeVector(blob, dim), nil, true, nil
}

// Close releases the underlying cursor.
func (a *SQLImportAdapter) Close() error {
	return a.rows.Close()
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte, dim int) []float32 {
	vec := make([]float32, dim)
	for i := 0; i < dim && (i+1)*4 <= len(blob); i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}
