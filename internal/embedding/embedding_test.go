package embedding

import (
	"context"
	"database/sql"
	"math"
	"path/filepath"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/arcwright/recall/internal/sqlitedb"
)

func unit(dim int, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestIndexStoreAndFindSimilar(t *testing.T) {
	idx, err := NewIndex(t.TempDir(), "test", 4)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	ctx := context.Background()

	if err := idx.Store(ctx, "a", unit(4, 0), nil); err != nil {
		t.Fatalf("store a: %v", err)
	}
	if err := idx.Store(ctx, "b", unit(4, 1), nil); err != nil {
		t.Fatalf("store b: %v", err)
	}

	hits := idx.FindSimilar(ctx, unit(4, 0), 5, 0)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ContentHash != "a" {
		t.Fatalf("expected exact match 'a' ranked first, got %v", hits[0])
	}
	if math.Abs(float64(hits[0].Similarity)-1.0) > 1e-5 {
		t.Fatalf("expected similarity ~1.0 for identical vector, got %v", hits[0].Similarity)
	}
}

func TestIndexDeleteRebuildsWithoutEntry(t *testing.T) {
	idx, err := NewIndex(t.TempDir(), "test", 4)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	ctx := context.Background()

	_ = idx.Store(ctx, "a", unit(4, 0), nil)
	_ = idx.Store(ctx, "b", unit(4, 1), nil)
	if err := idx.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if idx.Has("a") {
		t.Fatalf("expected 'a' removed")
	}
	if idx.Count() != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", idx.Count())
	}
	hits := idx.FindSimilar(ctx, unit(4, 1), 5, 0)
	if len(hits) != 1 || hits[0].ContentHash != "b" {
		t.Fatalf("expected only 'b' to remain, got %v", hits)
	}
}

func TestIndexPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	idx1, err := NewIndex(dir, "persist", 4)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	_ = idx1.Store(context.Background(), "a", unit(4, 2), map[string]string{"k": "v"})

	idx2, err := NewIndex(dir, "persist", 4)
	if err != nil {
		t.Fatalf("reopen index: %v", err)
	}
	if idx2.Count() != 1 {
		t.Fatalf("expected persisted entry to reload, got count %d", idx2.Count())
	}
	vec, ok := idx2.Get("a")
	if !ok || len(vec) != 4 {
		t.Fatalf("expected reloaded vector for 'a'")
	}
}

func TestIndexImportFromSQLAdapter(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "import.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	if err := sqlitedb.Init(ctx, db); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	cache := NewCache(db, 10)
	if err := cache.Put(ctx, "a", unit(4, 0)); err != nil {
		t.Fatalf("seed a: %v", err)
	}
	if err := cache.Put(ctx, "b", unit(4, 1)); err != nil {
		t.Fatalf("seed b: %v", err)
	}

	idx, err := NewIndex(t.TempDir(), "reimport", 4)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}

	adapter, err := NewSQLImportAdapter(ctx, db)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	defer adapter.Close()

	n, err := idx.ImportFrom(ctx, adapter)
	if err != nil {
		t.Fatalf("import from: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 imported rows, got %d", n)
	}
	if idx.Count() != 2 {
		t.Fatalf("expected index count 2, got %d", idx.Count())
	}
	if !idx.Has("a") || !idx.Has("b") {
		t.Fatalf("expected both hashes present after import")
	}
}

func TestCacheGetPutRoundTripThroughSQLite(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := sqlitedb.Init(context.Background(), db); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	cache := NewCache(db, 2)
	ctx := context.Background()

	if err := cache.Put(ctx, "h1", []float32{1, 2, 3}); err != nil {
		t.Fatalf("put: %v", err)
	}

	vec, ok, err := cache.Get(ctx, "h1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if len(vec) != 3 || vec[1] != 2 {
		t.Fatalf("unexpected vector: %v", vec)
	}

	_, ok, err = cache.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatalf("expected miss for unknown hash")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "cache2.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := sqlitedb.Init(context.Background(), db); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	cache := NewCache(db, 2)
	ctx := context.Background()
	_ = cache.Put(ctx, "a", []float32{1})
	_ = cache.Put(ctx, "b", []float32{2})
	_ = cache.Put(ctx, "c", []float32{3})

	if cache.Len() != 2 {
		t.Fatalf("expected in-memory LRU capped at 2, got %d", cache.Len())
	}
}
