package selftest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/arcwright/recall/internal/breaker"
	"github.com/arcwright/recall/internal/sqlitedb"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "selftest.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := sqlitedb.Init(context.Background(), db); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return New(t.TempDir(), db, breaker.NewRegistry(3, time.Minute))
}

func TestCheckMemoryReadWritePasses(t *testing.T) {
	r := newTestRunner(t)
	c := r.CheckMemoryReadWrite()
	if !c.Passed {
		t.Fatalf("expected pass, got %+v", c)
	}
}

func TestCheckDBAccessiblePasses(t *testing.T) {
	r := newTestRunner(t)
	c := r.CheckDBAccessible()
	if !c.Passed {
		t.Fatalf("expected pass, got %+v", c)
	}
}

func TestCheckEmbeddingsFreshFailsWhenEmpty(t *testing.T) {
	r := newTestRunner(t)
	c := r.CheckEmbeddingsFresh()
	if c.Passed {
		t.Fatalf("expected failure with no embeddings present, got %+v", c)
	}
}

func TestCheckEmbeddingsFreshPassesWithRecentRow(t *testing.T) {
	r := newTestRunner(t)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := r.DB.Exec(`INSERT INTO embedding_cache (content_hash, dim, vector, created_at, accessed_at) VALUES (?, ?, ?, ?, ?)`,
		"hash1", 2, []byte{0, 0, 0, 0, 0, 0, 0, 0}, now, now)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	c := r.CheckEmbeddingsFresh()
	if !c.Passed {
		t.Fatalf("expected pass with recent embedding, got %+v", c)
	}
}

func TestCheckSearchFunctionalPasses(t *testing.T) {
	r := newTestRunner(t)
	c := r.CheckSearchFunctional()
	if !c.Passed {
		t.Fatalf("expected pass, got %+v", c)
	}
}

func TestCheckBreakerStateFailsWhenOneIsOpen(t *testing.T) {
	r := newTestRunner(t)
	b := r.Breakers.Get("flaky-embedder")
	for i := 0; i < 5; i++ {
		b.RecordFailure(context.Background())
	}
	c := r.CheckBreakerState()
	if c.Passed {
		t.Fatalf("expected failure with an open breaker, got %+v", c)
	}
}

func TestCheckOrphanedFilesCountsMarkdownFiles(t *testing.T) {
	r := newTestRunner(t)
	c := r.CheckOrphanedFiles()
	if !c.Passed {
		t.Fatalf("expected pass even with zero files, got %+v", c)
	}
}

func TestRunAllAggregatesAllSixChecks(t *testing.T) {
	r := newTestRunner(t)
	rep := r.RunAll()
	if len(rep.Checks) != 6 {
		t.Fatalf("expected 6 checks, got %d", len(rep.Checks))
	}
	if rep.Summary == "" {
		t.Fatalf("expected non-empty summary")
	}
	if rep.Text() == "" {
		t.Fatalf("expected non-empty report text")
	}
}
