package graph

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/arcwright/recall/internal/sqlitedb"
	"github.com/arcwright/recall/internal/types"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := sqlitedb.Init(context.Background(), db); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return New(db)
}

func TestLinkIsIdempotent(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	id1, err := g.Link(ctx, "a", "b", types.RelationCausal, 0.8, "a causes b")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	id2, err := g.Link(ctx, "a", "b", types.RelationCausal, 0.9, "duplicate insert")
	if err != nil {
		t.Fatalf("link again: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same edge id for repeated link, got %q vs %q", id1, id2)
	}

	related, err := g.GetRelated(ctx, "a", "", types.DirectionBoth)
	if err != nil {
		t.Fatalf("get related: %v", err)
	}
	if len(related) != 1 {
		t.Fatalf("expected exactly one edge despite duplicate insert, got %d", len(related))
	}
}

func TestLinkRejectsInvalidKind(t *testing.T) {
	g := newTestGraph(t)
	if _, err := g.Link(context.Background(), "a", "b", types.RelationshipKind("nonsense"), 0.5, ""); err == nil {
		t.Fatalf("expected error for invalid relationship kind")
	}
}

func TestFindCausalChainBFS(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("link: %v", err)
		}
	}
	_, err := g.Link(ctx, "a", "b", types.RelationCausal, 1, "")
	must(err)
	_, err = g.Link(ctx, "b", "c", types.RelationCausal, 1, "")
	must(err)
	_, err = g.Link(ctx, "a", "z", types.RelationCausal, 1, "")
	must(err)

	chain, err := g.FindCausalChain(ctx, "a", "c", 5)
	if err != nil {
		t.Fatalf("find chain: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(chain) != len(want) {
		t.Fatalf("expected chain %v, got %v", want, chain)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Fatalf("expected chain %v, got %v", want, chain)
		}
	}

	none, err := g.FindCausalChain(ctx, "c", "a", 5)
	if err != nil {
		t.Fatalf("find chain reverse: %v", err)
	}
	if none != nil {
		t.Fatalf("expected no path in reverse causal direction, got %v", none)
	}
}

func TestDetectContradictions(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	if _, err := g.Link(ctx, "a", "b", types.RelationContradicts, 0.7, "conflicting claims"); err != nil {
		t.Fatalf("link: %v", err)
	}

	found, err := g.DetectContradictions(ctx, "b")
	if err != nil {
		t.Fatalf("detect contradictions: %v", err)
	}
	if len(found) != 1 || found[0].MemoryID != "a" {
		t.Fatalf("expected contradiction with a, got %v", found)
	}
}
