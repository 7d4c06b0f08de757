// Package graph implements the relationship graph of spec §4.E:
// typed directed edges between memories, related-memory lookup,
// BFS causal chains, and contradiction detection. Grounded on
// src/intelligence/relationship_mapper.py.
package graph

import (
	"context"
	"crypto/md5" //nolint:gosec // edge id only needs to be a stable short digest, not cryptographic
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/arcwright/recall/internal/types"
)

var tracer = otel.Tracer("github.com/arcwright/recall/graph")

// Graph stores relationship edges in the relationships table owned by
// internal/sqlitedb.
type Graph struct {
	db *sql.DB
}

// New wraps db, which must already have the relationships table (see
// internal/sqlitedb.Init).
func New(db *sql.DB) *Graph {
	return &Graph{db: db}
}

func edgeID(fromID, toID string, kind types.RelationshipKind) string {
	sum := md5.Sum([]byte(fromID + toID + string(kind))) //nolint:gosec
	return hex.EncodeToString(sum[:])[:16]
}

// Link creates a directed edge, idempotently (INSERT OR IGNORE on the
// from/to/kind unique key, matching the Python original).
func (g *Graph) Link(ctx context.Context, fromID, toID string, kind types.RelationshipKind, strength float64, evidence string) (string, error) {
	ctx, span := tracer.Start(ctx, "graph.link")
	defer span.End()

	if _, ok := types.ValidRelationshipKinds[kind]; !ok {
		return "", types.WrapError("link memories", types.ErrInput, fmt.Errorf("invalid relationship kind %q", kind))
	}
	if strength < 0 || strength > 1 {
		return "", types.WrapError("link memories", types.ErrInput, fmt.Errorf("strength %v out of range", strength))
	}

	id := edgeID(fromID, toID, kind)
	_, err := g.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO relationships
		(id, from_id, to_id, kind, strength, evidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, fromID, toID, string(kind), strength, evidence, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", types.WrapError("link memories", types.ErrIO, err)
	}
	return id, nil
}

// Related is one relationship edge paired with the id of the memory on
// the other end from the one queried.
type Related struct {
	MemoryID string
	Edge     types.RelationshipEdge
}

// GetRelated returns every edge touching memoryID, optionally filtered
// by kind and direction, ordered by strength desc then recency desc.
func (g *Graph) GetRelated(ctx context.Context, memoryID string, kind types.RelationshipKind, dir types.Direction) ([]Related, error) {
	ctx, span := tracer.Start(ctx, "graph.get_related")
	defer span.End()

	var where string
	args := []any{}
	switch dir {
	case types.DirectionFrom:
		where = "from_id = ?"
		args = append(args, memoryID)
	case types.DirectionTo:
		where = "to_id = ?"
		args = append(args, memoryID)
	default:
		where = "(from_id = ? OR to_id = ?)"
		args = append(args, memoryID, memoryID)
	}
	if kind != "" {
		where += " AND kind = ?"
		args = append(args, string(kind))
	}

	rows, err := g.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, from_id, to_id, kind, strength, evidence, created_at
		FROM relationships WHERE %s
		ORDER BY strength DESC, created_at DESC
	`, where), args...)
	if err != nil {
		return nil, types.WrapError("get related memories", types.ErrIO, err)
	}
	defer rows.Close()

	var out []Related
	for rows.Next() {
		var e types.RelationshipEdge
		var kindStr, createdAt string
		if err := rows.Scan(&e.ID, &e.FromID, &e.ToID, &kindStr, &e.Strength, &e.Evidence, &createdAt); err != nil {
			return nil, types.WrapError("scan relationship row", types.ErrIO, err)
		}
		e.Kind = types.RelationshipKind(kindStr)
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

		related := e.ToID
		if e.ToID == memoryID {
			related = e.FromID
		}
		out = append(out, Related{MemoryID: related, Edge: e})
	}
	return out, types.WrapError("iterate relationship rows", types.ErrIO, rows.Err())
}

// FindCausalChain runs a breadth-first search over "causal" edges from
// startID looking for endID, returning the shortest chain of memory ids
// (inclusive of both ends) or nil if no chain of at most maxDepth ids
// (maxDepth-1 hops) exists.
func (g *Graph) FindCausalChain(ctx context.Context, startID, endID string, maxDepth int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "graph.find_causal_chain")
	defer span.End()

	if maxDepth <= 0 {
		maxDepth = 5
	}

	type node struct {
		id   string
		path []string
	}
	queue := []node{{id: startID, path: []string{startID}}}
	visited := map[string]struct{}{startID: {}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if len(cur.path) > maxDepth {
			continue
		}
		if cur.id == endID {
			return cur.path, nil
		}

		related, err := g.GetRelated(ctx, cur.id, types.RelationCausal, types.DirectionFrom)
		if err != nil {
			return nil, err
		}
		for _, r := range related {
			if _, seen := visited[r.MemoryID]; seen {
				continue
			}
			visited[r.MemoryID] = struct{}{}
			next := make([]string, len(cur.path)+1)
			copy(next, cur.path)
			next[len(cur.path)] = r.MemoryID
			queue = append(queue, node{id: r.MemoryID, path: next})
		}
	}
	return nil, nil
}

// DetectContradictions returns every memory that contradicts memoryID.
func (g *Graph) DetectContradictions(ctx context.Context, memoryID string) ([]Related, error) {
	return g.GetRelated(ctx, memoryID, types.RelationContradicts, types.DirectionBoth)
}

// Stats summarizes the relationship graph.
type Stats struct {
	Total  int
	ByKind map[types.RelationshipKind]int
}

// GetStats returns total edge count and a per-kind breakdown.
func (g *Graph) GetStats(ctx context.Context) (Stats, error) {
	ctx, span := tracer.Start(ctx, "graph.get_stats")
	defer span.End()

	stats := Stats{ByKind: make(map[types.RelationshipKind]int)}
	if err := g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relationships`).Scan(&stats.Total); err != nil {
		return stats, types.WrapError("get relationship stats", types.ErrIO, err)
	}

	rows, err := g.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM relationships GROUP BY kind`)
	if err != nil {
		return stats, types.WrapError("get relationship stats by kind", types.ErrIO, err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return stats, types.WrapError("scan relationship stats row", types.ErrIO, err)
		}
		stats.ByKind[types.RelationshipKind(kind)] = count
	}
	return stats, types.WrapError("iterate relationship stats rows", types.ErrIO, rows.Err())
}
