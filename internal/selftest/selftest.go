// Package selftest implements the six-probe health battery of spec §4.I,
// grounded on src/self_test.py: a read/write round-trip, relational
// schema presence, embedding freshness, a search sanity check, circuit
// breaker health, and a memory-file inventory.
package selftest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/arcwright/recall/internal/breaker"
	"github.com/arcwright/recall/internal/scoring"
	"github.com/arcwright/recall/internal/sqlitedb"
	"github.com/arcwright/recall/internal/types"
)

// Check is the outcome of a single probe.
type Check struct {
	Name       string
	Passed     bool
	Message    string
	DurationMS float64
}

// Report aggregates every probe's outcome.
type Report struct {
	Passed          bool
	Checks          []Check
	TotalDurationMS float64
	Summary         string
	Timestamp       time.Time
}

// Runner executes the probe battery against a live runtime.
type Runner struct {
	StoreRoot string
	DB        *sql.DB
	Breakers  *breaker.Registry
}

// New returns a Runner wired against the given storage root, relational
// database, and breaker registry.
func New(storeRoot string, db *sql.DB, breakers *breaker.Registry) *Runner {
	return &Runner{StoreRoot: storeRoot, DB: db, Breakers: breakers}
}

func timed(name string, fn func() (bool, string)) Check {
	t0 := time.Now()
	passed, msg := fn()
	return Check{Name: name, Passed: passed, Message: msg, DurationMS: msToMillis(time.Since(t0))}
}

func msToMillis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

// CheckMemoryReadWrite writes a probe file to a scratch directory and
// reads it back, verifying the filesystem store's write path is
// healthy without touching real data.
func (r *Runner) CheckMemoryReadWrite() Check {
	return timed("memory_readwrite", func() (bool, string) {
		dir, err := os.MkdirTemp("", "recall-selftest-*")
		if err != nil {
			return false, fmt.Sprintf("could not create scratch dir: %v", err)
		}
		defer os.RemoveAll(dir)

		payload := "---\nid: selftest-probe\n---\nself-test OK"
		path := filepath.Join(dir, "selftest-probe.md")
		if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
			return false, fmt.Sprintf("write failed: %v", err)
		}
		readback, err := os.ReadFile(path)
		if err != nil {
			return false, fmt.Sprintf("read failed: %v", err)
		}
		if string(readback) != payload {
			return false, "read-back mismatch"
		}
		return true, "write and read-back OK"
	})
}

// CheckDBAccessible verifies every table sqlitedb.Init creates is
// present in the relational database.
func (r *Runner) CheckDBAccessible() Check {
	return timed("db_accessible", func() (bool, string) {
		if r.DB == nil {
			return false, "no database configured"
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		rows, err := r.DB.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
		if err != nil {
			return false, fmt.Sprintf("db locked or corrupt: %v", err)
		}
		defer rows.Close()

		found := make(map[string]bool)
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return false, fmt.Sprintf("unexpected error: %v", err)
			}
			found[name] = true
		}

		var missing []string
		for _, want := range sqlitedb.ExpectedTables {
			if !found[want] {
				missing = append(missing, want)
			}
		}
		if len(missing) > 0 {
			return false, fmt.Sprintf("missing tables: %v", missing)
		}
		return true, fmt.Sprintf("db accessible, %d tables found", len(found))
	})
}

// CheckEmbeddingsFresh verifies the embedding cache has entries created
// within the last 7 days.
func (r *Runner) CheckEmbeddingsFresh() Check {
	return timed("embeddings_fresh", func() (bool, string) {
		if r.DB == nil {
			return false, "no database configured"
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		cutoff := time.Now().Add(-7 * 24 * time.Hour).Format(time.RFC3339Nano)
		var count int
		err := r.DB.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM embedding_cache WHERE created_at > ?`, cutoff).Scan(&count)
		if err != nil {
			return false, fmt.Sprintf("db error: %v", err)
		}
		if count == 0 {
			return false, "no embeddings created in last 7 days"
		}
		return true, fmt.Sprintf("%d embeddings created in last 7 days", count)
	})
}

// CheckSearchFunctional runs BM25 ranking against a tiny fixed corpus
// to verify the scoring pipeline itself is wired correctly, independent
// of any live data.
func (r *Runner) CheckSearchFunctional() Check {
	return timed("search_functional", func() (bool, string) {
		docs := []scoring.Document{
			{ID: "1", Text: "Go memory management techniques"},
			{ID: "2", Text: "JavaScript async patterns"},
			{ID: "3", Text: "Database indexing strategies"},
		}
		hits := scoring.RankBM25("memory", docs)
		if len(hits) != 1 || hits[0].ID != "1" {
			return false, fmt.Sprintf("search returned unexpected results: %v", hits)
		}
		return true, "bm25 search functioning"
	})
}

// CheckBreakerState verifies no registered breaker is currently OPEN.
func (r *Runner) CheckBreakerState() Check {
	return timed("circuit_breaker_state", func() (bool, string) {
		if r.Breakers == nil {
			return true, "no breaker registry configured"
		}
		var open []string
		for name, state := range r.Breakers.Snapshot() {
			if state == types.BreakerOpen {
				open = append(open, name)
			}
		}
		if len(open) > 0 {
			return false, fmt.Sprintf("open circuit breakers: %v", open)
		}
		return true, "no open circuit breakers"
	})
}

// CheckOrphanedFiles counts memory files under the store root, as a
// coarse inventory sanity check rather than a pass/fail gate.
func (r *Runner) CheckOrphanedFiles() Check {
	return timed("orphaned_files", func() (bool, string) {
		if r.StoreRoot == "" {
			return false, "no store root configured"
		}
		if _, err := os.Stat(r.StoreRoot); os.IsNotExist(err) {
			return false, fmt.Sprintf("memory directory not found: %s", r.StoreRoot)
		}

		count := 0
		err := filepath.WalkDir(r.StoreRoot, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && filepath.Ext(path) == ".md" {
				count++
			}
			return nil
		})
		if err != nil {
			return false, fmt.Sprintf("unexpected error: %v", err)
		}
		return true, fmt.Sprintf("%d memory files found", count)
	})
}

// RunAll executes all six probes and aggregates them into a Report.
func (r *Runner) RunAll() Report {
	t0 := time.Now()
	checks := []Check{
		r.CheckMemoryReadWrite(),
		r.CheckDBAccessible(),
		r.CheckEmbeddingsFresh(),
		r.CheckSearchFunctional(),
		r.CheckBreakerState(),
		r.CheckOrphanedFiles(),
	}

	passedCount := 0
	for _, c := range checks {
		if c.Passed {
			passedCount++
		}
	}

	return Report{
		Passed:          passedCount == len(checks),
		Checks:          checks,
		TotalDurationMS: msToMillis(time.Since(t0)),
		Summary:         fmt.Sprintf("%d/%d checks passed", passedCount, len(checks)),
		Timestamp:       time.Now(),
	}
}

// Text renders a Report as human-readable text.
func (rep Report) Text() string {
	out := "=== recall self-test report ===\n"
	out += fmt.Sprintf("Timestamp: %s\n", rep.Timestamp.Format(time.RFC3339))
	out += fmt.Sprintf("Result: %s\n\n", rep.Summary)
	for _, c := range rep.Checks {
		status := "PASS"
		if !c.Passed {
			status = "FAIL"
		}
		out += fmt.Sprintf("  [%s] %s: %s (%.2fms)\n", status, c.Name, c.Message, c.DurationMS)
	}
	out += fmt.Sprintf("\nTotal duration: %.2fms\n", rep.TotalDurationMS)
	overall := "ALL CHECKS PASSED"
	if !rep.Passed {
		overall = "SOME CHECKS FAILED"
	}
	out += fmt.Sprintf("Overall: %s\n", overall)
	return out
}
