package regret

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/arcwright/recall/internal/sqlitedb"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "regret.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := sqlitedb.Init(context.Background(), db); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return db
}

func TestCheckDecisionNoHistoryReturnsNil(t *testing.T) {
	tracker := New(newTestDB(t))
	w, err := tracker.CheckDecision(context.Background(), "skip testing for speed", 2, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != nil {
		t.Fatalf("expected no warning with no history, got %+v", w)
	}
}

func TestCheckDecisionWarnsOnRepeatedRegret(t *testing.T) {
	ctx := context.Background()
	tracker := New(newTestDB(t))

	for i := 0; i < 3; i++ {
		if _, err := tracker.RecordDecision(ctx, "skip testing to hit the deadline", "process", OutcomeBad, true, "write tests first"); err != nil {
			t.Fatalf("record decision %d: %v", i, err)
		}
	}

	w, err := tracker.CheckDecision(ctx, "skip testing again for speed", 2, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w == nil {
		t.Fatalf("expected a warning")
	}
	if w.TotalOccurrences != 3 || w.RegretCount != 3 {
		t.Fatalf("expected 3/3, got %+v", w)
	}
	if !w.IsHighRisk() {
		t.Fatalf("expected high risk at 100%% regret rate")
	}
	if w.AlternativeSuggested != "write tests first" {
		t.Fatalf("expected alternative surfaced, got %q", w.AlternativeSuggested)
	}
}

func TestCheckDecisionSilentBelowThreshold(t *testing.T) {
	ctx := context.Background()
	tracker := New(newTestDB(t))

	if _, err := tracker.RecordDecision(ctx, "skip testing to hit the deadline", "process", OutcomeGood, false, ""); err != nil {
		t.Fatalf("record decision: %v", err)
	}
	if _, err := tracker.RecordDecision(ctx, "skip testing again for speed", "process", OutcomeGood, false, ""); err != nil {
		t.Fatalf("record decision: %v", err)
	}

	w, err := tracker.CheckDecision(ctx, "skip testing once more", 2, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != nil {
		t.Fatalf("expected no warning below regret rate threshold, got %+v", w)
	}
}

func TestFormatWarningEmptyForNil(t *testing.T) {
	if got := FormatWarning(nil); got != "" {
		t.Fatalf("expected empty string for nil warning, got %q", got)
	}
}

func TestGetSummaryAggregates(t *testing.T) {
	ctx := context.Background()
	tracker := New(newTestDB(t))

	if _, err := tracker.RecordDecision(ctx, "rush the release", "timeline", OutcomeBad, true, "slip by a week"); err != nil {
		t.Fatal(err)
	}
	if _, err := tracker.RecordDecision(ctx, "rush the release", "timeline", OutcomeBad, true, "slip by a week"); err != nil {
		t.Fatal(err)
	}
	if _, err := tracker.RecordDecision(ctx, "hire a contractor", "hiring", OutcomeGood, false, ""); err != nil {
		t.Fatal(err)
	}

	summary, err := tracker.GetSummary(ctx)
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	if summary.TotalDecisions != 3 || summary.TotalRegrets != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.TopRegretted) != 1 || summary.TopRegretted[0].Count != 2 {
		t.Fatalf("expected top regretted decision with count 2, got %+v", summary.TopRegretted)
	}
}
