package frustration

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
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "frustration.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := sqlitedb.Init(context.Background(), db); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return db
}

func TestAnalyzeNoEventsReturnsEmpty(t *testing.T) {
	tracker := New(newTestDB(t))
	patterns, err := tracker.Analyze(context.Background(), 90)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patterns) != 0 {
		t.Fatalf("expected no patterns, got %v", patterns)
	}
}

func TestAnalyzeClustersSimilarEvidence(t *testing.T) {
	ctx := context.Background()
	tracker := New(newTestDB(t))

	for i := 0; i < 3; i++ {
		if _, err := tracker.RecordEvent(ctx, "repeated_correction", "webflow css grid layout broken again", 0.7); err != nil {
			t.Fatalf("record event %d: %v", i, err)
		}
	}
	if _, err := tracker.RecordEvent(ctx, "repeated_correction", "totally unrelated database migration issue", 0.6); err != nil {
		t.Fatalf("record unrelated event: %v", err)
	}

	patterns, err := tracker.Analyze(ctx, 90)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("expected 2 clusters (3 similar + 1 distinct), got %d: %+v", len(patterns), patterns)
	}
	if patterns[0].EventCount != 3 {
		t.Fatalf("expected largest cluster first with 3 events, got %+v", patterns[0])
	}
	if patterns[0].Recommendation == "" {
		t.Fatalf("expected a recommendation to be attached")
	}
}

func TestAnalyzeUnknownSignalUsesDefaultRecommendation(t *testing.T) {
	ctx := context.Background()
	tracker := New(newTestDB(t))

	if _, err := tracker.RecordEvent(ctx, "mystery_signal", "something weird happened", 0.5); err != nil {
		t.Fatalf("record event: %v", err)
	}

	patterns, err := tracker.Analyze(ctx, 90)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(patterns))
	}
	if patterns[0].Recommendation != DefaultRecommendation {
		t.Fatalf("expected default recommendation for unknown signal type, got %q", patterns[0].Recommendation)
	}
}

func TestGenerateReportEmpty(t *testing.T) {
	report := GenerateReport(nil)
	if report == "" {
		t.Fatalf("expected non-empty report even with no patterns")
	}
}

func TestGenerateReportIncludesPatternDetails(t *testing.T) {
	patterns := []Pattern{{
		PatternName:    "Repeated correction: css grid",
		SignalType:     "repeated_correction",
		EventCount:     3,
		AvgSeverity:    0.7,
		CommonSignals:  []string{"css grid broken"},
		DateRange:      "Jan 1, 2026",
		Recommendation: "Consider adding a reference doc.",
	}}
	report := GenerateReport(patterns)
	if report == "" {
		t.Fatalf("expected non-empty report")
	}
}
