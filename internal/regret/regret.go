// Package regret implements the proactive decision-regret warning loop,
// grounded on src/decision_regret_loop.py: record a decision's outcome,
// then before a similar decision is made again, fuzzy-match it against
// history and warn if it was regretted often enough in the past.
// Spec §3 treats this as a derived view with no invariants beyond "the
// underlying records exist and are active"; §6 names decision_outcomes
// and its regret_detected index explicitly among the required
// relational state.
package regret

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/arcwright/recall/internal/types"
	"github.com/google/uuid"
)

var tracer = otel.Tracer("github.com/arcwright/recall/regret")

// stopWords mirrors _STOP_WORDS in decision_regret_loop.py, trimmed to
// the entries that matter for short decision sentences.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "being": {}, "have": {}, "has": {}, "had": {},
	"do": {}, "does": {}, "did": {}, "will": {}, "would": {}, "could": {},
	"should": {}, "may": {}, "might": {}, "can": {}, "shall": {}, "to": {},
	"of": {}, "in": {}, "for": {}, "on": {}, "with": {}, "at": {}, "by": {},
	"from": {}, "as": {}, "into": {}, "about": {}, "like": {}, "through": {},
	"after": {}, "before": {}, "between": {}, "out": {}, "up": {}, "down": {},
	"if": {}, "or": {}, "and": {}, "but": {}, "not": {}, "no": {}, "so": {},
	"than": {}, "too": {}, "very": {}, "just": {}, "that": {}, "this": {},
	"it": {}, "its": {}, "my": {}, "we": {}, "our": {}, "let": {}, "us": {},
	"me": {}, "all": {}, "each": {}, "every": {}, "both": {}, "few": {},
	"more": {}, "some": {}, "any": {}, "most": {}, "other": {}, "new": {},
	"old": {}, "also": {},
}

var wordPattern = regexp.MustCompile(`[a-zA-Z]+`)

// extractKeywords mirrors _extract_keywords: lowercase words of length
// >= 3, stop words removed, deduped in first-seen order, capped at 5.
func extractKeywords(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]struct{})
	var out []string
	for _, w := range words {
		if len(w) < 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
		if len(out) == 5 {
			break
		}
	}
	return out
}

// Outcome is the recorded result of one past decision.
type Outcome string

const (
	OutcomeGood Outcome = "good"
	OutcomeBad  Outcome = "bad"
	OutcomeMixed Outcome = "mixed"
)

// Tracker records decision outcomes and checks new decisions against
// the accumulated history.
type Tracker struct {
	db *sql.DB
}

// New wraps db, which must already have the decision_outcomes table.
func New(db *sql.DB) *Tracker {
	return &Tracker{db: db}
}

// RecordDecision persists one decision's content, category, outcome,
// whether it was regretted, and any alternative considered.
func (t *Tracker) RecordDecision(ctx context.Context, content, category string, outcome Outcome, regretted bool, alternative string) (string, error) {
	id := uuid.NewString()
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO decision_outcomes (id, decision_content, category, outcome, regret_detected, alternative, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, content, category, string(outcome), boolToInt(regretted), alternative, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", types.WrapError("regret.RecordDecision", types.ErrIO, err)
	}
	return id, nil
}

// Warning reports a decision's regret history, matching RegretWarning.
type Warning struct {
	Decision             string
	TotalOccurrences     int
	RegretCount          int
	RegretRate           float64
	WorstOutcome         string
	AlternativeSuggested string
}

// IsHighRisk reports whether w's regret rate is 50% or higher.
func (w Warning) IsHighRisk() bool { return w.RegretRate >= 0.5 }

// CheckDecision fuzzy-matches decisionText's keywords against recorded
// history and returns a Warning when at least minOccurrences past
// decisions share a keyword and at least minRegretRate of them were
// regretted. Returns (nil, nil) — not an error — when no pattern
// clears the thresholds, matching the Python original's "warn or stay
// silent" contract.
func (t *Tracker) CheckDecision(ctx context.Context, decisionText string, minOccurrences int, minRegretRate float64) (*Warning, error) {
	ctx, span := tracer.Start(ctx, "regret.check_decision")
	defer span.End()

	keywords := extractKeywords(decisionText)
	if len(keywords) == 0 {
		return nil, nil
	}

	clauses := make([]string, len(keywords))
	args := make([]any, len(keywords))
	for i, kw := range keywords {
		clauses[i] = "decision_content LIKE ?"
		args[i] = "%" + kw + "%"
	}
	query := `
		SELECT decision_content, outcome, regret_detected, alternative
		FROM decision_outcomes WHERE ` + strings.Join(clauses, " OR ") + `
		ORDER BY created_at DESC
	`
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.WrapError("regret.CheckDecision", types.ErrIO, err)
	}
	defer rows.Close()

	var total, regrets int
	var worstOutcome, alternative string
	for rows.Next() {
		var content, outcome, alt string
		var regretted int
		if err := rows.Scan(&content, &outcome, &regretted, &alt); err != nil {
			return nil, types.WrapError("regret.CheckDecision", types.ErrIO, err)
		}
		total++
		if regretted != 0 {
			regrets++
			if alternative == "" && alt != "" {
				alternative = alt
			}
		}
		if worstOutcome == "" && outcome == string(OutcomeBad) {
			worstOutcome = content
		}
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapError("regret.CheckDecision", types.ErrIO, err)
	}

	if total < minOccurrences {
		return nil, nil
	}
	rate := roundTo(float64(regrets)/float64(total), 2)
	if rate < minRegretRate {
		return nil, nil
	}

	return &Warning{
		Decision:             decisionText,
		TotalOccurrences:     total,
		RegretCount:          regrets,
		RegretRate:           rate,
		WorstOutcome:         worstOutcome,
		AlternativeSuggested: alternative,
	}, nil
}

// FormatWarning renders w as human-readable text, or "" for a nil
// Warning — matching format_regret_warning's degrade-to-empty-string
// contract for the notification adapter.
func FormatWarning(w *Warning) string {
	if w == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Regret warning: you've made this call %d times. %d times you regretted it (%.0f%% regret rate).",
		w.TotalOccurrences, w.RegretCount, w.RegretRate*100)
	if w.AlternativeSuggested != "" {
		b.WriteString("\n  Consider instead: " + w.AlternativeSuggested)
	}
	if w.WorstOutcome != "" {
		b.WriteString("\n  Previous bad outcome: " + w.WorstOutcome)
	}
	return b.String()
}

// Summary aggregates regret statistics across every recorded decision.
type Summary struct {
	TotalDecisions int
	TotalRegrets   int
	RegretRate     float64
	TopRegretted   []TopRegret
}

// TopRegret is one entry of Summary.TopRegretted.
type TopRegret struct {
	Decision string
	Count    int
}

// GetSummary aggregates totals and the five most frequently regretted
// decisions by exact content match.
func (t *Tracker) GetSummary(ctx context.Context) (Summary, error) {
	var total, regrets sql.NullInt64
	err := t.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(CASE WHEN regret_detected != 0 THEN 1 ELSE 0 END)
		FROM decision_outcomes
	`).Scan(&total, &regrets)
	if err != nil {
		return Summary{}, types.WrapError("regret.GetSummary", types.ErrIO, err)
	}

	summary := Summary{TotalDecisions: int(total.Int64), TotalRegrets: int(regrets.Int64)}
	if summary.TotalDecisions > 0 {
		summary.RegretRate = roundTo(float64(summary.TotalRegrets)/float64(summary.TotalDecisions), 2)
	}

	rows, err := t.db.QueryContext(ctx, `
		SELECT decision_content, COUNT(*) as c FROM decision_outcomes
		WHERE regret_detected != 0
		GROUP BY decision_content ORDER BY c DESC LIMIT 5
	`)
	if err != nil {
		return Summary{}, types.WrapError("regret.GetSummary", types.ErrIO, err)
	}
	defer rows.Close()
	for rows.Next() {
		var tr TopRegret
		if err := rows.Scan(&tr.Decision, &tr.Count); err != nil {
			return Summary{}, types.WrapError("regret.GetSummary", types.ErrIO, err)
		}
		summary.TopRegretted = append(summary.TopRegretted, tr)
	}
	return summary, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func roundTo(v float64, places int) float64 {
	mult := 1.0
	for i := 0; i < places; i++ {
		mult *= 10
	}
	return float64(int64(v*mult+0.5)) / mult
}

