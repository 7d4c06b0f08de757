// Package frustration detects recurring frustration patterns from
// recorded events, grounded on src/wild/frustration_archaeology.py.
// The Python original reads two tables (frustration_events plus a
// per-signal frustration_signals detail table) populated by an
// upstream FrustrationDetector that is out of scope here (Feature 55
// in the original numbering); this port collapses that shape to the
// single frustration_events table in spec §6, where each row already
// carries its own signal_type/evidence/severity, and clusters directly
// over those rows instead of a separate signals table.
package frustration

import (
	"context"
	"database/sql"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/arcwright/recall/internal/types"
	"github.com/google/uuid"
)

var tracer = otel.Tracer("github.com/arcwright/recall/frustration")

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {},
	"on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {},
	"from": {}, "is": {}, "it": {}, "this": {}, "that": {}, "was": {}, "are": {},
	"be": {}, "has": {}, "had": {}, "have": {}, "do": {}, "did": {}, "does": {},
	"not": {}, "no": {}, "so": {}, "if": {}, "as": {}, "up": {}, "out": {},
	"about": {}, "into": {}, "over": {}, "after": {}, "been": {}, "would": {},
	"could": {}, "should": {}, "will": {}, "can": {}, "may": {}, "than": {},
	"then": {}, "its": {}, "my": {}, "your": {}, "his": {}, "her": {}, "our": {},
	"their": {}, "which": {}, "what": {}, "when": {}, "where": {}, "who": {},
	"how": {}, "all": {}, "each": {}, "every": {}, "both": {}, "few": {},
	"more": {}, "most": {}, "other": {}, "some": {}, "such": {}, "only": {},
	"same": {}, "also": {}, "just": {}, "because": {}, "any": {}, "very": {},
	"too": {}, "here": {}, "there": {},
}

var tokenPattern = regexp.MustCompile(`[^a-zA-Z0-9]+`)
var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// Recommendations mirrors RECOMMENDATIONS: a canned suggestion per
// signal type, with DefaultRecommendation as the fallback.
var Recommendations = map[string]string{
	"repeated_correction": "Consider adding a reference doc or rule to prevent this recurring correction pattern.",
	"topic_cycling":       "This topic keeps resurfacing without resolution. Schedule a focused session to resolve it definitively.",
	"negative_sentiment":  "Recurring frustration with this area. Consider whether the tooling or process needs to change.",
	"high_velocity":       "Rapid-fire corrections suggest a fundamental misunderstanding. Create a reference document for this domain.",
}

const DefaultRecommendation = "Review this pattern and consider process or tooling changes to prevent recurrence."

var typeLabels = map[string]string{
	"repeated_correction": "Repeated correction",
	"topic_cycling":       "Topic cycling",
	"negative_sentiment":  "Negative sentiment",
	"high_velocity":       "High velocity",
}

// Tracker records frustration events and mines them for patterns.
type Tracker struct {
	db *sql.DB
}

// New wraps db, which must already have the frustration_events table.
func New(db *sql.DB) *Tracker {
	return &Tracker{db: db}
}

// RecordEvent persists one frustration signal.
func (t *Tracker) RecordEvent(ctx context.Context, signalType, evidence string, severity float64) (string, error) {
	id := uuid.NewString()
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO frustration_events (id, signal_type, evidence, severity, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, signalType, evidence, severity, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", types.WrapError("frustration.RecordEvent", types.ErrIO, err)
	}
	return id, nil
}

type event struct {
	id         string
	signalType string
	evidence   string
	severity   float64
	createdAt  time.Time
	keywords   map[string]struct{}
}

// Pattern is one cluster of related frustration events, matching
// FrustrationPattern.
type Pattern struct {
	PatternName    string
	SignalType     string
	EventCount     int
	AvgSeverity    float64
	CommonSignals  []string
	DateRange      string
	Recommendation string
	EventIDs       []string
}

// Analyze queries every frustration event recorded in the last `days`
// days, groups them by signal_type, sub-clusters within each group by
// evidence keyword overlap (single-linkage, Jaccard > 0.5), and
// returns one Pattern per cluster sorted by event count descending.
func (t *Tracker) Analyze(ctx context.Context, days int) ([]Pattern, error) {
	ctx, span := tracer.Start(ctx, "frustration.analyze")
	defer span.End()

	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	rows, err := t.db.QueryContext(ctx, `
		SELECT id, signal_type, evidence, severity, created_at
		FROM frustration_events WHERE created_at >= ?
		ORDER BY created_at ASC
	`, cutoff)
	if err != nil {
		return nil, types.WrapError("frustration.Analyze", types.ErrIO, err)
	}
	defer rows.Close()

	bySignal := make(map[string][]event)
	for rows.Next() {
		var e event
		var createdAt string
		if err := rows.Scan(&e.id, &e.signalType, &e.evidence, &e.severity, &createdAt); err != nil {
			return nil, types.WrapError("frustration.Analyze", types.ErrIO, err)
		}
		e.createdAt, _ = time.Parse(time.RFC3339, createdAt)
		e.keywords = extractKeywords(e.evidence)
		bySignal[e.signalType] = append(bySignal[e.signalType], e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapError("frustration.Analyze", types.ErrIO, err)
	}

	var patterns []Pattern
	for signalType, events := range bySignal {
		for _, cluster := range clusterByEvidence(events) {
			patterns = append(patterns, buildPattern(signalType, cluster))
		}
	}
	sort.SliceStable(patterns, func(i, j int) bool { return patterns[i].EventCount > patterns[j].EventCount })
	return patterns, nil
}

func extractKeywords(text string) map[string]struct{} {
	keywords := make(map[string]struct{})
	if text == "" {
		return keywords
	}
	for _, tok := range tokenPattern.Split(strings.ToLower(text), -1) {
		if len(tok) < 3 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if digitsOnly.MatchString(tok) {
			continue
		}
		keywords[tok] = struct{}{}
	}
	return keywords
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0.0
	}
	return float64(inter) / float64(union)
}

// clusterByEvidence groups events (already filtered to one signal
// type) by single-linkage clustering on keyword Jaccard similarity,
// matching _cluster_by_evidence.
func clusterByEvidence(events []event) [][]event {
	if len(events) <= 1 {
		if len(events) == 1 {
			return [][]event{events}
		}
		return nil
	}

	var clusters [][]int
	for i := range events {
		merged := false
		for ci, cluster := range clusters {
			for _, j := range cluster {
				if jaccard(events[i].keywords, events[j].keywords) > 0.5 {
					clusters[ci] = append(clusters[ci], i)
					merged = true
					break
				}
			}
			if merged {
				break
			}
		}
		if !merged {
			clusters = append(clusters, []int{i})
		}
	}

	out := make([][]event, len(clusters))
	for i, idxs := range clusters {
		members := make([]event, len(idxs))
		for j, idx := range idxs {
			members[j] = events[idx]
		}
		out[i] = members
	}
	return out
}

func buildPattern(signalType string, cluster []event) Pattern {
	var sum float64
	evidenceCounts := make(map[string]int)
	var evidenceOrder []string
	var ids []string
	for _, e := range cluster {
		sum += e.severity
		if _, ok := evidenceCounts[e.evidence]; !ok {
			evidenceOrder = append(evidenceOrder, e.evidence)
		}
		evidenceCounts[e.evidence]++
		ids = append(ids, e.id)
	}
	sort.SliceStable(evidenceOrder, func(i, j int) bool {
		return evidenceCounts[evidenceOrder[i]] > evidenceCounts[evidenceOrder[j]]
	})
	common := evidenceOrder
	if len(common) > 3 {
		common = common[:3]
	}
	if len(common) == 0 {
		common = []string{"No evidence recorded"}
	}

	recommendation, ok := Recommendations[signalType]
	if !ok {
		recommendation = DefaultRecommendation
	}

	return Pattern{
		PatternName:    patternName(signalType, common),
		SignalType:     signalType,
		EventCount:     len(cluster),
		AvgSeverity:    roundTo(sum/float64(len(cluster)), 3),
		CommonSignals:  common,
		DateRange:      dateRange(cluster),
		Recommendation: recommendation,
		EventIDs:       ids,
	}
}

func patternName(signalType string, common []string) string {
	label, ok := typeLabels[signalType]
	if !ok {
		label = strings.ReplaceAll(signalType, "_", " ")
	}
	if len(common) == 0 {
		return label
	}
	excerpt := common[0]
	if len(excerpt) > 50 {
		excerpt = excerpt[:47] + "..."
	}
	return label + ": " + excerpt
}

func dateRange(cluster []event) string {
	var earliest, latest time.Time
	for i, e := range cluster {
		if e.createdAt.IsZero() {
			continue
		}
		if i == 0 || e.createdAt.Before(earliest) {
			earliest = e.createdAt
		}
		if e.createdAt.After(latest) {
			latest = e.createdAt
		}
	}
	if earliest.IsZero() {
		return "Unknown"
	}
	if earliest.Format("2006-01-02") == latest.Format("2006-01-02") {
		return earliest.Format("Jan 2, 2006")
	}
	if earliest.Year() == latest.Year() {
		if earliest.Month() == latest.Month() {
			return earliest.Format("Jan 2") + " - " + latest.Format("2, 2006")
		}
		return earliest.Format("Jan 2") + " - " + latest.Format("Jan 2, 2006")
	}
	return earliest.Format("Jan 2, 2006") + " - " + latest.Format("Jan 2, 2006")
}

func roundTo(v float64, places int) float64 {
	mult := 1.0
	for i := 0; i < places; i++ {
		mult *= 10
	}
	return float64(int64(v*mult+0.5)) / mult
}

// GenerateReport renders patterns as a markdown weekly-review report,
// matching generate_report.
func GenerateReport(patterns []Pattern) string {
	var b strings.Builder
	b.WriteString("# Frustration archaeology -- last 90 days\n\n")
	if len(patterns) == 0 {
		b.WriteString("No frustration patterns detected.")
		return b.String()
	}

	total := 0
	for _, p := range patterns {
		total += p.EventCount
	}
	b.WriteString(strconv.Itoa(total) + " events clustered into " + strconv.Itoa(len(patterns)) + " patterns\n\n")

	for i, p := range patterns {
		b.WriteString("## Pattern " + strconv.Itoa(i+1) + ": " + p.PatternName + " (" + strconv.Itoa(p.EventCount) + " events)\n\n")
		b.WriteString("- Type: " + p.SignalType + "\n")
		b.WriteString("- Severity: " + strconv.FormatFloat(p.AvgSeverity, 'f', 1, 64) + "/1.0\n")
		b.WriteString("- Period: " + p.DateRange + "\n")
		b.WriteString("- Common triggers: " + strings.Join(p.CommonSignals, ", ") + "\n")
		b.WriteString("- Recommendation: " + p.Recommendation + "\n\n")
	}
	return b.String()
}
