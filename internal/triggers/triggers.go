// Package triggers extracts and manages prospective memory triggers
// (spec §4.I): regex-based intent extraction from conversation text,
// classification into time/event/topic kinds, context matching, and
// the fire/dismiss/expire lifecycle. Grounded on
// src/prospective_triggers.py.
package triggers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"go.opentelemetry.io/otel"

	"github.com/arcwright/recall/internal/types"
)

var tracer = otel.Tracer("github.com/arcwright/recall/triggers")

// nlDateParser resolves phrases like "next tuesday" or "in three weeks"
// that the hand-rolled keyword matching below doesn't cover. It tries
// first; the keyword matching stays as a fallback for phrasing it
// misses (bare "tomorrow"/"next week" still go through both paths).
var nlDateParser = newNaturalLanguageDateParser()

func newNaturalLanguageDateParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// patterns mirrors TRIGGER_PATTERNS: regexes that signal prospective
// intent in free text, each capturing the acted-on phrase in group 1.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)next time (?:we |I |you )?(.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)remember to (.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)don'?t forget (?:to )?(.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)when we (?:get to|start|work on) (.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)note for (?:when|next|future) (.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)TODO:? (.+?)(?:\.|$)`),
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "to": {}, "of": {}, "in": {}, "on": {}, "at": {}, "for": {}, "and": {}, "or": {},
	"but": {}, "is": {}, "it": {}, "be": {}, "do": {}, "we": {}, "i": {}, "you": {}, "he": {}, "she": {}, "they": {},
	"this": {}, "that": {}, "with": {}, "from": {}, "as": {}, "by": {}, "not": {}, "if": {}, "so": {}, "up": {},
	"out": {}, "my": {}, "our": {}, "your": {}, "its": {}, "was": {}, "are": {}, "has": {}, "had": {}, "have": {},
	"will": {}, "can": {}, "should": {}, "would": {}, "could": {}, "also": {}, "just": {}, "about": {},
	"me": {}, "us": {}, "them": {}, "been": {}, "did": {}, "does": {}, "done": {}, "get": {}, "got": {},
	"make": {}, "than": {}, "then": {}, "when": {}, "what": {}, "which": {}, "who": {}, "how": {},
	"all": {}, "each": {}, "no": {}, "any": {}, "some": {}, "more": {}, "most": {}, "very": {},
}

var timeKeywords = []string{
	"tomorrow", "next week", "next month", "next year",
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
}

var monthMap = map[string]int{
	"january": 1, "february": 2, "march": 3, "april": 4,
	"may": 5, "june": 6, "july": 7, "august": 8,
	"september": 9, "october": 10, "november": 11, "december": 12,
}

var (
	keywordPattern   = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_-]*`)
	monthDayPattern  = regexp.MustCompile(`(?i)(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{1,2})`)
	isoDatePattern   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	mayMonthPattern  = regexp.MustCompile(`(?i)(?:in|by|before|until|after)\s+may\b|\bmay\s+\d{1,2}\b`)
	projectRefPattern = regexp.MustCompile(`(?i)(?:project|repo|repository|codebase|app|application)\s+(\S+)`)
)

// extractKeywords lowercases text, splits into word tokens, and drops
// stopwords and single-character tokens.
func extractKeywords(text string) []string {
	words := keywordPattern.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, stop := stopwords[w]; stop {
			continue
		}
		if len(w) <= 1 {
			continue
		}
		out = append(out, w)
	}
	return out
}

// parseRelativeDate tries to resolve text to a YYYY-MM-DD date, using
// now as the reference point for relative phrases.
func parseRelativeDate(text string, now time.Time) (string, bool) {
	if res, err := nlDateParser.Parse(text, now); err == nil && res != nil {
		return res.Time.Format("2006-01-02"), true
	}

	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "tomorrow"):
		return now.AddDate(0, 0, 1).Format("2006-01-02"), true
	case strings.Contains(lower, "next week"):
		return now.AddDate(0, 0, 7).Format("2006-01-02"), true
	case strings.Contains(lower, "next month"):
		return now.AddDate(0, 0, 30).Format("2006-01-02"), true
	case strings.Contains(lower, "next year"):
		return now.AddDate(0, 0, 365).Format("2006-01-02"), true
	}

	if m := monthDayPattern.FindStringSubmatch(lower); m != nil {
		month := monthMap[strings.ToLower(m[1])]
		day, err := strconv.Atoi(m[2])
		if err == nil {
			target := time.Date(now.Year(), time.Month(month), day, 0, 0, 0, 0, time.UTC)
			if target.Before(now) {
				target = time.Date(now.Year()+1, time.Month(month), day, 0, 0, 0, 0, time.UTC)
			}
			return target.Format("2006-01-02"), true
		}
	}

	if m := isoDatePattern.FindString(text); m != "" {
		return m, true
	}
	return "", false
}

// ClassifyTriggerType mirrors classify_trigger_type: time triggers take
// priority, then event (project references), falling back to topic.
func ClassifyTriggerType(text string, now time.Time) (types.TriggerKind, types.TriggerCondition) {
	lower := strings.ToLower(text)

	if date, ok := parseRelativeDate(text, now); ok {
		return types.TriggerTime, types.TriggerCondition{AfterDate: date}
	}

	for _, kw := range timeKeywords {
		if !strings.Contains(lower, kw) {
			continue
		}
		if kw == "may" && !mayMonthPattern.MatchString(lower) {
			continue
		}
		if date, ok := parseRelativeDate(text, now); ok {
			return types.TriggerTime, types.TriggerCondition{AfterDate: date}
		}
		fallback := now.AddDate(0, 0, 7).Format("2006-01-02")
		return types.TriggerTime, types.TriggerCondition{AfterDate: fallback}
	}

	if projectRefPattern.MatchString(lower) {
		return types.TriggerEvent, types.TriggerCondition{Keywords: extractKeywords(text)}
	}

	return types.TriggerTopic, types.TriggerCondition{Keywords: extractKeywords(text)}
}

// Manager persists and evaluates prospective triggers against the
// prospective_triggers table owned by internal/sqlitedb.
type Manager struct {
	db *sql.DB
}

// New wraps db, which must already have the prospective_triggers table.
func New(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// ExtractTriggers scans text for intent phrases and persists one
// ProspectiveTrigger per match that yields meaningful keywords (or any
// time trigger, which has none to check).
func (m *Manager) ExtractTriggers(ctx context.Context, text, memoryID string) ([]types.ProspectiveTrigger, error) {
	ctx, span := tracer.Start(ctx, "triggers.extract")
	defer span.End()

	now := time.Now().UTC()
	var created []types.ProspectiveTrigger

	for _, pattern := range patterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			captured := strings.TrimSpace(match[1])
			if captured == "" {
				continue
			}
			kind, cond := ClassifyTriggerType(captured, now)
			if (kind == types.TriggerTopic || kind == types.TriggerEvent) && len(cond.Keywords) == 0 {
				continue
			}

			condJSON, err := json.Marshal(cond)
			if err != nil {
				return nil, types.WrapError("extract triggers", types.ErrIO, err)
			}
			res, err := m.db.ExecContext(ctx, `
				INSERT INTO prospective_triggers (memory_id, kind, condition_json, status, created_at)
				VALUES (?, ?, ?, 'pending', ?)
			`, memoryID, string(kind), string(condJSON), now.Format(time.RFC3339))
			if err != nil {
				return nil, types.WrapError("extract triggers", types.ErrIO, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return nil, types.WrapError("extract triggers", types.ErrIO, err)
			}

			created = append(created, types.ProspectiveTrigger{
				TriggerID: id,
				MemoryID:  memoryID,
				Kind:      kind,
				Condition: cond,
				Status:    types.TriggerPending,
				CreatedAt: now,
			})
		}
	}
	return created, nil
}

// CheckTriggers returns every pending trigger that matches ctx.
func (m *Manager) CheckTriggers(ctx context.Context, mctx types.MatchContext) ([]types.ProspectiveTrigger, error) {
	tctx, span := tracer.Start(ctx, "triggers.check")
	defer span.End()

	rows, err := m.db.QueryContext(tctx, `
		SELECT trigger_id, memory_id, kind, condition_json, status, created_at, fired_at
		FROM prospective_triggers WHERE status = 'pending'
	`)
	if err != nil {
		return nil, types.WrapError("check triggers", types.ErrIO, err)
	}
	defer rows.Close()

	var matched []types.ProspectiveTrigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		if matches(t, mctx) {
			matched = append(matched, t)
		}
	}
	return matched, types.WrapError("iterate triggers", types.ErrIO, rows.Err())
}

func matches(t types.ProspectiveTrigger, mctx types.MatchContext) bool {
	switch t.Kind {
	case types.TriggerTime:
		if t.Condition.AfterDate == "" || mctx.CurrentDate == "" {
			return false
		}
		return mctx.CurrentDate >= t.Condition.AfterDate
	case types.TriggerEvent:
		if t.Condition.Project != "" && mctx.Project != "" &&
			strings.EqualFold(t.Condition.Project, mctx.Project) {
			return true
		}
		return keywordsOverlap(t.Condition.Keywords, mctx.Keywords)
	case types.TriggerTopic:
		return keywordsOverlap(t.Condition.Keywords, mctx.Keywords)
	default:
		return false
	}
}

func keywordsOverlap(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, k := range a {
		set[strings.ToLower(k)] = struct{}{}
	}
	for _, k := range b {
		if _, ok := set[strings.ToLower(k)]; ok {
			return true
		}
	}
	return false
}

// FireTrigger marks a trigger fired, stamping fired_at.
func (m *Manager) FireTrigger(ctx context.Context, triggerID int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := m.db.ExecContext(ctx, `
		UPDATE prospective_triggers SET status = 'fired', fired_at = ? WHERE trigger_id = ?
	`, now, triggerID)
	return types.WrapError("fire trigger", types.ErrIO, err)
}

// DismissTrigger marks a trigger dismissed by the user.
func (m *Manager) DismissTrigger(ctx context.Context, triggerID int64) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE prospective_triggers SET status = 'dismissed' WHERE trigger_id = ?
	`, triggerID)
	return types.WrapError("dismiss trigger", types.ErrIO, err)
}

// GetPendingTriggers returns pending triggers ordered by creation time,
// oldest first, capped at limit.
func (m *Manager) GetPendingTriggers(ctx context.Context, limit int) ([]types.ProspectiveTrigger, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT trigger_id, memory_id, kind, condition_json, status, created_at, fired_at
		FROM prospective_triggers WHERE status = 'pending'
		ORDER BY created_at ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, types.WrapError("get pending triggers", types.ErrIO, err)
	}
	defer rows.Close()

	var out []types.ProspectiveTrigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, types.WrapError("iterate pending triggers", types.ErrIO, rows.Err())
}

// ExpireOldTriggers flips pending triggers older than maxAgeDays to
// expired, leaving fired/dismissed triggers untouched.
func (m *Manager) ExpireOldTriggers(ctx context.Context, maxAgeDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays).Format(time.RFC3339)
	res, err := m.db.ExecContext(ctx, `
		UPDATE prospective_triggers SET status = 'expired'
		WHERE status = 'pending' AND created_at < ?
	`, cutoff)
	if err != nil {
		return 0, types.WrapError("expire old triggers", types.ErrIO, err)
	}
	n, err := res.RowsAffected()
	return n, types.WrapError("expire old triggers", types.ErrIO, err)
}

func scanTrigger(rows *sql.Rows) (types.ProspectiveTrigger, error) {
	var t types.ProspectiveTrigger
	var kindStr, condJSON, createdAt string
	var firedAt sql.NullString
	if err := rows.Scan(&t.TriggerID, &t.MemoryID, &kindStr, &condJSON, &t.Status, &createdAt, &firedAt); err != nil {
		return t, types.WrapError("scan trigger row", types.ErrIO, err)
	}
	t.Kind = types.TriggerKind(kindStr)
	if err := json.Unmarshal([]byte(condJSON), &t.Condition); err != nil {
		return t, types.WrapError("scan trigger row", types.ErrCorrupt, fmt.Errorf("condition_json: %w", err))
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if firedAt.Valid {
		parsed, _ := time.Parse(time.RFC3339, firedAt.String)
		t.FiredAt = &parsed
	}
	return t, nil
}
