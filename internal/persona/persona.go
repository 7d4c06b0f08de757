// Package persona implements project-to-persona routing and
// time-of-day energy-aware memory loading (spec §4.F), grounded on
// src/persona_filter.py and src/energy_aware_loading.py.
package persona

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/arcwright/recall/internal/types"
)

// DefaultPersonas maps each persona to the project ids routed to it.
// Any project not listed falls back to "universal".
var DefaultPersonas = map[string][]string{
	"business": {
		"LFI", "CogentAnalytics", "ConnectionLab", "ZeroArc", "Imply", "PowerTrack",
	},
	"technical": {
		"memory-system", "total-rekall",
	},
	"personal": {
		"health", "family", "personal",
	},
}

const Universal = "universal"

// Router detects a project's persona and filters memories by it.
type Router struct {
	personas map[string][]string
}

// NewRouter returns a Router seeded with a private copy of personas so
// callers can mutate their copy without affecting others.
func NewRouter(personas map[string][]string) *Router {
	if personas == nil {
		personas = DefaultPersonas
	}
	copied := make(map[string][]string, len(personas))
	for name, projects := range personas {
		copied[name] = append([]string(nil), projects...)
	}
	return &Router{personas: copied}
}

// DetectPersona returns the persona owning projectID, or Universal if
// unrouted. Matching is case-insensitive.
func (r *Router) DetectPersona(projectID string) string {
	if projectID == "" {
		return Universal
	}
	lower := strings.ToLower(projectID)
	for persona, projects := range r.personas {
		for _, p := range projects {
			if strings.ToLower(p) == lower {
				return persona
			}
		}
	}
	return Universal
}

// FilterByPersona returns the subset of records matching persona: a
// record whose tagged persona equals target or Universal, or carries no
// persona tag at all (also treated as Universal), per spec §4.F.
//
// A record's persona is recorded as a tag of the form "persona:<name>";
// records carry at most one.
func FilterByPersona(records []*types.MemoryRecord, persona string) []*types.MemoryRecord {
	target := strings.ToLower(persona)
	out := make([]*types.MemoryRecord, 0, len(records))
	for _, r := range records {
		tag, ok := personaTag(r)
		if !ok || strings.ToLower(tag) == target || strings.ToLower(tag) == Universal {
			out = append(out, r)
		}
	}
	return out
}

func personaTag(r *types.MemoryRecord) (string, bool) {
	const prefix = "persona:"
	for _, t := range r.Tags {
		if strings.HasPrefix(strings.ToLower(t), prefix) {
			return t[len(prefix):], true
		}
	}
	return "", false
}

// Window is a time-of-day range with associated priority tags and sort
// order, matching TimeWindow in the Python original.
type Window struct {
	Name         string
	StartHour    int // inclusive
	EndHour      int // exclusive
	PriorityTags []string
	SortByCreated bool // not read by LoadContext, which sorts only the night window by recency
}

// TimeWindows covers the full day in four fixed ranges.
var TimeWindows = []Window{
	{"morning", 6, 12, []string{"#strategy", "#decision", "#framework", "#positioning", "#architecture"}, false},
	{"afternoon", 12, 18, []string{"#task", "#commitment", "#logistics", "#operational", "#admin"}, true},
	{"evening", 18, 24, []string{"#learning", "#pattern", "#reflection", "#insight", "#mistake"}, false},
	{"night", 0, 6, nil, true},
}

// CurrentWindow returns the Window covering hour (0-23).
func CurrentWindow(hour int) Window {
	for _, w := range TimeWindows {
		if w.StartHour <= hour && hour < w.EndHour {
			return w
		}
	}
	return TimeWindows[3]
}

// LoadContext ranks records for the time window covering now, capped at
// maxMemories. Night applies no tag filtering and sorts by recency;
// every other window scores importance plus a +2.0 bonus for any
// priority-tag match, sorted descending.
func LoadContext(records []*types.MemoryRecord, now time.Time, maxMemories int) ([]*types.MemoryRecord, Window) {
	window := CurrentWindow(now.Hour())
	if len(records) == 0 {
		return nil, window
	}

	ranked := make([]*types.MemoryRecord, len(records))
	copy(ranked, records)

	if window.Name == "night" {
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].CreatedAt.After(ranked[j].CreatedAt) })
		return capSlice(ranked, maxMemories), window
	}

	type scored struct {
		rec   *types.MemoryRecord
		score float64
	}
	scoredList := make([]scored, len(ranked))
	for i, r := range ranked {
		s := r.Importance
		if hasAnyTag(r.Tags, window.PriorityTags) {
			s += 2.0
		}
		scoredList[i] = scored{rec: r, score: s}
	}
	sort.SliceStable(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })

	out := make([]*types.MemoryRecord, len(scoredList))
	for i, s := range scoredList {
		out[i] = s.rec
	}
	return capSlice(out, maxMemories), window
}

// ExplainLoading narrates, in one line, which window and ranking rule
// produced a given LoadContext result — grounded on
// energy_aware_loading.py's explain_loading, kept here purely for an
// external dashboard adapter to display; nothing in this module reads
// its own output.
func ExplainLoading(window Window, matched, total, capped int) string {
	if window.Name == "night" {
		return fmt.Sprintf("night window: no tag filter, sorted by recency, showing %d of %d", capped, total)
	}
	return fmt.Sprintf("%s window: %d/%d records matched priority tags %v, showing %d of %d by score",
		window.Name, matched, total, window.PriorityTags, capped, total)
}

// MatchCount reports how many records in records carry one of
// window's priority tags, the number ExplainLoading reports as
// "matched".
func MatchCount(records []*types.MemoryRecord, window Window) int {
	n := 0
	for _, r := range records {
		if hasAnyTag(r.Tags, window.PriorityTags) {
			n++
		}
	}
	return n
}

// LoadContextExplained runs LoadContext and also returns a narration
// suitable for a dashboard adapter (spec §1's external collaborators),
// built from this call's own inputs and outputs rather than recomputed
// from scratch.
func LoadContextExplained(records []*types.MemoryRecord, now time.Time, maxMemories int) ([]*types.MemoryRecord, Window, string) {
	ranked, window := LoadContext(records, now, maxMemories)
	matched := MatchCount(records, window)
	explanation := ExplainLoading(window, matched, len(records), len(ranked))
	return ranked, window, explanation
}

func hasAnyTag(tags, priority []string) bool {
	for _, t := range tags {
		for _, p := range priority {
			if strings.EqualFold(t, p) {
				return true
			}
		}
	}
	return false
}

func capSlice(records []*types.MemoryRecord, max int) []*types.MemoryRecord {
	if max > 0 && len(records) > max {
		return records[:max]
	}
	return records
}
