// Package importance implements the memory importance lifecycle of
// spec §4.D: base scoring from content signals, exponential decay,
// access reinforcement, and trigger-word boosting. Grounded directly on
// src/importance_engine.py in the Python predecessor — constants and
// formulas are carried over verbatim, expressed in Go.
package importance

import (
	"regexp"
	"strings"
	"time"

	"github.com/arcwright/recall/internal/types"
)

// TriggerWords boost importance when detected in content. Case-insensitive,
// whole-word match.
var TriggerWords = map[string]struct{}{
	"critical": {}, "urgent": {}, "breaking": {}, "production": {}, "broken": {}, "failed": {},
	"pattern": {}, "across": {}, "multiple": {}, "clients": {}, "projects": {}, "universal": {},
	"mistake": {}, "error": {}, "failure": {}, "success": {}, "win": {}, "breakthrough": {},
	"learned": {}, "discovered": {}, "realized": {}, "insight": {}, "revelation": {},
}

// Signals is the weighted keyword table added to the 0.5 baseline score.
var Signals = map[string]float64{
	"critical":   0.3,
	"urgent":     0.25,
	"breaking":   0.25,
	"production": 0.2,
	"pattern":    0.15,
	"across":     0.1,
	"clients":    0.1,
	"mistake":    0.15,
	"failed":     0.15,
	"success":    0.1,
}

var wordPattern = regexp.MustCompile(`\b\w+\b`)

// BaseScore computes the content-derived importance score, clamped to
// [0.3, 1.0].
func BaseScore(content string) float64 {
	if content == "" {
		return 0.3
	}

	score := 0.5
	lower := strings.ToLower(content)
	for keyword, weight := range Signals {
		if strings.Contains(lower, keyword) {
			score += weight
		}
	}

	words := strings.Fields(content)
	switch {
	case len(words) > 100:
		score += 0.2
	case len(words) > 50:
		score += 0.1
	}

	if strings.Contains(content, "!") {
		score += 0.05
	}
	capsWords := 0
	for _, w := range words {
		if len(w) > 2 && w == strings.ToUpper(w) && w != strings.ToLower(w) {
			capsWords++
		}
	}
	if capsWords > 0 {
		score += minF(0.1, float64(capsWords)*0.05)
	}

	sentences := strings.Count(content, ".") + strings.Count(content, "!") + strings.Count(content, "?")
	if sentences > 2 {
		score += 0.05
	}

	return minF(1.0, maxF(0.3, score))
}

// Decay applies the fixed 0.99^days exponential decay.
func Decay(score float64, daysSince int) float64 {
	if daysSince < 0 {
		daysSince = 0
	}
	const decayRate = 0.99
	multiplier := 1.0
	for i := 0; i < daysSince; i++ {
		multiplier *= decayRate
	}
	decayed := score * multiplier
	return maxF(0.0, decayed)
}

// Reinforce boosts a score by 15%, capped at 0.95.
func Reinforce(score float64) float64 {
	return minF(0.95, score*1.15)
}

// DetectTriggerWords returns every trigger word found in content,
// preserving the source text's original casing and first-seen order.
func DetectTriggerWords(content string) []string {
	if content == "" {
		return nil
	}
	lower := strings.ToLower(content)
	words := wordPattern.FindAllString(lower, -1)

	var detected []string
	seen := make(map[string]struct{})
	for _, w := range words {
		if _, ok := TriggerWords[w]; !ok {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`)
		if match := pattern.FindString(content); match != "" {
			detected = append(detected, match)
		}
	}
	return detected
}

// AccessMetadata carries the inputs Score needs beyond raw content.
type AccessMetadata struct {
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int
	Now          time.Time // if zero, time.Now() is used
}

// Score runs the full pipeline of spec §4.D: base score, decay since last
// access, reinforcement on fresh or repeated access, then trigger-word
// boost.
func Score(content string, meta AccessMetadata) float64 {
	now := meta.Now
	if now.IsZero() {
		now = time.Now()
	}

	base := BaseScore(content)
	daysSince := int(now.Sub(meta.LastAccessed).Hours() / 24)
	score := Decay(base, daysSince)

	if daysSince == 0 || meta.AccessCount > 1 {
		score = Reinforce(score)
	}

	triggers := DetectTriggerWords(content)
	if len(triggers) > 0 {
		boost := minF(0.2, float64(len(triggers))*0.05)
		score = minF(1.0, score+boost)
	}

	return score
}

// ScoreRecord is a convenience wrapper over Score for a types.MemoryRecord,
// using UpdatedAt as the last-accessed timestamp.
func ScoreRecord(r *types.MemoryRecord, accessCount int, now time.Time) float64 {
	return Score(r.Content, AccessMetadata{
		CreatedAt:    r.CreatedAt,
		LastAccessed: r.UpdatedAt,
		AccessCount:  accessCount,
		Now:          now,
	})
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
