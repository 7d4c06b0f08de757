package importance

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// UserLexicon holds a signal-weight override table loaded from
// lexicon.toml, mirroring the teacher's UserRecipes pattern
// (internal/recipes/recipes.go) for merging a built-in table with an
// optional on-disk override.
type UserLexicon struct {
	Signals      map[string]float64 `toml:"signals"`
	TriggerWords []string           `toml:"trigger_words"`
}

// LoadLexicon reads path (if it exists) as TOML and merges it over the
// built-in Signals/TriggerWords tables, returning the merged copies. A
// missing file is not an error — the built-ins are returned unchanged.
func LoadLexicon(path string) (map[string]float64, map[string]struct{}, error) {
	signals := make(map[string]float64, len(Signals))
	for k, v := range Signals {
		signals[k] = v
	}
	words := make(map[string]struct{}, len(TriggerWords))
	for k, v := range TriggerWords {
		words[k] = v
	}

	if path == "" {
		return signals, words, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is an operator-supplied asset path
	if os.IsNotExist(err) {
		return signals, words, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("importance: read %s: %w", path, err)
	}

	var user UserLexicon
	if err := toml.Unmarshal(data, &user); err != nil {
		return nil, nil, fmt.Errorf("importance: parse %s: %w", path, err)
	}
	for k, v := range user.Signals {
		signals[k] = v
	}
	for _, w := range user.TriggerWords {
		words[w] = struct{}{}
	}
	return signals, words, nil
}

// ApplyLexicon loads path and replaces the package's Signals and
// TriggerWords tables with the merged result. Intended to be called
// once, during Runtime construction, before any scoring happens — the
// tables are package-level state read by BaseScore and
// DetectTriggerWords without further locking, matching spec §4.E's
// assumption that the lexicon is effectively static for a process's
// lifetime.
func ApplyLexicon(path string) error {
	signals, words, err := LoadLexicon(path)
	if err != nil {
		return err
	}
	Signals = signals
	TriggerWords = words
	return nil
}
