package importance

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadLexiconMissingFileReturnsBuiltins(t *testing.T) {
	signals, words, err := LoadLexicon(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(signals) != len(Signals) || len(words) != len(TriggerWords) {
		t.Fatalf("expected builtin table sizes, got %d signals / %d words", len(signals), len(words))
	}
}

func TestLoadLexiconMergesOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexicon.toml")
	content := `
trigger_words = ["sourdough"]

[signals]
critical = 0.9
sourdough = 0.4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	signals, words, err := LoadLexicon(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signals["critical"] != 0.9 {
		t.Fatalf("expected override of critical weight, got %v", signals["critical"])
	}
	if signals["sourdough"] != 0.4 {
		t.Fatalf("expected new signal to merge in, got %v", signals["sourdough"])
	}
	if _, ok := words["sourdough"]; !ok {
		t.Fatalf("expected new trigger word to merge in")
	}
	if _, ok := words["critical"]; !ok {
		t.Fatalf("expected builtin trigger words to survive merge")
	}
}

func TestApplyLexiconReplacesPackageTables(t *testing.T) {
	origSignals, origWords := Signals, TriggerWords
	t.Cleanup(func() { Signals, TriggerWords = origSignals, origWords })

	path := filepath.Join(t.TempDir(), "lexicon.toml")
	if err := os.WriteFile(path, []byte(`trigger_words = ["zzyzx"]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ApplyLexicon(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := TriggerWords["zzyzx"]; !ok {
		t.Fatalf("expected package-level TriggerWords to include merged word")
	}
}
