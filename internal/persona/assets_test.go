package persona

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPersonaMapMissingFileReturnsDefaults(t *testing.T) {
	got, err := LoadPersonaMap(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(got["business"]) != len(DefaultPersonas["business"]) {
		t.Fatalf("expected default business project list, got %v", got["business"])
	}
}

func TestLoadPersonaMapOverridesAndAdds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.toml")
	content := `
[personas]
business = ["OnlyOne"]
hobby = ["garden", "woodworking"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadPersonaMap(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got["business"]) != 1 || got["business"][0] != "OnlyOne" {
		t.Fatalf("expected business list replaced wholesale, got %v", got["business"])
	}
	if len(got["hobby"]) != 2 {
		t.Fatalf("expected new persona to merge in, got %v", got["hobby"])
	}
	if len(got["technical"]) != len(DefaultPersonas["technical"]) {
		t.Fatalf("expected untouched persona to survive merge, got %v", got["technical"])
	}
}

func TestNewRouterUsesLoadedMap(t *testing.T) {
	personas, err := LoadPersonaMap("")
	if err != nil {
		t.Fatal(err)
	}
	personas["hobby"] = []string{"garden"}
	r := NewRouter(personas)
	if got := r.DetectPersona("garden"); got != "hobby" {
		t.Fatalf("expected garden routed to hobby persona, got %v", got)
	}
}
