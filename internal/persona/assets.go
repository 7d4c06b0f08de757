package persona

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// UserPersonaMap holds a persona->project override table loaded from
// personas.toml, the same optional-asset-file shape as the teacher's
// recipes.toml (internal/recipes/recipes.go): built-ins first, user
// file merged on top, missing file is not an error.
type UserPersonaMap struct {
	Personas map[string][]string `toml:"personas"`
}

// LoadPersonaMap reads path (if it exists) as TOML and merges it over
// DefaultPersonas, returning a fresh map suitable for NewRouter. A
// persona name present in both is replaced wholesale by the file's
// project list, not appended to.
func LoadPersonaMap(path string) (map[string][]string, error) {
	merged := make(map[string][]string, len(DefaultPersonas))
	for k, v := range DefaultPersonas {
		merged[k] = append([]string(nil), v...)
	}
	if path == "" {
		return merged, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is an operator-supplied asset path
	if os.IsNotExist(err) {
		return merged, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persona: read %s: %w", path, err)
	}

	var user UserPersonaMap
	if err := toml.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("persona: parse %s: %w", path, err)
	}
	for k, v := range user.Personas {
		merged[k] = append([]string(nil), v...)
	}
	return merged, nil
}
