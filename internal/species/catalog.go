package species

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/vbonduro/treetag/internal/domain"
)

// MinSearchTermLength is the shortest trimmed query that narrows the list.
// Shorter queries return everything.
const MinSearchTermLength = 3

//go:embed data/species.json
var defaultSpeciesJSON []byte

// Catalog is the static reference list. It is never mutated after loading.
type Catalog struct {
	entries []domain.Species
}

func NewCatalog(entries []domain.Species) *Catalog {
	return &Catalog{entries: append([]domain.Species(nil), entries...)}
}

// Default returns the catalog bundled with the binary.
func Default() (*Catalog, error) {
	return decode(defaultSpeciesJSON, ".json")
}

// Load reads a reference list from a .json, .yaml or .yml file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read species list: %w", err)
	}
	return decode(data, strings.ToLower(filepath.Ext(path)))
}

func decode(data []byte, ext string) (*Catalog, error) {
	var entries []domain.Species
	switch ext {
	case ".json":
		if err := json.NewDecoder(bytes.NewReader(data)).Decode(&entries); err != nil {
			return nil, fmt.Errorf("failed to decode species json: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("failed to decode species yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported species list format %q", ext)
	}

	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("species entry %d has no id", i)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("duplicate species id %q", e.ID)
		}
		seen[e.ID] = true
	}
	return NewCatalog(entries), nil
}

func (c *Catalog) Len() int {
	return len(c.entries)
}

// All returns the full list in reference order.
func (c *Catalog) All() []domain.Species {
	return append([]domain.Species(nil), c.entries...)
}

// Filter returns the entries whose common or scientific name contains query,
// case-insensitively, in reference order. An empty query or one shorter than
// MinSearchTermLength after trimming returns the full list.
func (c *Catalog) Filter(query string) []domain.Species {
	term := strings.ToLower(strings.TrimSpace(query))
	if utf8.RuneCountInString(term) < MinSearchTermLength {
		return c.All()
	}

	matches := make([]domain.Species, 0)
	for _, e := range c.entries {
		if strings.Contains(strings.ToLower(e.Common), term) ||
			strings.Contains(strings.ToLower(e.Scientific), term) {
			matches = append(matches, e)
		}
	}
	return matches
}

func (c *Catalog) Find(id string) (domain.Species, bool) {
	for _, e := range c.entries {
		if e.ID == id {
			return e, true
		}
	}
	return domain.Species{}, false
}

// Lookup finds the entry whose common or scientific name equals name,
// ignoring case and surrounding space.
func (c *Catalog) Lookup(name string) (domain.Species, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Species{}, false
	}
	for _, e := range c.entries {
		if strings.EqualFold(e.Scientific, name) || strings.EqualFold(e.Common, name) {
			return e, true
		}
	}
	return domain.Species{}, false
}
