// Package nutrition resolves detected food labels to nutrition facts.
package nutrition

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pageza/foodlens/backend/internal/models"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// CategoryUnknown is reported for labels the catalog does not carry
const CategoryUnknown = "unknown"

// Match records how a label was resolved
type Match string

const (
	MatchExact   Match = "exact"
	MatchAlias   Match = "alias"
	MatchPartial Match = "partial"
	MatchUnknown Match = "unknown"
)

// Entry is the result of a lookup
type Entry struct {
	// Label is the catalog's display label, or the normalized input when unknown.
	Label    string                `json:"label"`
	Category string                `json:"category"`
	Facts    models.NutritionFacts `json:"nutrition"`
	Match    Match                 `json:"match"`
}

// Known reports whether the lookup found catalog data
func (e Entry) Known() bool {
	return e.Match != MatchUnknown
}

type record struct {
	label    string
	category string
	facts    models.NutritionFacts
}

type candidate struct {
	key    string
	tokens []string
	target string
}

// Catalog is an immutable label → facts table. Safe for concurrent use.
type Catalog struct {
	records  map[string]record
	aliases  map[string]string
	partials []candidate
}

type catalogFile struct {
	Foods []struct {
		Label     string                `yaml:"label"`
		Category  string                `yaml:"category"`
		Aliases   []string              `yaml:"aliases"`
		Nutrition models.NutritionFacts `yaml:"nutrition"`
	} `yaml:"foods"`
}

// Load parses a YAML catalog
func Load(r io.Reader) (*Catalog, error) {
	var file catalogFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	c := &Catalog{
		records: make(map[string]record, len(file.Foods)),
		aliases: make(map[string]string),
	}
	for _, f := range file.Foods {
		key := Normalize(f.Label)
		if key == "" {
			return nil, fmt.Errorf("catalog entry with empty label")
		}
		if _, dup := c.records[key]; dup {
			return nil, fmt.Errorf("duplicate catalog label %q", f.Label)
		}
		if f.Category == "" {
			f.Category = "other"
		}
		facts := f.Nutrition
		facts.Known = true
		c.records[key] = record{label: f.Label, category: f.Category, facts: facts}
		c.partials = append(c.partials, candidate{key: key, tokens: Tokens(key), target: key})
	}

	for _, f := range file.Foods {
		target := Normalize(f.Label)
		for _, alias := range f.Aliases {
			akey := Normalize(alias)
			if _, clash := c.records[akey]; clash {
				return nil, fmt.Errorf("alias %q collides with a catalog label", alias)
			}
			if prev, dup := c.aliases[akey]; dup && prev != target {
				return nil, fmt.Errorf("alias %q maps to more than one label", alias)
			}
			c.aliases[akey] = target
			c.partials = append(c.partials, candidate{key: akey, tokens: Tokens(akey), target: target})
		}
	}

	// Most specific first: more tokens, then longer key, then lexical order.
	sort.Slice(c.partials, func(i, j int) bool {
		a, b := c.partials[i], c.partials[j]
		if len(a.tokens) != len(b.tokens) {
			return len(a.tokens) > len(b.tokens)
		}
		if len(a.key) != len(b.key) {
			return len(a.key) > len(b.key)
		}
		return a.key < b.key
	})

	return c, nil
}

// LoadFile parses a YAML catalog from disk
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the embedded catalog
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Load(bytes.NewReader(embeddedCatalog))
		if err != nil {
			panic(fmt.Sprintf("embedded nutrition catalog is invalid: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Lookup resolves a label. It never fails: labels that match nothing
// resolve to zeroed facts with Match set to MatchUnknown.
func (c *Catalog) Lookup(label string) Entry {
	key := Normalize(label)

	if rec, ok := c.records[key]; ok {
		return rec.entry(MatchExact)
	}
	if target, ok := c.aliases[key]; ok {
		return c.records[target].entry(MatchAlias)
	}

	if key != "" {
		present := make(map[string]struct{})
		for _, tok := range Tokens(key) {
			present[tok] = struct{}{}
		}
		for _, cand := range c.partials {
			if containsAll(present, cand.tokens) {
				return c.records[cand.target].entry(MatchPartial)
			}
		}
	}

	return Entry{
		Label:    key,
		Category: CategoryUnknown,
		Facts:    models.NutritionFacts{},
		Match:    MatchUnknown,
	}
}

// Len is the number of catalog labels, excluding aliases
func (c *Catalog) Len() int {
	return len(c.records)
}

// Labels lists the display labels in sorted order
func (c *Catalog) Labels() []string {
	out := make([]string, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r.label)
	}
	sort.Strings(out)
	return out
}

func (r record) entry(m Match) Entry {
	return Entry{Label: r.label, Category: r.category, Facts: r.facts, Match: m}
}

func containsAll(set map[string]struct{}, tokens []string) bool {
	for _, t := range tokens {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return len(tokens) > 0
}
