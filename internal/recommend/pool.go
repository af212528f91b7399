package recommend

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pageza/foodlens/backend/internal/models"
)

//go:embed pool.yaml
var embeddedPool []byte

type poolFile struct {
	Items []models.RecommendationItem `yaml:"items"`
}

// LoadPool reads and validates a candidate pool
func LoadPool(r io.Reader) ([]models.RecommendationItem, error) {
	var f poolFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse candidate pool: %w", err)
	}

	seen := make(map[string]bool, len(f.Items))
	for i, it := range f.Items {
		switch {
		case it.ID == "":
			return nil, fmt.Errorf("item %d: missing id", i)
		case seen[it.ID]:
			return nil, fmt.Errorf("item %s: duplicate id", it.ID)
		case it.Name == "":
			return nil, fmt.Errorf("item %s: missing name", it.ID)
		case it.Price < 0:
			return nil, fmt.Errorf("item %s: negative price", it.ID)
		case it.Rating < 0 || it.Rating > 5:
			return nil, fmt.Errorf("item %s: rating %.2f outside [0,5]", it.ID, it.Rating)
		}
		for _, m := range it.MealTypes {
			if !m.Valid() {
				return nil, fmt.Errorf("item %s: unknown meal type %q", it.ID, m)
			}
		}
		seen[it.ID] = true
	}
	return f.Items, nil
}

// LoadPoolFile reads a pool from disk
func LoadPoolFile(path string) ([]models.RecommendationItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open candidate pool: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadPool(f)
}

// DefaultPool returns the embedded pool
func DefaultPool() []models.RecommendationItem {
	items, err := LoadPool(bytes.NewReader(embeddedPool))
	if err != nil {
		panic(fmt.Sprintf("embedded candidate pool is invalid: %v", err))
	}
	return items
}
