package recommend

import (
	"strings"

	"github.com/pageza/foodlens/backend/internal/nutrition"
)

// allergenTerms expands common allergy names to ingredient words that carry
// them. Matching errs toward excluding an item.
var allergenTerms = map[string][]string{
	"peanut":    {"peanut", "groundnut", "satay"},
	"nut":       {"nut", "peanut", "almond", "walnut", "cashew", "pecan", "pistachio", "hazelnut", "macadamia", "praline"},
	"tree_nut":  {"tree_nut", "almond", "walnut", "cashew", "pecan", "pistachio", "hazelnut", "macadamia", "praline", "granola"},
	"milk":      {"milk", "dairy", "cheese", "cream", "butter", "yogurt", "mozzarella", "parmesan", "cheddar", "ghee", "whey", "buttermilk"},
	"dairy":     {"milk", "dairy", "cheese", "cream", "butter", "yogurt", "mozzarella", "parmesan", "cheddar", "ghee", "whey", "buttermilk"},
	"lactose":   {"milk", "dairy", "cheese", "cream", "butter", "yogurt", "mozzarella", "parmesan", "cheddar", "buttermilk"},
	"egg":       {"egg", "mayonnaise", "hollandaise", "meringue"},
	"wheat":     {"wheat", "flour", "bread", "dough", "pasta", "noodle", "linguine", "crouton", "flatbread", "muffin", "sourdough"},
	"gluten":    {"gluten", "wheat", "flour", "bread", "dough", "pasta", "noodle", "linguine", "crouton", "flatbread", "muffin", "sourdough", "barley", "rye"},
	"soy":       {"soy", "soya", "tofu", "edamame", "miso", "tempeh", "gochujang"},
	"fish":      {"fish", "salmon", "tuna", "cod", "anchovy", "sardine", "trout"},
	"shellfish": {"shellfish", "shrimp", "prawn", "crab", "lobster", "clam", "mussel", "oyster", "scallop"},
	"sesame":    {"sesame", "tahini", "hummus"},
}

// allergyMatcher holds the normalized terms for one query
type allergyMatcher struct {
	terms [][]string
}

func newAllergyMatcher(allergies []string) allergyMatcher {
	var m allergyMatcher
	for _, a := range allergies {
		key := nutrition.Normalize(a)
		if key == "" {
			continue
		}
		m.terms = append(m.terms, nutrition.Tokens(key))
		for _, t := range allergenTerms[key] {
			m.terms = append(m.terms, nutrition.Tokens(nutrition.Normalize(t)))
		}
	}
	return m
}

func (m allergyMatcher) empty() bool {
	return len(m.terms) == 0
}

// matches reports whether any field mentions any allergen term as a whole
// word sequence. Compound words such as "peanuts" or "buttermilk" are
// caught by the prefix/suffix check on single-word terms.
func (m allergyMatcher) matches(fields []string) bool {
	for _, field := range fields {
		tokens := nutrition.Tokens(nutrition.Normalize(field))
		for _, term := range m.terms {
			if containsSequence(tokens, term) {
				return true
			}
		}
	}
	return false
}

func containsSequence(tokens, term []string) bool {
	if len(term) == 0 || len(term) > len(tokens) {
		return false
	}
	if len(term) == 1 {
		for _, tok := range tokens {
			if tok == term[0] || (len(term[0]) >= 4 && (strings.HasPrefix(tok, term[0]) || strings.HasSuffix(tok, term[0]))) {
				return true
			}
		}
		return false
	}
	for i := 0; i+len(term) <= len(tokens); i++ {
		match := true
		for j := range term {
			if tokens[i+j] != term[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
