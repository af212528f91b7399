package enrichment

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pageza/foodlens/backend/internal/models"
)

// BuildPrompt describes the detected foods and asks for commentary in the given locale
func BuildPrompt(detections []models.Detection, locale string) string {
	items := make([]string, len(detections))
	for i, d := range detections {
		items[i] = fmt.Sprintf("%s (%.0f%%)", strings.ReplaceAll(d.Label, "_", " "), d.Confidence*100)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "A food photo was analyzed and these items were detected: %s.\n\n", strings.Join(items, ", "))
	b.WriteString("In the commentary, cover briefly:\n")
	b.WriteString("1. Food identification, noting any likely misdetection\n")
	b.WriteString("2. Culinary analysis: cooking methods, key ingredients, presentation\n")
	b.WriteString("3. Nutritional assessment: health benefits and macro balance\n")
	b.WriteString("4. Flavor profile: taste, texture, aroma\n")
	b.WriteString("5. Pairing suggestions: drinks or sides that complement it\n")
	b.WriteString("6. Health tips: dietary considerations, common allergens, modifications\n")
	b.WriteString("7. Quality assessment: what a well prepared version looks like\n\n")
	b.WriteString("In cultural_context, describe the origin, traditional preparation and cultural significance.\n")
	fmt.Fprintf(&b, "Write both fields in the language for locale %q. Keep it concise but engaging.", locale)
	return b.String()
}

// parseReply reads the model output. JSON replies fill both fields; anything
// else is used verbatim as commentary.
func parseReply(text string) (Enrichment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Enrichment{}, fmt.Errorf("%w: empty reply", ErrMalformed)
	}

	body := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(text, "```json"), "```"), "```")
	var out Enrichment
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &out); err == nil && out.Commentary != "" {
		return out, nil
	}
	return Enrichment{Commentary: text}, nil
}
