// Package annotate provides the annotation service client: one
// request/response round trip per item, returning the decoded JSON object
// the service produced for it.
package annotate

import (
	"context"
	"errors"
	"strings"
)

// Placeholder is replaced by the item text when a prompt is rendered.
const Placeholder = "%s"

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-flash-lite-latest"

// DefaultPrompt extracts brand, normalized brand and category from a search keyword.
const DefaultPrompt = `Role: Query Understanding
Task: Extract Brand and Category
Input: "%s"
Rules:
- brand: Raw brand as appears in the query. If the query clearly mentions a brand, you MUST output it. Product line/model names are NOT brands (e.g., AirPods, Galaxy S23). For such models, output the actual manufacturer brand instead when clear (AirPods -> Apple, Galaxy S23 -> Samsung); otherwise leave brand empty.
- normalizedBrand: Brand name in UPPERCASE ENGLISH (e.g., 東芝->TOSHIBA, シャープ->SHARP, ナショナル->NATIONAL, AirPods->APPLE). If you output brand, you MUST output normalizedBrand. Only leave both empty when the query truly has no brand.
- category: COARSE product type only (no variants/attributes). UPPERCASE ENGLISH CONSTANT, 1-2 tokens with underscore. Examples (short): COFFEE_MAKER, LAPTOP, SMARTPHONE, CAMERA, LENS, TV, WASHING_MACHINE, MICROWAVE, RICE_COOKER, AIR_CONDITIONER, VACUUM, ROBOT_VACUUM, REFRIGERATOR. Do NOT add qualifiers like ESPRESSO/MULTI-FUNCTION/MANUAL. Always pick the base type only. Use the most common everyday term; avoid niche synonyms (e.g., prefer RECORD_PLAYER over TURNTABLE). If category is unclear/ambiguous, return an empty string "" (do NOT guess).`

// ErrPromptPlaceholder is returned when a prompt template does not contain
// exactly one Placeholder.
var ErrPromptPlaceholder = errors.New("prompt template must contain exactly one %s placeholder")

// Annotator performs one annotation call for one item.
type Annotator interface {
	Annotate(ctx context.Context, item string) (map[string]any, error)
}

// AnnotatorFunc adapts a function to Annotator.
type AnnotatorFunc func(ctx context.Context, item string) (map[string]any, error)

// Annotate calls f.
func (f AnnotatorFunc) Annotate(ctx context.Context, item string) (map[string]any, error) {
	return f(ctx, item)
}

// ValidatePrompt checks that tpl has exactly one Placeholder.
func ValidatePrompt(tpl string) error {
	if strings.Count(tpl, Placeholder) != 1 {
		return ErrPromptPlaceholder
	}
	return nil
}

// RenderPrompt substitutes item for the first Placeholder in tpl.
func RenderPrompt(tpl, item string) string {
	return strings.Replace(tpl, Placeholder, item, 1)
}
