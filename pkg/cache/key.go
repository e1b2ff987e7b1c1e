package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// KeyPrefix namespaces every annotation cache key.
const KeyPrefix = "annot"

// CacheKey identifies one cached annotation response.
type CacheKey struct {
	// Model is the model that produced the response.
	Model string

	// Variant is a digest of the prompt template and output schema.
	Variant string

	// Item is the annotated text.
	Item string
}

// NewKey builds a key, digesting prompt and schema into the Variant.
func NewKey(model, prompt, schema, item string) CacheKey {
	return CacheKey{
		Model:   model,
		Variant: Digest(prompt, schema),
		Item:    item,
	}
}

// Digest returns a short, stable hash of parts.
func Digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// String generates a deterministic cache key string.
// Format: annot:model:variant:item
//
// Example:
//
//	annot:gemini-flash-lite-latest:3f2a9c0d11e4b7a5:sony a7
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	if model := strings.TrimSpace(k.Model); model != "" {
		parts = append(parts, model)
	}
	if k.Variant != "" {
		parts = append(parts, k.Variant)
	}

	// Item text is normalized only for surrounding whitespace; case and
	// width are significant to the model.
	parts = append(parts, strings.TrimSpace(k.Item))

	return strings.Join(parts, ":")
}
