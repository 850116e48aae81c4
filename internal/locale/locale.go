// Package locale resolves the value sent in the x-lang header.
package locale

import (
	"golang.org/x/text/language"
)

// Default is used when no provider is configured or the provided tag is invalid.
const Default = "en"

// Provider returns the user's current locale, e.g. "fr-CA".
type Provider func() string

// Resolve canonicalises the provider's tag, falling back to fallback and then Default.
func Resolve(p Provider, fallback string) string {
	if p != nil {
		if tag, ok := canonical(p()); ok {
			return tag
		}
	}
	if tag, ok := canonical(fallback); ok {
		return tag
	}
	return Default
}

func canonical(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	tag, err := language.Parse(raw)
	if err != nil || tag == language.Und {
		return "", false
	}
	return tag.String(), true
}
