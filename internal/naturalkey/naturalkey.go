// Package naturalkey derives the stable identifier that correlates one
// logical entity across the canonical, graph, and vector stores. A single
// normalization is applied everywhere so that name variants like
// "Han Solo" and "han_solo" resolve to the same key.
package naturalkey

import (
	"errors"
	"strings"
	"unicode"
)

const separator = '_'

var ErrUnusableName = errors.New("name normalizes to an empty natural key")

// Derive lowercases the name and collapses every run of non-alphanumeric
// characters into a single separator, trimming leading and trailing
// separators. An empty result is a KeyDerivationFailure.
func Derive(name string) (string, error) {
	var b strings.Builder
	b.Grow(len(name))

	pendingSep := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteRune(separator)
			}
			pendingSep = false
			b.WriteRune(r)
		} else {
			pendingSep = true
		}
	}

	key := b.String()
	if key == "" {
		return "", ErrUnusableName
	}
	return key, nil
}
