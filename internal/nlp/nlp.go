// ABOUTME: Intent classification contract and the result shape handlers read.
// ABOUTME: Results carry ranked intents plus named entities and traits.

package nlp

import (
	"context"
	"strings"
)

// Classifier turns raw user text into a structured Result. Implementations
// are black boxes; the orchestrator only does named lookups on the result.
type Classifier interface {
	Classify(ctx context.Context, text string) (*Result, error)
}

// Result is the classification of one utterance, shaped like a wit.ai
// /message response: ranked intents plus entities and traits keyed by name.
type Result struct {
	Text     string              `json:"text"`
	Intents  []Intent            `json:"intents"`
	Entities map[string][]Entity `json:"entities"`
	Traits   map[string][]Trait  `json:"traits"`
}

// Intent is one ranked intent candidate.
type Intent struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Entity is one resolved span of the utterance. Entity map keys take the
// form "name:role"; Name repeats the bare name.
type Entity struct {
	Name       string  `json:"name"`
	Role       string  `json:"role"`
	Value      string  `json:"value"`
	Body       string  `json:"body"`
	Confidence float64 `json:"confidence"`
}

// Trait is an utterance-level signal such as a greeting or thanks.
type Trait struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Intent returns the top-ranked intent name, or "" when none was detected.
func (r *Result) Intent() string {
	if len(r.Intents) == 0 {
		return ""
	}
	return r.Intents[0].Name
}

// Has reports whether the result carries an entity or trait with the given
// bare name. Entity keys of the form "name:role" and builtin keys of the
// form "wit$name" both match on the name alone.
func (r *Result) Has(name string) bool {
	for key, vals := range r.Entities {
		if len(vals) > 0 && keyMatches(key, name) {
			return true
		}
	}
	for key, vals := range r.Traits {
		if len(vals) > 0 && keyMatches(key, name) {
			return true
		}
	}
	return false
}

func keyMatches(key, name string) bool {
	key = strings.TrimPrefix(key, "wit$")
	return key == name || strings.HasPrefix(key, name+":")
}
