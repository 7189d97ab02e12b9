// ABOUTME: Deterministic keyword classifier used when no wit.ai token is set.
// ABOUTME: Matches word lists against the utterance; no network, no model.

package nlp

import (
	"context"
	"strings"
	"unicode"
)

// Word lists per signal. Matching any one word is sufficient. Traits and
// intents are reported independently; precedence between them belongs to
// the caller.
var (
	greetingWords = []string{
		"hello", "hi", "hey", "howdy", "greetings", "morning",
		"afternoon", "evening", "yo",
	}
	byeWords = []string{
		"bye", "goodbye", "goodnight", "later", "cya", "ciao",
	}
	thanksWords = []string{
		"thanks", "thank", "thx", "cheers", "ty",
	}

	calendarWords = []string{
		"calendar", "agenda", "appointments", "events", "schedule",
	}
	scheduleVerbs = []string{
		"schedule", "book", "arrange", "plan", "create", "add",
	}
	meetingWords = []string{
		"meeting", "call", "appointment", "event", "standup", "1:1",
	}
	setupVerbs = []string{
		"setup", "set", "configure", "connect", "change", "switch",
	}
	helpWords = []string{
		"help", "commands", "usage", "abilities",
	}
)

// Keywords is a deterministic, offline Classifier. It produces results in
// the same shape as the wit.ai client so callers cannot tell them apart.
type Keywords struct{}

// Classify matches text against the word lists. It never fails.
func (Keywords) Classify(_ context.Context, text string) (*Result, error) {
	words := tokenize(text)
	result := &Result{
		Text:     text,
		Entities: map[string][]Entity{},
		Traits:   map[string][]Trait{},
	}

	if containsAny(words, greetingWords) {
		result.Traits["greetings"] = []Trait{{Value: "true", Confidence: 1}}
	}
	if containsAny(words, byeWords) {
		result.Traits["bye"] = []Trait{{Value: "true", Confidence: 1}}
	}
	if containsAny(words, thanksWords) {
		result.Traits["thanks"] = []Trait{{Value: "true", Confidence: 1}}
	}

	switch {
	case containsAny(words, setupVerbs) && containsAny(words, calendarWords):
		result.Intents = []Intent{{Name: "setup_calendar", Confidence: 1}}
	case containsAny(words, scheduleVerbs) && containsAny(words, meetingWords):
		result.Intents = []Intent{{Name: "schedule_meeting", Confidence: 1}}
	case containsAny(words, calendarWords):
		result.Intents = []Intent{{Name: "show_calendar", Confidence: 1}}
	case containsAny(words, helpWords):
		result.Intents = []Intent{{Name: "help", Confidence: 1}}
	}

	return result, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ':'
	})
}

func containsAny(words, list []string) bool {
	for _, w := range words {
		for _, candidate := range list {
			if w == candidate {
				return true
			}
		}
	}
	return false
}
