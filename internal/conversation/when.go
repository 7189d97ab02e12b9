// ABOUTME: Parsing of user-supplied meeting start phrases
// ABOUTME: Accepts absolute stamps plus today/tomorrow clock forms

package conversation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var errUnparseableWhen = errors.New("unparseable time phrase")

// Absolute layouts tried first, in order.
var whenLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

// parseWhen resolves a user's answer to "when should it start?" against
// now. Besides the absolute layouts it accepts "today at HH:MM",
// "tomorrow at HH:MM" and a bare clock time; a bare time already in the
// past rolls over to the same time tomorrow.
func parseWhen(text string, now time.Time) (time.Time, error) {
	raw := strings.TrimSpace(text)
	for _, layout := range whenLayouts {
		if t, err := time.ParseInLocation(layout, raw, now.Location()); err == nil {
			return t, nil
		}
	}

	s := strings.ToLower(raw)
	day := now
	explicitDay := false
	switch {
	case strings.HasPrefix(s, "tomorrow"):
		day = now.AddDate(0, 0, 1)
		s = strings.TrimPrefix(s, "tomorrow")
		explicitDay = true
	case strings.HasPrefix(s, "today"):
		s = strings.TrimPrefix(s, "today")
		explicitDay = true
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimPrefix(s, "at "))

	hour, minute, ok := parseClock(s)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", errUnparseableWhen, text)
	}

	t := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
	if !explicitDay && t.Before(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

// parseClock reads "15:04", "9:30", "3pm" or "9:30am" style clock times.
func parseClock(s string) (hour, minute int, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, false
	}

	meridiem := ""
	if rest, found := strings.CutSuffix(s, "am"); found {
		meridiem, s = "am", strings.TrimSpace(rest)
	} else if rest, found := strings.CutSuffix(s, "pm"); found {
		meridiem, s = "pm", strings.TrimSpace(rest)
	}

	hourPart, minutePart, hasMinute := strings.Cut(s, ":")
	hour, err := strconv.Atoi(hourPart)
	if err != nil {
		return 0, 0, false
	}
	if hasMinute {
		if minute, err = strconv.Atoi(minutePart); err != nil {
			return 0, 0, false
		}
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, false
	}
	if meridiem != "" && hour > 12 {
		return 0, 0, false
	}

	switch meridiem {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	return hour, minute, true
}
