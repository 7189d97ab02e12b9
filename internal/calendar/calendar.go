// ABOUTME: Calendar access contract and provider selection.
// ABOUTME: Accessors list events; providers that can write also implement Scheduler.

package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Supported provider names, as stored in a user's settings record.
const (
	ProviderCalDAV    = "caldav"
	ProviderOffice365 = "office365"
)

// ErrUnknownProvider is returned by Open for provider names it cannot serve.
var ErrUnknownProvider = errors.New("unknown calendar provider")

// Event is one calendar entry.
type Event struct {
	Start time.Time
	Title string
}

// Accessor reads a user's calendar.
type Accessor interface {
	// Events lists events starting within [from, to), ordered by start
	// time.
	Events(ctx context.Context, from, to time.Time) ([]Event, error)
}

// Scheduler is implemented by accessors that can also write events.
// Implementations pick a sensible duration since Event carries none.
type Scheduler interface {
	Schedule(ctx context.Context, ev Event) error
}

// Config is the per-user calendar configuration carried inside the settings
// record. Which fields matter depends on the provider: CalDAV uses URL,
// Username and Password; Office 365 uses Token.
type Config struct {
	Provider string `yaml:"provider" json:"provider"`
	URL      string `yaml:"url" json:"url"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	Token    string `yaml:"token" json:"token"`
}

// Open builds the accessor for cfg's provider.
func Open(cfg Config, logger *slog.Logger) (Accessor, error) {
	switch cfg.Provider {
	case ProviderCalDAV:
		return newCalDAV(cfg, logger)
	case ProviderOffice365:
		return newOffice365(cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

func sortByStart(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
}
