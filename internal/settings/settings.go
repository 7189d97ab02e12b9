// ABOUTME: Per-user settings record and the store contract the bot consumes.
// ABOUTME: Records are keyed by the cross-channel user identity string.

package settings

import (
	"context"
	"errors"
	"time"

	"github.com/2389/almanac/internal/calendar"
)

// ErrNotFound is returned when no record exists for a user.
var ErrNotFound = errors.New("settings not found")

// Record is one user's persisted configuration. UserID is the identity
// string "frontend|user".
type Record struct {
	UserID    string
	Calendar  calendar.Config
	UpdatedAt time.Time
}

// Configured reports whether the user has connected a calendar yet.
func (r *Record) Configured() bool {
	return r.Calendar.Provider != ""
}

// Store persists settings records. Ensure provides the create-if-absent
// semantics conversations rely on; mutations only stick after an explicit
// Save.
type Store interface {
	// Ensure returns the user's record, creating an empty one first if
	// none exists.
	Ensure(ctx context.Context, userID string) (*Record, error)

	// Get returns the user's record or ErrNotFound.
	Get(ctx context.Context, userID string) (*Record, error)

	// Save writes the record.
	Save(ctx context.Context, rec *Record) error
}
