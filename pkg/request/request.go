// Package request implements the wire-level optimization request: the
// decrypted body grammar and the struct the transport hands to the
// session pipeline.
package request

import (
	"errors"
	"time"

	"github.com/guapow/opt/pkg/profile"
)

// ErrNoOptionSet is returned when a request resolves to neither or both of
// a profile name and inline options, violating the invariant that exactly
// one must be present.
var ErrNoOptionSet = errors.New("request must carry exactly one of a profile name or inline options")

// Request is one decoded, authorized optimization request.
type Request struct {
	User          string
	PID           int
	ProfileName   string
	ProfileAdd    string // name of the overlay profile, empty if none requested
	Inline        *profile.Options
	Timestamp     time.Time
	CorrelationID string
}

// Validate enforces that exactly one of profile name or inline options
// is present on the request. An empty Inline with zero fields set
// still counts as present if any token was decoded for it; Decode only
// ever sets Inline when at least one non-request.* token was seen, so a
// nil Inline here means "no inline options were supplied".
func (r *Request) Validate() error {
	hasProfile := r.ProfileName != ""
	hasInline := r.Inline != nil

	if hasProfile == hasInline {
		return ErrNoOptionSet
	}

	return nil
}
