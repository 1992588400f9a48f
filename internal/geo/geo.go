// Package geo models the geolocation source a view asks for its position.
// Browsers report a position or a failure reason; a server-side IP lookup can
// stand in when the client has no geolocation of its own.
package geo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"weatherview/internal/models"
)

type Reason string

const (
	ReasonDenied      Reason = "denied"
	ReasonUnavailable Reason = "unavailable"
	ReasonTimeout     Reason = "timeout"
	ReasonUnsupported Reason = "unsupported"
)

type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("geolocation %s: %v", e.Reason, e.Err)
	}
	return "geolocation " + string(e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// ParseReason maps the client-reported failure string. Unknown values count as unavailable.
func ParseReason(s string) Reason {
	switch Reason(strings.ToLower(strings.TrimSpace(s))) {
	case ReasonDenied, "permission_denied":
		return ReasonDenied
	case ReasonTimeout:
		return ReasonTimeout
	case ReasonUnsupported:
		return ReasonUnsupported
	default:
		return ReasonUnavailable
	}
}

type Provider interface {
	Locate(ctx context.Context) (models.Coordinates, error)
}

// Fixed reports coordinates the client already resolved.
type Fixed models.Coordinates

func (f Fixed) Locate(context.Context) (models.Coordinates, error) {
	return models.Coordinates(f), nil
}

// Failed reports a client-side geolocation failure.
type Failed Reason

func (f Failed) Locate(context.Context) (models.Coordinates, error) {
	return models.Coordinates{}, &Error{Reason: Reason(f)}
}

// Unsupported is used when neither the client nor the server can geolocate.
var Unsupported Provider = Failed(ReasonUnsupported)

// Classify wraps a provider error into *Error, mapping context deadlines to a timeout.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Reason: ReasonTimeout, Err: err}
	}
	return &Error{Reason: ReasonUnavailable, Err: err}
}
