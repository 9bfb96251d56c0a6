package core

import "errors"

var (
	// ErrSessionInvalid is returned by the backend when the trip session is stale or unknown.
	ErrSessionInvalid = errors.New("trip session invalid")

	// ErrTransient marks a network or availability failure that may succeed later.
	ErrTransient = errors.New("transient backend failure")

	// ErrRejected marks a request the backend refused; repeating it will not help.
	ErrRejected = errors.New("rejected by backend")

	// ErrTripFatal ends the current trip; tracking must be restarted by the driver.
	ErrTripFatal = errors.New("trip stopped")

	// ErrNotTracking is returned by operations that need an active trip.
	ErrNotTracking = errors.New("not tracking")

	// ErrMalformedSample marks a capture with exactly one usable coordinate.
	ErrMalformedSample = errors.New("malformed location sample")

	// ErrReconnectExhausted is recorded when the lifecycle manager gives up auto-retrying.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrNotFound is returned when a vehicle or route is not known.
	ErrNotFound = errors.New("not found")
)

// IsSessionInvalid reports whether err is, or wraps, ErrSessionInvalid.
func IsSessionInvalid(err error) bool {
	return errors.Is(err, ErrSessionInvalid)
}
