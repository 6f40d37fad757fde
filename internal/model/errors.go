package model

import "errors"

// Error kinds reported by the routing engine. Call sites wrap them with the
// offending identifiers; callers match with errors.Is.
var (
	ErrUnknownStop   = errors.New("unknown stop")
	ErrDuplicateStop = errors.New("duplicate stop")
	ErrInvalidWeight = errors.New("invalid weight")
	ErrInvalidInput  = errors.New("invalid input")
	ErrNoPath        = errors.New("no path")
	ErrInfeasible    = errors.New("infeasible")
	ErrNoRouteFound  = errors.New("no route found")
	ErrTooManyStops  = errors.New("too many stops")
)

// ErrorKind returns a short label for err, used for metrics and problem titles.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownStop):
		return "unknown_stop"
	case errors.Is(err, ErrDuplicateStop):
		return "duplicate_stop"
	case errors.Is(err, ErrInvalidWeight):
		return "invalid_weight"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNoPath):
		return "no_path"
	case errors.Is(err, ErrInfeasible):
		return "infeasible"
	case errors.Is(err, ErrNoRouteFound):
		return "no_route_found"
	case errors.Is(err, ErrTooManyStops):
		return "too_many_stops"
	default:
		return "internal"
	}
}
