// Package fault defines the error taxonomy shared by the chunk lifecycle
// engine, the assembly engine and the control surfaces.
//
// Every error that crosses a package boundary wraps one of the sentinels below
// so callers can branch with [errors.Is]. [Classify] maps an arbitrary error to
// a short stable name used as a metric attribute and in API responses.
package fault

import (
	"context"
	"errors"
)

var (
	// ErrPortUnavailable reports that a synthesis or transcription backend
	// could not serve the request (network error, non-2xx status, open
	// circuit breaker, rate limit wait aborted).
	ErrPortUnavailable = errors.New("port unavailable")

	// ErrLowSignalRejected reports that the signal quality gate rejected a take
	// before transcription.
	ErrLowSignalRejected = errors.New("low signal rejected")

	// ErrValidationMismatch reports that a transcription did not match the
	// chunk's source text under the active strictness policy.
	ErrValidationMismatch = errors.New("validation mismatch")

	// ErrRetryBudgetExhausted reports that a chunk used all of its attempts and
	// could not be split further.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

	// ErrPlaylistIntegrity reports a structural violation: an unknown or
	// duplicate id, an illegal transition, an edit on a generating chunk, or
	// an assembly over chunks that have not passed.
	ErrPlaylistIntegrity = errors.New("playlist integrity violation")
)

// Names returned by [Classify].
const (
	KindNone         = "none"
	KindPort         = "port_unavailable"
	KindLowSignal    = "low_signal"
	KindMismatch     = "validation_mismatch"
	KindBudget       = "retry_budget_exhausted"
	KindIntegrity    = "playlist_integrity"
	KindCanceled     = "canceled"
	KindUnclassified = "unclassified"
)

// Classify returns the taxonomy name of err. A nil error yields [KindNone].
func Classify(err error) string {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrPlaylistIntegrity):
		return KindIntegrity
	case errors.Is(err, ErrRetryBudgetExhausted):
		return KindBudget
	case errors.Is(err, ErrLowSignalRejected):
		return KindLowSignal
	case errors.Is(err, ErrValidationMismatch):
		return KindMismatch
	case errors.Is(err, ErrPortUnavailable):
		return KindPort
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnclassified
	}
}

// IsFatal reports whether err must abort a whole run rather than fail a single
// chunk. Only integrity violations are fatal.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPlaylistIntegrity)
}
