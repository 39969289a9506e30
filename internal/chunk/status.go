package chunk

import (
	"fmt"
)

// Status is the lifecycle state of a chunk.
type Status int

const (
	// Pending chunks are eligible for dispatch.
	Pending Status = iota

	// Generating chunks are claimed by exactly one worker.
	Generating

	// AwaitingValidation chunks carry a complete take that has not been judged.
	AwaitingValidation

	// Passed chunks carry a take that cleared the gate and the validator.
	Passed

	// FailedTransient chunks are waiting for the auto-fix policy.
	FailedTransient

	// FailedPermanent chunks are never retried automatically.
	FailedPermanent

	// Skipped is reported for pauses and chapter markers. A chunk never holds
	// this status.
	Skipped
)

var statusNames = [...]string{
	Pending:            "pending",
	Generating:         "generating",
	AwaitingValidation: "awaiting_validation",
	Passed:             "passed",
	FailedTransient:    "failed_transient",
	FailedPermanent:    "failed_permanent",
	Skipped:            "skipped",
}

// AllStatuses lists every status in declaration order.
var AllStatuses = []Status{Pending, Generating, AwaitingValidation, Passed, FailedTransient, FailedPermanent, Skipped}

// String returns the snake_case name of s.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus is the inverse of [Status.String].
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("chunk: unknown status %q", name)
}

// MarshalText implements [encoding.TextMarshaler].
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Terminal reports whether s is a resting state the scheduler will not act on
// without an explicit re-queue.
func (s Status) Terminal() bool {
	return s == Passed || s == FailedPermanent || s == Skipped
}

// transitions lists the legal moves out of each status.
var transitions = map[Status][]Status{
	Pending:            {Generating},
	Generating:         {AwaitingValidation, FailedTransient, Pending},
	AwaitingValidation: {Passed, FailedTransient},
	FailedTransient:    {Pending, FailedPermanent},
	Passed:             {Pending},
	FailedPermanent:    {Pending},
}

// CanTransition reports whether moving from one status to another is legal.
//
// Generating -> Pending is reserved for releasing an abandoned claim (a job
// cancelled by stop, or a claim left behind by a crash) and does not count as
// an attempt.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
