// Package chunk models one narratable unit of text and its lifecycle.
//
// A [Chunk] is a value. Every lifecycle operation ([Chunk.Claim],
// [Chunk.Attach], [Chunk.Pass], [Chunk.Fail] and friends) returns a modified
// copy and never touches the receiver, which lets the playlist publish
// snapshots that readers can hold without locks. Illegal moves return an error
// wrapping [ErrIllegalTransition].
package chunk

import (
	"fmt"
	"time"

	"github.com/tacogerbil/chatterboxPro/internal/fault"
	"github.com/tacogerbil/chatterboxPro/pkg/audio"
	"github.com/tacogerbil/chatterboxPro/pkg/types"
)

// ErrIllegalTransition is returned when a lifecycle operation is not allowed
// from the chunk's current status. It wraps [fault.ErrPlaylistIntegrity].
var ErrIllegalTransition = fmt.Errorf("chunk: illegal transition: %w", fault.ErrPlaylistIntegrity)

// Params are the generation parameters attached to a chunk.
type Params struct {
	// Seed is the seed of the most recent attempt. Zero before the first claim.
	Seed int64 `yaml:"seed,omitempty" json:"seed,omitempty" toml:"seed,omitempty"`

	// VoiceID selects the narrator voice. Empty uses the configured default.
	VoiceID string `yaml:"voice_id,omitempty" json:"voice_id,omitempty" toml:"voice_id,omitempty"`

	types.GenerationParams `yaml:",inline"`
}

// Chunk is one narratable unit of source text.
type Chunk struct {
	// ID is a UUID that never changes for the life of the chunk.
	ID string

	// Ordinal is assigned at creation from a monotonically increasing counter
	// and is never reused. It names take files and orders log output; playlist
	// position is independent of it.
	Ordinal int

	Text  string
	Words []string

	Status Status

	// Audio is nil or a complete take. It is replaced wholesale.
	Audio *audio.Buffer

	// AudioPath is where Audio was last persisted, if anywhere.
	AudioPath string

	Params Params

	// Retries counts automatic re-rolls since the last reset.
	Retries int

	// Revision increases on every claim and reset. A job result carrying an
	// older revision belongs to a superseded attempt and is discarded.
	Revision int

	Verdict       *Verdict
	FailureReason string

	UpdatedAt time.Time
}

// New returns a Pending chunk for text.
func New(id string, ordinal int, text string, params Params) Chunk {
	return Chunk{
		ID:        id,
		Ordinal:   ordinal,
		Text:      text,
		Words:     Words(text),
		Status:    Pending,
		Params:    params,
		UpdatedAt: time.Now(),
	}
}

// Attempt is the 1-based number of the attempt the chunk is on.
func (c Chunk) Attempt() int { return c.Retries + 1 }

// HasAudio reports whether the chunk carries a take.
func (c Chunk) HasAudio() bool { return c.Audio != nil }

func (c Chunk) to(s Status) (Chunk, error) {
	if !CanTransition(c.Status, s) {
		return c, fmt.Errorf("%w: %s: %s -> %s", ErrIllegalTransition, c.ID, c.Status, s)
	}
	c.Status = s
	c.UpdatedAt = time.Now()
	return c, nil
}

// Claim moves a Pending chunk to Generating and records the seed of the
// attempt. Claiming a chunk that is already Generating is illegal.
func (c Chunk) Claim(seed int64) (Chunk, error) {
	c, err := c.to(Generating)
	if err != nil {
		return c, err
	}
	c.Params.Seed = seed
	c.Revision++
	return c, nil
}

// Release returns a Generating chunk to Pending without consuming a retry.
// It is used when a job is abandoned (stop, drain timeout, crash recovery).
func (c Chunk) Release() (Chunk, error) {
	if c.Status != Generating {
		return c, fmt.Errorf("%w: %s: release from %s", ErrIllegalTransition, c.ID, c.Status)
	}
	c, err := c.to(Pending)
	if err != nil {
		return c, err
	}
	c.Revision++
	return c, nil
}

// Attach stores a complete take and moves the chunk to AwaitingValidation.
func (c Chunk) Attach(buf audio.Buffer, path string) (Chunk, error) {
	if c.Status != Generating {
		return c, fmt.Errorf("%w: %s: attach from %s", ErrIllegalTransition, c.ID, c.Status)
	}
	c, err := c.to(AwaitingValidation)
	if err != nil {
		return c, err
	}
	c.Audio = &buf
	c.AudioPath = path
	c.Verdict = nil
	c.FailureReason = ""
	return c, nil
}

// Select swaps the take under validation for another candidate of the same
// attempt, generated with seed. The status and revision are unchanged.
func (c Chunk) Select(buf audio.Buffer, path string, seed int64) (Chunk, error) {
	if c.Status != AwaitingValidation {
		return c, fmt.Errorf("%w: %s: select from %s", ErrIllegalTransition, c.ID, c.Status)
	}
	c.Audio = &buf
	c.AudioPath = path
	c.Params.Seed = seed
	c.UpdatedAt = time.Now()
	return c, nil
}

// Pass records a passing verdict.
func (c Chunk) Pass(v Verdict) (Chunk, error) {
	if !v.Passed() {
		return c, fmt.Errorf("chunk: %s: pass with %s verdict", c.ID, v.Kind)
	}
	c, err := c.to(Passed)
	if err != nil {
		return c, err
	}
	c.Verdict = &v
	c.FailureReason = ""
	return c, nil
}

// Reject records a failing verdict for the take under validation. The take is
// dropped unless keepTake is set.
func (c Chunk) Reject(v Verdict, keepTake bool) (Chunk, error) {
	if c.Status != AwaitingValidation {
		return c, fmt.Errorf("%w: %s: reject from %s", ErrIllegalTransition, c.ID, c.Status)
	}
	c, err := c.to(FailedTransient)
	if err != nil {
		return c, err
	}
	c.Verdict = &v
	c.FailureReason = v.String()
	if !keepTake {
		c.Audio = nil
		c.AudioPath = ""
	}
	return c, nil
}

// Fail records a port error for a Generating chunk. No take is attached.
func (c Chunk) Fail(reason string) (Chunk, error) {
	if c.Status != Generating {
		return c, fmt.Errorf("%w: %s: fail from %s", ErrIllegalTransition, c.ID, c.Status)
	}
	c, err := c.to(FailedTransient)
	if err != nil {
		return c, err
	}
	c.FailureReason = reason
	return c, nil
}

// Retry moves a FailedTransient chunk back to Pending and consumes one retry.
func (c Chunk) Retry() (Chunk, error) {
	if c.Status != FailedTransient {
		return c, fmt.Errorf("%w: %s: retry from %s", ErrIllegalTransition, c.ID, c.Status)
	}
	c, err := c.to(Pending)
	if err != nil {
		return c, err
	}
	c.Retries++
	c.Audio = nil
	c.AudioPath = ""
	return c, nil
}

// GiveUp moves a FailedTransient chunk to FailedPermanent.
func (c Chunk) GiveUp(reason string) (Chunk, error) {
	c, err := c.to(FailedPermanent)
	if err != nil {
		return c, err
	}
	if reason != "" {
		c.FailureReason = reason
	}
	return c, nil
}

// Requeue moves a Passed or FailedPermanent chunk back to Pending, clearing
// its take, verdict and retry count.
func (c Chunk) Requeue() (Chunk, error) {
	if c.Status != Passed && c.Status != FailedPermanent {
		return c, fmt.Errorf("%w: %s: requeue from %s", ErrIllegalTransition, c.ID, c.Status)
	}
	c, err := c.to(Pending)
	if err != nil {
		return c, err
	}
	c.Revision++
	return c.cleared(), nil
}

// Edit replaces the chunk's text and parameters. The chunk returns to Pending
// with no take, verdict or failure. Editing a Generating chunk is illegal.
func (c Chunk) Edit(text string, params Params) (Chunk, error) {
	if c.Status == Generating {
		return c, fmt.Errorf("%w: %s: edit while generating", ErrIllegalTransition, c.ID)
	}
	c.Text = text
	c.Words = Words(text)
	c.Params = params
	c.Status = Pending
	c.UpdatedAt = time.Now()
	c.Revision++
	return c.cleared(), nil
}

func (c Chunk) cleared() Chunk {
	c.Audio = nil
	c.AudioPath = ""
	c.Verdict = nil
	c.FailureReason = ""
	c.Retries = 0
	return c
}
