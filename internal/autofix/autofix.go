// Package autofix decides what happens to a chunk after a failed attempt:
// retry with a new seed, split into smaller chunks, or give up.
//
// A [Fixer] applies the decision to a playlist. It is driven by the
// scheduler's coordinator and checks its context before every re-enqueue, so
// a stopped run leaves failed chunks in FailedTransient for the next run to
// pick up.
package autofix

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync/atomic"

	"github.com/tacogerbil/chatterboxPro/internal/chunk"
	"github.com/tacogerbil/chatterboxPro/internal/fault"
	"github.com/tacogerbil/chatterboxPro/internal/playlist"
)

// Unbounded disables the retry budget.
const Unbounded = -1

// Action is the remedy chosen for a failed chunk.
type Action int

const (
	// Retry re-rolls the seed and returns the chunk to Pending.
	Retry Action = iota
	// Split replaces the chunk with smaller Pending chunks.
	Split
	// GiveUp marks the chunk FailedPermanent.
	GiveUp
)

func (a Action) String() string {
	switch a {
	case Retry:
		return "retry"
	case Split:
		return "split"
	case GiveUp:
		return "give_up"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Policy configures the loop.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	// [Unbounded] retries forever.
	MaxRetries int

	// SplitEnabled allows replacing a failing chunk with smaller ones.
	SplitEnabled bool

	// SplitExcessWords is the number of inserted words above which a
	// word-count failure is split instead of retried.
	SplitExcessWords int

	// MasterSeed, when non-zero, makes attempt seeds reproducible.
	MasterSeed int64
}

// Exhausted reports whether c has used its retry budget.
func (p Policy) Exhausted(c chunk.Chunk) bool {
	return p.MaxRetries != Unbounded && c.Retries >= p.MaxRetries
}

// Decision is the outcome of [Policy.Decide].
type Decision struct {
	Action Action
	// Parts holds the replacement texts for Split.
	Parts []string
	// Reason is recorded on the chunk for GiveUp.
	Reason string
}

// Decide picks the remedy for a FailedTransient chunk.
//
// A word-count failure with more inserted words than SplitExcessWords is
// split while budget remains. Otherwise the chunk is retried until the
// budget runs out. An exhausted chunk is split as a last resort when it has
// more than one sentence, and given up when it cannot be split.
func (p Policy) Decide(c chunk.Chunk) Decision {
	var parts []string
	splittable := false
	if p.SplitEnabled {
		parts, splittable = chunk.SplitBalanced(c.Text)
	}

	if !p.Exhausted(c) {
		if splittable && c.Verdict != nil && c.Verdict.Excess() > p.SplitExcessWords {
			return Decision{Action: Split, Parts: parts}
		}
		return Decision{Action: Retry}
	}
	if splittable {
		return Decision{Action: Split, Parts: parts}
	}

	reason := fmt.Sprintf("%s after %d attempts", fault.ErrRetryBudgetExhausted, c.Attempt())
	if c.FailureReason != "" {
		reason += ": " + c.FailureReason
	}
	return Decision{Action: GiveUp, Reason: reason}
}

// Seed returns the generation seed for the given 1-based attempt. With a
// master seed it is MasterSeed + attempt; otherwise a random positive
// 32-bit value.
func (p Policy) Seed(attempt int) int64 {
	if p.MasterSeed != 0 {
		return p.MasterSeed + int64(attempt)
	}
	return 1 + rand.Int64N(math.MaxUint32-1)
}

// Result reports what a [Fixer] did to one chunk.
type Result struct {
	ID       string
	Decision Decision
	// NewIDs lists the replacement chunks for Split.
	NewIDs []string
	// Chunk is the updated chunk for Retry and GiveUp.
	Chunk chunk.Chunk
}

// Fixer applies policy decisions to a playlist. The policy may be replaced
// at runtime. Safe for concurrent use.
type Fixer struct {
	pl     *playlist.Playlist
	policy atomic.Pointer[Policy]
}

// NewFixer returns a fixer for pl.
func NewFixer(pl *playlist.Playlist, p Policy) *Fixer {
	f := &Fixer{pl: pl}
	f.SetPolicy(p)
	return f
}

// SetPolicy replaces the active policy.
func (f *Fixer) SetPolicy(p Policy) { f.policy.Store(&p) }

// Policy returns the active policy.
func (f *Fixer) Policy() Policy { return *f.policy.Load() }

// Fix applies the remedy to the FailedTransient chunk id. When ctx is done it
// returns ctx's error and leaves the chunk untouched, except that giving up
// is still recorded since it enqueues nothing.
func (f *Fixer) Fix(ctx context.Context, id string) (Result, error) {
	c, ok := f.pl.Snapshot().Chunk(id)
	if !ok {
		return Result{}, fmt.Errorf("autofix: %w: %s", playlist.ErrUnknownID, id)
	}
	if c.Status != chunk.FailedTransient {
		return Result{}, fmt.Errorf("autofix: %w: %s is %s", chunk.ErrIllegalTransition, id, c.Status)
	}

	p := f.Policy()
	d := p.Decide(c)
	res := Result{ID: id, Decision: d}

	if d.Action != GiveUp {
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}

	var err error
	switch d.Action {
	case Retry:
		res.Chunk, err = f.pl.Apply(id, func(cur chunk.Chunk) (chunk.Chunk, error) {
			return cur.Retry()
		})
	case Split:
		res.NewIDs, err = f.pl.ReplaceChunk("auto_split", id, func(cur chunk.Chunk) ([]string, error) {
			if cur.Status != chunk.FailedTransient {
				return nil, fmt.Errorf("%w: %s is %s", chunk.ErrIllegalTransition, id, cur.Status)
			}
			return d.Parts, nil
		})
	case GiveUp:
		res.Chunk, err = f.pl.Apply(id, func(cur chunk.Chunk) (chunk.Chunk, error) {
			return cur.GiveUp(d.Reason)
		})
	}
	if err != nil {
		return res, fmt.Errorf("autofix: %s %s: %w", d.Action, id, err)
	}
	return res, nil
}
