package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tacogerbil/chatterboxPro/internal/scheduler"
)

// ErrRunActive is returned by [RunManager.Start] while a run is in progress.
var ErrRunActive = errors.New("app: a run is already active")

// RunInfo describes the current or most recent run.
type RunInfo struct {
	ID        string    `json:"id"`
	StartedBy string    `json:"started_by,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	Active    bool      `json:"active"`

	Summary *scheduler.Summary `json:"summary,omitempty"`
	Err     string             `json:"error,omitempty"`
}

// RunManager runs the scheduler in the background. Only one run is active
// at a time. All exported methods are safe for concurrent use.
type RunManager struct {
	sched  *scheduler.Scheduler
	onDone func(scheduler.Summary, error)

	mu     sync.Mutex
	info   RunInfo
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunManager returns a manager for sched. onDone, when non-nil, is called
// after every run from the run's goroutine.
func NewRunManager(sched *scheduler.Scheduler, onDone func(scheduler.Summary, error)) *RunManager {
	return &RunManager{sched: sched, onDone: onDone}
}

// Start launches a run. The run outlives ctx's values but not its
// cancellation; use [RunManager.Stop] to end it early.
func (rm *RunManager) Start(ctx context.Context, startedBy string) (RunInfo, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.info.Active {
		return rm.info, fmt.Errorf("%w (id=%s)", ErrRunActive, rm.info.ID)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopOnParent := context.AfterFunc(ctx, cancel)

	rm.info = RunInfo{
		ID:        uuid.NewString(),
		StartedBy: startedBy,
		StartedAt: time.Now().UTC(),
		Active:    true,
	}
	rm.cancel = cancel
	rm.done = make(chan struct{})
	info := rm.info
	done := rm.done

	go func() {
		defer close(done)
		defer stopOnParent()
		defer cancel()

		sum, err := rm.sched.Run(runCtx)

		rm.mu.Lock()
		rm.info.Active = false
		rm.info.EndedAt = time.Now().UTC()
		rm.info.Summary = &sum
		if err != nil {
			rm.info.Err = err.Error()
		}
		rm.mu.Unlock()

		if err != nil {
			slog.Error("run failed", "run_id", info.ID, "err", err)
		} else {
			slog.Info("run finished",
				"run_id", info.ID,
				"converged", sum.Converged,
				"stopped", sum.Stopped,
				"attempts", sum.Attempts,
				"elapsed", sum.Elapsed.Round(time.Millisecond))
		}
		if rm.onDone != nil {
			rm.onDone(sum, err)
		}
	}()

	slog.Info("run started", "run_id", info.ID, "started_by", startedBy)
	return info, nil
}

// Stop asks the active run to stop. It returns immediately; use
// [RunManager.Wait] to wait for the drain.
func (rm *RunManager) Stop() {
	rm.mu.Lock()
	cancel := rm.cancel
	rm.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the current run ends or ctx is done. It returns at once
// when no run was ever started.
func (rm *RunManager) Wait(ctx context.Context) (RunInfo, error) {
	rm.mu.Lock()
	done := rm.done
	rm.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return rm.Info(), ctx.Err()
		}
	}
	return rm.Info(), nil
}

// Info returns a copy of the current or most recent run.
func (rm *RunManager) Info() RunInfo {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.info
}

// IsActive reports whether a run is in progress.
func (rm *RunManager) IsActive() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.info.Active
}
