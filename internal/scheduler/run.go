package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tacogerbil/chatterboxPro/internal/autofix"
	"github.com/tacogerbil/chatterboxPro/internal/chunk"
	"github.com/tacogerbil/chatterboxPro/internal/playlist"
	"github.com/tacogerbil/chatterboxPro/pkg/audio"
	"github.com/tacogerbil/chatterboxPro/pkg/provider/tts"
)

// errStale marks a worker result for an attempt that has been superseded by
// an edit, a release or a deletion.
var errStale = errors.New("scheduler: stale result")

type genJob struct {
	id       string
	ordinal  int
	revision int
	attempt  int
	req      tts.Request
}

// candidate is one take of an attempt.
type candidate struct {
	take audio.Buffer
	path string
	seed int64
}

type genResult struct {
	job    genJob
	device string
	// takes holds at least one candidate when err is nil. The first is the
	// one attached to the chunk.
	takes []candidate
	err   error
}

type valJob struct {
	id       string
	ordinal  int
	revision int
	text     string
	takes    []candidate
}

type valResult struct {
	job     valJob
	verdict chunk.Verdict
	// chosen indexes job.takes.
	chosen int
	err    error
}

// run is the state owned by the coordinator for one call to Run.
type run struct {
	s *Scheduler

	// workCtx outlives a stop until the drain timeout.
	workCtx    context.Context
	cancelWork context.CancelFunc
	workers    errgroup.Group

	jobs       chan genJob
	genResults chan genResult
	vjobs      chan valJob
	valResults chan valResult

	// generating maps claimed chunk ids to the revision of their claim.
	generating map[string]int
	// validating maps ids queued or sent for validation to their revision.
	validating  map[string]int
	valQueue    []valJob
	valInflight int

	backoff     time.Duration
	pausedUntil time.Time

	// stopping is set once a drain begins.
	stopping bool
	// abandoned is set when the drain timeout fired with jobs in flight.
	abandoned bool
}

func newRun(s *Scheduler) *run {
	devices := len(s.cfg.Devices)
	workers := s.cfg.ValidationWorkers
	workCtx, cancel := context.WithCancel(context.Background())
	return &run{
		s:          s,
		workCtx:    workCtx,
		cancelWork: cancel,
		// Channel capacities equal the number of outstanding jobs the
		// coordinator allows, so neither side ever blocks on a send.
		jobs:       make(chan genJob, devices),
		genResults: make(chan genResult, devices),
		vjobs:      make(chan valJob, workers),
		valResults: make(chan valResult, workers),
		generating: make(map[string]int),
		validating: make(map[string]int),
	}
}

func (r *run) startWorkers() {
	for _, dev := range r.s.cfg.Devices {
		r.workers.Go(func() error {
			for job := range r.jobs {
				r.genResults <- r.synthesize(r.workCtx, dev, job)
			}
			return nil
		})
	}
	for range r.s.cfg.ValidationWorkers {
		r.workers.Go(func() error {
			for job := range r.vjobs {
				r.valResults <- r.validate(r.workCtx, job)
			}
			return nil
		})
	}
}

func (r *run) stopWorkers() {
	close(r.jobs)
	close(r.vjobs)
	r.cancelWork()
	if r.abandoned {
		// A port that ignores cancellation keeps its worker busy. Its result
		// lands in a buffered channel nobody reads and the worker exits on
		// its own; Run does not wait for it.
		go func() {
			_ = r.workers.Wait()
			slog.Debug("abandoned workers exited")
		}()
		return
	}
	_ = r.workers.Wait()
}

func (r *run) loop(ctx context.Context) error {
	r.startWorkers()
	defer r.stopWorkers()

	for {
		if ctx.Err() != nil {
			return r.drain()
		}
		changed := r.s.pl.Changed()
		if err := r.reconcile(ctx); err != nil {
			return r.abort(err)
		}
		if err := r.dispatch(ctx); err != nil {
			return r.abort(err)
		}
		r.feedValidators()
		if len(r.generating) == 0 && len(r.validating) == 0 && r.s.pl.Snapshot().Converged() {
			return nil
		}

		var (
			wake  <-chan time.Time
			timer *time.Timer
		)
		if wait := time.Until(r.pausedUntil); wait > 0 {
			timer = time.NewTimer(wait)
			wake = timer.C
		}
		err := r.wait(ctx, changed, wake)
		if timer != nil {
			timer.Stop()
		}
		if err != nil {
			return r.abort(err)
		}
	}
}

// wait blocks until one event arrives and handles it.
func (r *run) wait(ctx context.Context, changed <-chan struct{}, wake <-chan time.Time) error {
	select {
	case <-ctx.Done():
	case res := <-r.genResults:
		return r.onGenerated(ctx, res)
	case res := <-r.valResults:
		return r.onValidated(ctx, res)
	case <-changed:
	case <-wake:
	}
	return nil
}

// abort drains after a fatal error so no chunk is left Generating.
func (r *run) abort(err error) error {
	slog.Error("scheduler aborting run", "err", err)
	if derr := r.drain(); derr != nil {
		return errors.Join(err, derr)
	}
	return err
}

// transition applies fn to chunk id and reports the status change.
func (r *run) transition(ctx context.Context, id, op string, fn func(chunk.Chunk) (chunk.Chunk, error)) (chunk.Chunk, error) {
	var from chunk.Status
	c, err := r.s.pl.Apply(id, func(cur chunk.Chunk) (chunk.Chunk, error) {
		from = cur.Status
		return fn(cur)
	})
	if err != nil {
		return c, err
	}
	r.s.report(ctx, c, from, op)
	return c, nil
}

// expect guards fn so it only runs on the attempt that produced a result.
func expect(revision int, status chunk.Status, fn func(chunk.Chunk) (chunk.Chunk, error)) func(chunk.Chunk) (chunk.Chunk, error) {
	return func(cur chunk.Chunk) (chunk.Chunk, error) {
		if cur.Revision != revision || cur.Status != status {
			return cur, errStale
		}
		return fn(cur)
	}
}

// benign filters errors caused by a user edit racing the coordinator.
func benign(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errStale), errors.Is(err, playlist.ErrUnknownID), errors.Is(err, chunk.ErrIllegalTransition):
		slog.Debug("scheduler: result superseded", "err", err)
		return nil
	default:
		return err
	}
}

// reconcile brings chunks that no worker owns back into the pipeline. On the
// first pass this performs resume; afterwards it picks up auto-fix work.
func (r *run) reconcile(ctx context.Context) error {
	for _, c := range r.s.pl.Snapshot().Chunks() {
		switch c.Status {
		case chunk.Generating:
			if _, ok := r.generating[c.ID]; ok {
				continue
			}
			slog.Info("releasing orphaned claim", "chunk_id", c.ID, "ordinal", c.Ordinal)
			_, err := r.transition(ctx, c.ID, "release", expect(c.Revision, chunk.Generating, chunk.Chunk.Release))
			if err := benign(err); err != nil {
				return err
			}

		case chunk.AwaitingValidation:
			if _, ok := r.validating[c.ID]; ok {
				continue
			}
			if c.Audio == nil {
				v := chunk.Verdict{Kind: chunk.VerdictFailedOther, Detail: "take missing", At: time.Now()}
				_, err := r.transition(ctx, c.ID, "reject", expect(c.Revision, chunk.AwaitingValidation, func(cur chunk.Chunk) (chunk.Chunk, error) {
					return cur.Reject(v, false)
				}))
				if err := benign(err); err != nil {
					return err
				}
				continue
			}
			r.enqueueValidation(c)

		case chunk.FailedTransient:
			if err := r.fix(ctx, c.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// fix runs the auto-fix policy on one FailedTransient chunk.
func (r *run) fix(ctx context.Context, id string) error {
	res, err := r.s.comps.Fixer.Fix(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return benign(err)
	}
	m := r.s.metrics
	switch res.Decision.Action {
	case autofix.Retry:
		m.Retries.Add(ctx, 1)
		r.s.report(ctx, res.Chunk, chunk.FailedTransient, "auto_retry")
	case autofix.Split:
		r.s.reportSplit(ctx, id, "auto_split", res.NewIDs)
	case autofix.GiveUp:
		m.PermanentFailures.Add(ctx, 1)
		slog.Warn("chunk failed permanently",
			"chunk_id", id,
			"ordinal", res.Chunk.Ordinal,
			"attempt", res.Chunk.Attempt(),
			"err", res.Decision.Reason)
		r.s.report(ctx, res.Chunk, chunk.FailedTransient, "give_up")
	}
	return nil
}

// dispatch claims Pending chunks in playlist order while devices are free.
func (r *run) dispatch(ctx context.Context) error {
	if time.Now().Before(r.pausedUntil) {
		return nil
	}
	capacity := len(r.s.cfg.Devices)
	policy := r.s.comps.Fixer.Policy()
	for _, e := range r.s.pl.Snapshot().Entries() {
		if len(r.generating) >= capacity {
			return nil
		}
		if e.Kind != playlist.KindChunk || e.Chunk.Status != chunk.Pending {
			continue
		}
		c, err := r.transition(ctx, e.Chunk.ID, "claim", expect(e.Chunk.Revision, chunk.Pending, func(cur chunk.Chunk) (chunk.Chunk, error) {
			return cur.Claim(policy.Seed(cur.Attempt()))
		}))
		if err != nil {
			if err := benign(err); err != nil {
				return err
			}
			continue
		}
		r.generating[c.ID] = c.Revision
		r.s.attempts.Add(1)
		r.jobs <- genJob{
			id:       c.ID,
			ordinal:  c.Ordinal,
			revision: c.Revision,
			attempt:  c.Attempt(),
			req:      r.request(c),
		}
	}
	return nil
}

func (r *run) request(c chunk.Chunk) tts.Request {
	voice := r.s.cfg.Voice
	if c.Params.VoiceID != "" && c.Params.VoiceID != voice.ID {
		voice = voiceProfile(c.Params.VoiceID, voice)
	}
	return tts.Request{
		Text:   c.Text,
		Voice:  voice,
		Seed:   c.Params.Seed,
		Params: c.Params.GenerationParams,
	}
}

// enqueueValidation queues the attached take of c and any further
// candidates of the same attempt.
func (r *run) enqueueValidation(c chunk.Chunk, more ...candidate) {
	r.validating[c.ID] = c.Revision
	takes := append([]candidate{{take: *c.Audio, path: c.AudioPath, seed: c.Params.Seed}}, more...)
	r.valQueue = append(r.valQueue, valJob{
		id:       c.ID,
		ordinal:  c.Ordinal,
		revision: c.Revision,
		text:     c.Text,
		takes:    takes,
	})
}

func (r *run) feedValidators() {
	for r.valInflight < r.s.cfg.ValidationWorkers && len(r.valQueue) > 0 {
		job := r.valQueue[0]
		r.valQueue = r.valQueue[1:]
		r.valInflight++
		r.vjobs <- job
	}
}

func (r *run) onGenerated(ctx context.Context, res genResult) error {
	delete(r.generating, res.job.id)
	if res.err != nil {
		r.portFailed()
		slog.Warn("synthesis failed",
			"chunk_id", res.job.id,
			"ordinal", res.job.ordinal,
			"device", res.device,
			"attempt", res.job.attempt,
			"err", res.err)
		_, err := r.transition(ctx, res.job.id, "synthesis_failed", expect(res.job.revision, chunk.Generating, func(cur chunk.Chunk) (chunk.Chunk, error) {
			return cur.Fail(res.err.Error())
		}))
		return benign(err)
	}
	r.portRecovered()
	first := res.takes[0]
	c, err := r.transition(ctx, res.job.id, "attach", expect(res.job.revision, chunk.Generating, func(cur chunk.Chunk) (chunk.Chunk, error) {
		return cur.Attach(first.take, first.path)
	}))
	if err != nil {
		return benign(err)
	}
	r.enqueueValidation(c, res.takes[1:]...)
	return nil
}

func (r *run) onValidated(ctx context.Context, res valResult) error {
	r.valInflight--
	if rev, ok := r.validating[res.job.id]; ok && rev == res.job.revision {
		delete(r.validating, res.job.id)
	}
	v := res.verdict
	if res.err != nil {
		if r.stopping || ctx.Err() != nil {
			// Left AwaitingValidation; the next run validates it again.
			return nil
		}
		slog.Warn("validation failed",
			"chunk_id", res.job.id,
			"ordinal", res.job.ordinal,
			"err", res.err)
		v = chunk.Verdict{Kind: chunk.VerdictFailedOther, Detail: res.err.Error(), At: time.Now()}
	}
	r.s.metrics.RecordVerdict(ctx, v.Kind.String())

	chosen := res.job.takes[res.chosen]
	if len(res.job.takes) > 1 {
		if !r.current(res.job.id, res.job.revision, chunk.AwaitingValidation) {
			return nil
		}
		chosen = settleCandidates(res.job.takes, res.chosen)
	}

	keep := r.s.cfg.KeepFailedTakes
	_, err := r.transition(ctx, res.job.id, "validate", expect(res.job.revision, chunk.AwaitingValidation, func(cur chunk.Chunk) (chunk.Chunk, error) {
		if res.chosen > 0 {
			var err error
			if cur, err = cur.Select(chosen.take, chosen.path, chosen.seed); err != nil {
				return cur, err
			}
		}
		if v.Passed() {
			return cur.Pass(v)
		}
		return cur.Reject(v, keep)
	}))
	return benign(err)
}

// current reports whether chunk id is still on the attempt with revision
// and in status.
func (r *run) current(id string, revision int, status chunk.Status) bool {
	c, ok := r.s.pl.Snapshot().Chunk(id)
	return ok && c.Revision == revision && c.Status == status
}

func (r *run) portFailed() {
	if r.backoff == 0 {
		r.backoff = r.s.cfg.PortBackoff
	} else {
		r.backoff = min(2*r.backoff, maxPortBackoff)
	}
	r.pausedUntil = time.Now().Add(r.backoff)
}

func (r *run) portRecovered() {
	r.backoff = 0
	r.pausedUntil = time.Time{}
}

// drain stops claiming, lets in-flight jobs finish until the drain timeout
// and releases whatever is left. On return no chunk claimed by this run is
// Generating.
func (r *run) drain() error {
	r.stopping = true
	ctx := context.Background()

	// Claimed jobs no worker has picked up yet are released right away.
	for {
		select {
		case job := <-r.jobs:
			delete(r.generating, job.id)
			r.release(ctx, job.id, job.revision)
			continue
		default:
		}
		break
	}
	for {
		select {
		case <-r.vjobs:
			r.valInflight--
			continue
		default:
		}
		break
	}
	r.valQueue = nil

	if len(r.generating) > 0 || r.valInflight > 0 {
		slog.Info("draining in-flight jobs",
			"generating", len(r.generating),
			"validating", r.valInflight,
			"timeout", r.s.cfg.DrainTimeout)
	}
	timeout := time.NewTimer(r.s.cfg.DrainTimeout)
	defer timeout.Stop()
	for len(r.generating) > 0 || r.valInflight > 0 {
		select {
		case res := <-r.genResults:
			delete(r.generating, res.job.id)
			if res.err != nil {
				r.release(ctx, res.job.id, res.job.revision)
				continue
			}
			// Finished takes are kept and validated by the next run. Only the
			// first candidate survives a stop.
			first := res.takes[0]
			removeTakes(res.takes[1:])
			_, err := r.transition(ctx, res.job.id, "attach", expect(res.job.revision, chunk.Generating, func(cur chunk.Chunk) (chunk.Chunk, error) {
				return cur.Attach(first.take, first.path)
			}))
			if err := benign(err); err != nil {
				return fmt.Errorf("scheduler: drain: %w", err)
			}
		case res := <-r.valResults:
			if err := r.onValidated(ctx, res); err != nil {
				return fmt.Errorf("scheduler: drain: %w", err)
			}
		case <-timeout.C:
			slog.Warn("drain timeout, abandoning in-flight jobs",
				"generating", len(r.generating),
				"validating", r.valInflight)
			r.abandoned = true
			r.cancelWork()
			for id, rev := range r.generating {
				r.release(ctx, id, rev)
				delete(r.generating, id)
			}
			return nil
		}
	}
	return nil
}

func (r *run) release(ctx context.Context, id string, revision int) {
	_, err := r.transition(ctx, id, "release", expect(revision, chunk.Generating, chunk.Chunk.Release))
	if err := benign(err); err != nil {
		slog.Error("release failed", "chunk_id", id, "err", err)
	}
}
