package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tacogerbil/chatterboxPro/internal/chunk"
	"github.com/tacogerbil/chatterboxPro/internal/fault"
	"github.com/tacogerbil/chatterboxPro/internal/observe"
	"github.com/tacogerbil/chatterboxPro/pkg/audio"
	"github.com/tacogerbil/chatterboxPro/pkg/provider/tts"
	"github.com/tacogerbil/chatterboxPro/pkg/types"
)

// TakeName returns the file name of the take for the chunk with ordinal.
func TakeName(ordinal int) string {
	return fmt.Sprintf("chunk_%05d.wav", ordinal)
}

// CandidateName returns the file name of candidate n (n > 0) of the chunk
// with ordinal. Candidate 0 uses [TakeName].
func CandidateName(ordinal, n int) string {
	return fmt.Sprintf("chunk_%05d.cand%d.wav", ordinal, n)
}

// synthesize runs one attempt on dev, generating the configured number of
// candidates with consecutive seeds. It never touches the playlist.
func (r *run) synthesize(ctx context.Context, dev Device, job genJob) genResult {
	m := r.s.metrics
	n := r.s.cfg.Candidates
	attrs := observe.ChunkAttrs{
		ID:         job.id,
		Ordinal:    job.ordinal,
		Attempt:    job.attempt,
		Device:     dev.ID,
		Candidates: n,
	}
	ctx, span := observe.StartChunkSpan(ctx, "chunk.synthesize", attrs)
	defer span.End()

	deviceAttr := observe.Attr("device", dev.ID)
	m.ActiveJobs.Add(ctx, 1, metric.WithAttributes(deviceAttr))
	defer m.ActiveJobs.Add(ctx, -1, metric.WithAttributes(deviceAttr))

	res := genResult{job: job, device: dev.ID}
	var lastErr error
	for i := range n {
		req := job.req
		req.Seed += int64(i)
		take, err := r.generate(ctx, dev, req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			if n > 1 {
				observe.ChunkLogger(ctx, attrs).Debug("candidate failed", "candidate", i, "err", err)
			}
			continue
		}
		res.takes = append(res.takes, candidate{take: take, seed: req.Seed})
	}
	if len(res.takes) == 0 {
		res.err = lastErr
		observe.FailSpan(span, res.err)
		return res
	}

	// An abandoned attempt must not overwrite the take file of a later one.
	if err := ctx.Err(); err != nil {
		res.takes = nil
		res.err = err
		return res
	}
	if dir := r.s.cfg.TakeDir; dir != "" {
		for i := range res.takes {
			name := TakeName(job.ordinal)
			if i > 0 {
				name = CandidateName(job.ordinal, i)
			}
			path := filepath.Join(dir, name)
			if err := audio.WriteWAVFile(path, res.takes[i].take); err != nil {
				res.takes = nil
				res.err = fmt.Errorf("scheduler: persist take: %w", err)
				observe.FailSpan(span, res.err)
				return res
			}
			res.takes[i].path = path
		}
	}
	return res
}

// generate requests one take from dev and converts it to the working format.
func (r *run) generate(ctx context.Context, dev Device, req tts.Request) (audio.Buffer, error) {
	m := r.s.metrics
	start := time.Now()
	take, err := dev.TTS.Synthesize(ctx, req)
	m.SynthesisDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(observe.Attr("provider", dev.Provider)))
	if err == nil {
		err = checkTake(take)
	}
	if err == nil && r.s.conv != nil {
		take, err = r.s.conv.Convert(take)
	}
	if err != nil {
		err = portError(err)
		m.RecordProviderRequest(ctx, dev.Provider, "tts", "error")
		m.RecordProviderError(ctx, dev.Provider, "tts", fault.Classify(err))
		return audio.Buffer{}, err
	}
	m.RecordProviderRequest(ctx, dev.Provider, "tts", "ok")
	return take, nil
}

// validate judges every candidate of one attempt and picks the take to keep:
// the shortest passing one, otherwise the failing one closest to the text.
// A single-candidate job fails on the first port error; with more, a
// candidate whose transcription fails is skipped.
func (r *run) validate(ctx context.Context, job valJob) valResult {
	ctx, span := observe.StartChunkSpan(ctx, "chunk.validate", observe.ChunkAttrs{
		ID:         job.id,
		Ordinal:    job.ordinal,
		Candidates: len(job.takes),
	})
	defer span.End()

	res := valResult{job: job, chosen: -1}
	var lastErr error
	for i, cand := range job.takes {
		v, err := r.judge(ctx, job, cand)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if res.chosen < 0 || preferred(v, cand, res.verdict, job.takes[res.chosen]) {
			res.chosen, res.verdict = i, v
		}
	}
	if res.chosen < 0 {
		res.chosen = 0
		res.err = lastErr
		observe.FailSpan(span, res.err)
		return res
	}
	span.SetAttributes(
		attribute.String("verdict", res.verdict.Kind.String()),
		attribute.Int("candidate", res.chosen),
	)
	return res
}

// judge gates, transcribes and judges one take.
func (r *run) judge(ctx context.Context, job valJob, cand candidate) (chunk.Verdict, error) {
	m := r.s.metrics
	gate, err := r.s.comps.Gate.Check(cand.take)
	if err != nil {
		// Only the speech ratio check failed to run; the take is still judged.
		observe.ChunkLogger(ctx, observe.ChunkAttrs{ID: job.id, Ordinal: job.ordinal}).
			Warn("signal gate degraded", "err", err)
	}
	if gate.Rejected() {
		m.RecordGateRejection(ctx, gate.Outcome.String())
		return gate.Verdict(), nil
	}

	name := r.s.comps.TranscriberName
	start := time.Now()
	tr, err := r.s.comps.Transcriber.Transcribe(ctx, cand.take)
	m.TranscriptionDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(observe.Attr("provider", name)))
	if err != nil {
		err = portError(err)
		m.RecordProviderRequest(ctx, name, "stt", "error")
		m.RecordProviderError(ctx, name, "stt", fault.Classify(err))
		return chunk.Verdict{}, err
	}
	m.RecordProviderRequest(ctx, name, "stt", "ok")

	v := r.s.comps.Validator.Judge(job.text, tr)
	v.RMS = gate.RMS
	v.TrailingRMS = gate.TrailingRMS
	return v, nil
}

// preferred reports whether take a with verdict va beats take b with vb.
func preferred(va chunk.Verdict, a candidate, vb chunk.Verdict, b candidate) bool {
	if va.Passed() != vb.Passed() {
		return va.Passed()
	}
	if va.Passed() {
		return a.take.Duration() < b.take.Duration()
	}
	heardA, heardB := va.Transcript != "", vb.Transcript != ""
	if heardA != heardB {
		return heardA
	}
	if va.Similarity != vb.Similarity {
		return va.Similarity > vb.Similarity
	}
	return abs(va.WordDelta) < abs(vb.WordDelta)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// settleCandidates moves the chosen take file to the attempt's primary path
// and deletes the others. It returns the chosen candidate with its final
// path.
func settleCandidates(takes []candidate, chosen int) candidate {
	keep := takes[chosen]
	if chosen > 0 && keep.path != "" && takes[0].path != "" {
		if err := os.Rename(keep.path, takes[0].path); err != nil {
			slog.Warn("keeping candidate file in place", "path", keep.path, "err", err)
		} else {
			keep.path = takes[0].path
		}
	}
	var drop []candidate
	for i, c := range takes {
		if i != chosen && i != 0 {
			drop = append(drop, c)
		}
	}
	removeTakes(drop)
	return keep
}

// removeTakes deletes the files of takes that will not be kept.
func removeTakes(takes []candidate) {
	for _, c := range takes {
		if c.path == "" {
			continue
		}
		if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("remove candidate take", "path", c.path, "err", err)
		}
	}
}

// checkTake rejects empty or malformed synthesizer output.
func checkTake(take audio.Buffer) error {
	if take.IsEmpty() {
		return errors.New("synthesizer returned an empty take")
	}
	return take.Validate()
}

// portError wraps err as a port failure unless it already carries a class.
func portError(err error) error {
	switch {
	case errors.Is(err, fault.ErrPortUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", fault.ErrPortUnavailable, err)
	}
}

// voiceProfile overrides the id of def, keeping its provider.
func voiceProfile(id string, def types.VoiceProfile) types.VoiceProfile {
	return types.VoiceProfile{ID: id, Provider: def.Provider}
}
