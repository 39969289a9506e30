package app

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tacogerbil/chatterboxPro/internal/audit"
	"github.com/tacogerbil/chatterboxPro/internal/chunk"
	"github.com/tacogerbil/chatterboxPro/internal/playlist"
	"github.com/tacogerbil/chatterboxPro/internal/scheduler"
)

// PublishChanges returns a playlist change hook that streams every published
// user edit to h. Install it with [playlist.WithOnChange] and hand the same
// hub to New with [WithHub].
//
// Auto-fix splits are skipped: the scheduler publishes those with the
// failing status attached.
func PublishChanges(h *scheduler.Hub) func(playlist.Change) {
	return func(c playlist.Change) {
		if c.Op == "auto_split" || len(c.IDs) == 0 {
			return
		}
		switch c.Op {
		case "edit_text", "edit_params", "requeue":
			for _, id := range c.IDs {
				h.Publish(scheduler.Event{ChunkID: id, To: chunk.Pending.String(), Op: c.Op})
			}
		case "edit_pause", "delete", "move", "convert_to_chapter":
			for _, id := range c.IDs {
				h.Publish(scheduler.Event{ChunkID: id, Op: c.Op})
			}
		default:
			h.Publish(scheduler.Event{ChunkID: c.IDs[0], Op: c.Op, Related: c.IDs[1:]})
		}
	}
}

func (a *App) record(e audit.Event) { a.recorder.Record(e) }

// EditText replaces a chunk's text, resetting it to Pending, and journals
// the edit.
func (a *App) EditText(id, text, actor string) error {
	if err := a.pl.EditText(id, text); err != nil {
		return err
	}
	a.record(audit.Event{Kind: audit.KindEdit, ChunkID: id, Op: "edit_text", Actor: actor})
	return nil
}

// EditParams replaces a chunk's generation parameters.
func (a *App) EditParams(id string, params chunk.Params, actor string) error {
	if err := a.pl.EditParams(id, params); err != nil {
		return err
	}
	a.record(audit.Event{Kind: audit.KindEdit, ChunkID: id, Op: "edit_params", Actor: actor})
	return nil
}

// EditPause changes a pause's duration.
func (a *App) EditPause(id string, d time.Duration, actor string) error {
	if err := a.pl.EditPause(id, d); err != nil {
		return err
	}
	a.record(audit.Event{Kind: audit.KindEdit, ChunkID: id, Op: "edit_pause", Actor: actor,
		Detail: d.String()})
	return nil
}

// Requeue returns chunks to Pending and journals the edit.
func (a *App) Requeue(actor string, ids ...string) error {
	if err := a.pl.Requeue(ids...); err != nil {
		return err
	}
	for _, id := range ids {
		a.record(audit.Event{Kind: audit.KindEdit, ChunkID: id, Op: "requeue", Actor: actor})
	}
	return nil
}

// SplitChunk splits a chunk into one Pending chunk per sentence and returns
// the new ids.
func (a *App) SplitChunk(id, actor string) ([]string, error) {
	parts, err := a.pl.SplitChunk(id)
	if err != nil {
		return nil, err
	}
	a.record(audit.Event{Kind: audit.KindSplit, ChunkID: id, Op: "split", Actor: actor, Related: parts})
	return parts, nil
}

// MergeChunks joins adjacent chunks and returns the id of the merged chunk.
func (a *App) MergeChunks(actor string, ids ...string) (string, error) {
	merged, err := a.pl.MergeChunks(ids...)
	if err != nil {
		return "", err
	}
	a.record(audit.Event{Kind: audit.KindMerge, ChunkID: merged, Op: "merge", Actor: actor, Related: ids})
	return merged, nil
}

// Insert places items at pos and returns their ids.
func (a *App) Insert(actor string, pos int, items ...playlist.Item) ([]string, error) {
	ids, err := a.pl.Insert(pos, items...)
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		a.record(audit.Event{Kind: audit.KindEdit, ChunkID: id, Op: "insert", Actor: actor,
			Detail: items[i].Kind.String()})
	}
	return ids, nil
}

// Delete removes entries.
func (a *App) Delete(actor string, ids ...string) error {
	if err := a.pl.Delete(ids...); err != nil {
		return err
	}
	for _, id := range ids {
		a.record(audit.Event{Kind: audit.KindEdit, ChunkID: id, Op: "delete", Actor: actor})
	}
	return nil
}

// Move relocates entries so the first lands at position to.
func (a *App) Move(actor string, ids []string, to int) error {
	if err := a.pl.Move(ids, to); err != nil {
		return err
	}
	for _, id := range ids {
		a.record(audit.Event{Kind: audit.KindEdit, ChunkID: id, Op: "move", Actor: actor,
			Detail: "to " + strconv.Itoa(to)})
	}
	return nil
}

// ConvertToChapter turns a chunk into a chapter marker.
func (a *App) ConvertToChapter(id, title, actor string) error {
	if err := a.pl.ConvertToChapter(id, title); err != nil {
		return err
	}
	a.record(audit.Event{Kind: audit.KindEdit, ChunkID: id, Op: "convert_to_chapter", Actor: actor})
	return nil
}

// MergeFailedDown merges every FailedPermanent chunk into its successor and
// journals the merge.
func (a *App) MergeFailedDown(actor string) (int, error) {
	n, err := a.pl.MergeFailedDown()
	if err == nil && n > 0 {
		a.record(audit.Event{Kind: audit.KindMerge, Op: "merge_failed_down", Actor: actor, Detail: fmt.Sprintf("%d merges", n)})
	}
	return n, err
}

// SplitAllFailed splits every multi-sentence FailedPermanent chunk and
// journals the split.
func (a *App) SplitAllFailed(actor string) (int, error) {
	n, err := a.pl.SplitAllFailed()
	if err == nil && n > 0 {
		a.record(audit.Event{Kind: audit.KindSplit, Op: "split_all_failed", Actor: actor, Detail: fmt.Sprintf("%d splits", n)})
	}
	return n, err
}
