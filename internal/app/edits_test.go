package app

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/tacogerbil/chatterboxPro/internal/audit"
	"github.com/tacogerbil/chatterboxPro/internal/chunk"
	"github.com/tacogerbil/chatterboxPro/internal/playlist"
	"github.com/tacogerbil/chatterboxPro/internal/scheduler"
)

func drainEvents(ch <-chan scheduler.Event) []scheduler.Event {
	var out []scheduler.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestApp_StructuralEditsAreJournaled(t *testing.T) {
	a, journal := newTestApp(t, testConfig(t, ""), testProviders(nil))
	events, unsubscribe := a.Hub().Subscribe(64)
	defer unsubscribe()

	snap := a.Playlist().Snapshot()
	first := snap.Chunks()[0].ID
	pause := snap.At(1).ID()

	if err := a.EditText(first, "One here. Two there.", "ed"); err != nil {
		t.Fatalf("EditText: %v", err)
	}
	parts, err := a.SplitChunk(first, "ed")
	if err != nil {
		t.Fatalf("SplitChunk: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("split into %d parts, want 2", len(parts))
	}
	merged, err := a.MergeChunks("ed", parts...)
	if err != nil {
		t.Fatalf("MergeChunks: %v", err)
	}
	params := chunk.Params{VoiceID: "alt"}
	if err := a.EditParams(merged, params, "ed"); err != nil {
		t.Fatalf("EditParams: %v", err)
	}
	if err := a.EditPause(pause, 800*time.Millisecond, "ed"); err != nil {
		t.Fatalf("EditPause: %v", err)
	}
	added, err := a.Insert("ed", 0, playlist.ChapterItem("Opening"), playlist.ChunkItem("Prologue."))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := a.Move("ed", []string{added[1]}, 0); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if err := a.ConvertToChapter(added[1], "Prologue", "ed"); err != nil {
		t.Fatalf("ConvertToChapter: %v", err)
	}
	if err := a.Delete("ed", added[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got := a.Playlist().Snapshot()
	if e, _, ok := got.Find(merged); !ok || e.Chunk.Text != "One here. Two there." || e.Chunk.Params.VoiceID != "alt" {
		t.Errorf("merged entry = %+v", e)
	}
	if e, _, _ := got.Find(pause); e.Pause == nil || e.Pause.Duration != 800*time.Millisecond {
		t.Errorf("pause = %+v", e)
	}
	if e := got.At(0); e.Kind != playlist.KindChapter || e.ID() != added[1] {
		t.Errorf("first entry = %+v, want the converted chapter", e)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	recent, err := journal.Recent(context.Background(), 100)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	var ops []string
	for _, e := range recent {
		if e.Actor == "ed" {
			ops = append(ops, e.Op)
		}
	}
	for _, want := range []string{"edit_text", "split", "merge", "edit_params", "edit_pause", "insert", "move", "convert_to_chapter", "delete"} {
		if !slices.Contains(ops, want) {
			t.Errorf("journal ops %v missing %q", ops, want)
		}
	}

	history, err := journal.History(context.Background(), parts[1])
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	var kinds []audit.Kind
	for _, e := range history {
		kinds = append(kinds, e.Kind)
	}
	if !slices.Contains(kinds, audit.KindSplit) || !slices.Contains(kinds, audit.KindMerge) {
		t.Errorf("history of split part = %v, want split and merge", kinds)
	}

	var streamed []string
	for _, ev := range drainEvents(events) {
		streamed = append(streamed, ev.Op)
		if ev.Op == "split" && (ev.ChunkID != first || !slices.Equal(ev.Related, parts)) {
			t.Errorf("split event = %+v", ev)
		}
	}
	for _, want := range []string{"split", "merge", "edit_params", "insert", "delete"} {
		if !slices.Contains(streamed, want) {
			t.Errorf("streamed ops %v missing %q", streamed, want)
		}
	}
}

func TestApp_FailedEditIsNotJournaled(t *testing.T) {
	a, journal := newTestApp(t, testConfig(t, ""), testProviders(nil))
	id := a.Playlist().Snapshot().Chunks()[0].ID

	if _, err := a.SplitChunk(id, "ed"); err == nil {
		t.Fatal("split of a single sentence succeeded")
	}
	if err := a.Move("ed", []string{"missing"}, 0); err == nil {
		t.Fatal("move of an unknown id succeeded")
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	recent, err := journal.Recent(context.Background(), 100)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("journal = %+v, want nothing", recent)
	}
}
