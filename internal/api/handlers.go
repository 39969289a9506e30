package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tacogerbil/chatterboxPro/internal/app"
	"github.com/tacogerbil/chatterboxPro/internal/assembly"
	"github.com/tacogerbil/chatterboxPro/internal/audit"
	"github.com/tacogerbil/chatterboxPro/internal/chunk"
	"github.com/tacogerbil/chatterboxPro/internal/playlist"
)

const (
	defaultJournalLimit = 100
	maxJournalLimit     = 1000
)

type chunkView struct {
	ID            string         `json:"id"`
	Position      int            `json:"position"`
	Ordinal       int            `json:"ordinal"`
	Text          string         `json:"text"`
	Status        chunk.Status   `json:"status"`
	Retries       int            `json:"retries"`
	Revision      int            `json:"revision"`
	Params        chunk.Params   `json:"params"`
	Verdict       *chunk.Verdict `json:"verdict,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
	AudioPath     string         `json:"audio_path,omitempty"`
	DurationMS    int64          `json:"duration_ms,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at,omitzero"`
}

func newChunkView(c chunk.Chunk, pos int) chunkView {
	v := chunkView{
		ID:            c.ID,
		Position:      pos,
		Ordinal:       c.Ordinal,
		Text:          c.Text,
		Status:        c.Status,
		Retries:       c.Retries,
		Revision:      c.Revision,
		Params:        c.Params,
		Verdict:       c.Verdict,
		FailureReason: c.FailureReason,
		AudioPath:     c.AudioPath,
		UpdatedAt:     c.UpdatedAt,
	}
	if c.Audio != nil {
		v.DurationMS = c.Audio.Duration().Milliseconds()
	}
	return v
}

type entryView struct {
	Kind    string     `json:"kind"`
	ID      string     `json:"id"`
	Chunk   *chunkView `json:"chunk,omitempty"`
	PauseMS int64      `json:"pause_ms,omitempty"`
	Title   string     `json:"title,omitempty"`
}

type statusResponse struct {
	Version         string               `json:"version"`
	PlaylistVersion uint64               `json:"playlist_version"`
	Chunks          int                  `json:"chunks"`
	Stats           map[chunk.Status]int `json:"stats"`
	Converged       bool                 `json:"converged"`
	Run             app.RunInfo          `json:"run"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.app.Playlist().Snapshot()
	respondJSON(w, http.StatusOK, statusResponse{
		Version:         s.version,
		PlaylistVersion: snap.Version,
		Chunks:          snap.ChunkCount(),
		Stats:           snap.Stats(),
		Converged:       snap.Converged(),
		Run:             s.app.Runs().Info(),
	})
}

type playlistResponse struct {
	Version  uint64      `json:"version"`
	Entries  []entryView `json:"entries"`
	Chapters []chapter   `json:"chapters"`
}

type chapter struct {
	Number int    `json:"number"`
	Title  string `json:"title,omitempty"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

func (s *Server) handlePlaylist(w http.ResponseWriter, _ *http.Request) {
	snap := s.app.Playlist().Snapshot()
	resp := playlistResponse{
		Version: snap.Version,
		Entries: make([]entryView, 0, snap.Len()),
	}
	for i := range snap.Len() {
		e := snap.At(i)
		v := entryView{Kind: e.Kind.String(), ID: e.ID()}
		switch e.Kind {
		case playlist.KindChunk:
			cv := newChunkView(*e.Chunk, i)
			v.Chunk = &cv
		case playlist.KindPause:
			v.PauseMS = e.Pause.Duration.Milliseconds()
		case playlist.KindChapter:
			v.Title = e.Chapter.Title
		}
		resp.Entries = append(resp.Entries, v)
	}
	for _, r := range snap.Chapters() {
		resp.Chapters = append(resp.Chapters, chapter{Number: r.Number, Title: r.Title, Start: r.Start, End: r.End})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		respondError(w, http.StatusBadRequest, "missing_query", "query parameter q is required")
		return
	}
	results := s.app.Playlist().Snapshot().Search(q)
	if results == nil {
		results = []playlist.SearchResult{}
	}
	respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, pos, ok := s.app.Playlist().Snapshot().Find(id)
	if !ok || e.Kind != playlist.KindChunk {
		respondError(w, http.StatusNotFound, "chunk_not_found", "no chunk with id "+id)
		return
	}
	respondJSON(w, http.StatusOK, newChunkView(*e.Chunk, pos))
}

func (s *Server) handleChunkHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.app.Journal().History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal_unavailable", err.Error())
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	respondJSON(w, http.StatusOK, events)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	limit := defaultJournalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxJournalLimit)
	}
	events, err := s.app.Journal().Recent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal_unavailable", err.Error())
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	respondJSON(w, http.StatusOK, events)
}

type editTextRequest struct {
	Text  string `json:"text"`
	Actor string `json:"actor,omitempty"`
}

func (s *Server) handleEditText(w http.ResponseWriter, r *http.Request) {
	var req editTextRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "missing_text", "text is required")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.app.EditText(id, req.Text, actor(r, req.Actor)); err != nil {
		respondFault(w, err)
		return
	}
	s.respondChunk(w, id)
}

type actorRequest struct {
	Actor string `json:"actor,omitempty"`
}

// decodeActor reads an optional body naming the actor.
func decodeActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req actorRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return "", false
	}
	return actor(r, req.Actor), true
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	who, ok := decodeActor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.app.Requeue(who, id); err != nil {
		respondFault(w, err)
		return
	}
	s.respondChunk(w, id)
}

func (s *Server) respondChunk(w http.ResponseWriter, id string) {
	e, pos, ok := s.app.Playlist().Snapshot().Find(id)
	if !ok || e.Kind != playlist.KindChunk {
		respondError(w, http.StatusNotFound, "chunk_not_found", "no chunk with id "+id)
		return
	}
	respondJSON(w, http.StatusOK, newChunkView(*e.Chunk, pos))
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	who, ok := decodeActor(w, r)
	if !ok {
		return
	}
	// The run outlives the request; POST /v1/stop and shutdown end it.
	info, err := s.app.Runs().Start(context.WithoutCancel(r.Context()), who)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, info)
}

func (s *Server) handleStopRun(w http.ResponseWriter, _ *http.Request) {
	if !s.app.Runs().IsActive() {
		respondError(w, http.StatusConflict, "no_active_run", "no run in progress")
		return
	}
	s.app.Runs().Stop()
	respondJSON(w, http.StatusAccepted, s.app.Runs().Info())
}

type fixResponse struct {
	Count int `json:"count"`
}

func (s *Server) handleMergeFailed(w http.ResponseWriter, r *http.Request) {
	who, ok := decodeActor(w, r)
	if !ok {
		return
	}
	n, err := s.app.MergeFailedDown(who)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, fixResponse{Count: n})
}

func (s *Server) handleSplitFailed(w http.ResponseWriter, r *http.Request) {
	who, ok := decodeActor(w, r)
	if !ok {
		return
	}
	n, err := s.app.SplitAllFailed(who)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, fixResponse{Count: n})
}

type assembleRequest struct {
	// Chapter is a chapter number. Omitted means the whole book.
	Chapter    *int  `json:"chapter,omitempty"`
	PerChapter *bool `json:"per_chapter,omitempty"`
	Export     bool  `json:"export"`
	Override   *struct {
		Actor  string `json:"actor"`
		Reason string `json:"reason"`
	} `json:"override,omitempty"`
}

type partView struct {
	Number     int      `json:"number"`
	Title      string   `json:"title,omitempty"`
	Chunks     int      `json:"chunks"`
	Pauses     int      `json:"pauses"`
	Omitted    []string `json:"omitted,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

type assembleResponse struct {
	Version    uint64     `json:"version"`
	DurationMS int64      `json:"duration_ms"`
	Parts      []partView `json:"parts"`
	Paths      []string   `json:"paths,omitempty"`
}

func (s *Server) handleAssemble(w http.ResponseWriter, r *http.Request) {
	var req assembleRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	ar := assembly.Request{
		Chapter:    assembly.WholeBook,
		PerChapter: s.app.Config().Assembly.PerChapter,
	}
	if req.Chapter != nil {
		ar.Chapter = *req.Chapter
	}
	if req.PerChapter != nil {
		ar.PerChapter = *req.PerChapter
	}
	if req.Override != nil {
		if strings.TrimSpace(req.Override.Reason) == "" {
			respondError(w, http.StatusBadRequest, "missing_reason", "an override needs a reason")
			return
		}
		ar.Override = &assembly.Override{
			Actor:  actor(r, req.Override.Actor),
			Reason: req.Override.Reason,
		}
	}

	res, paths, err := s.app.Assemble(r.Context(), ar, req.Export)
	if err != nil {
		respondFault(w, err)
		return
	}
	resp := assembleResponse{
		Version:    res.Version,
		DurationMS: res.Duration().Milliseconds(),
		Parts:      make([]partView, 0, len(res.Parts)),
		Paths:      paths,
	}
	for _, p := range res.Parts {
		resp.Parts = append(resp.Parts, partView{
			Number:     p.Number,
			Title:      p.Title,
			Chunks:     p.Chunks,
			Pauses:     p.Pauses,
			Omitted:    p.Omitted,
			DurationMS: p.Duration().Milliseconds(),
		})
	}
	respondJSON(w, http.StatusOK, resp)
}
