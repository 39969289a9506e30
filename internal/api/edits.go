package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tacogerbil/chatterboxPro/internal/chunk"
	"github.com/tacogerbil/chatterboxPro/internal/playlist"
)

type idsResponse struct {
	IDs []string `json:"ids"`
}

type editParamsRequest struct {
	Params chunk.Params `json:"params"`
	Actor  string       `json:"actor,omitempty"`
}

func (s *Server) handleEditParams(w http.ResponseWriter, r *http.Request) {
	var req editParamsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.app.EditParams(id, req.Params, actor(r, req.Actor)); err != nil {
		respondFault(w, err)
		return
	}
	s.respondChunk(w, id)
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	who, ok := decodeActor(w, r)
	if !ok {
		return
	}
	ids, err := s.app.SplitChunk(chi.URLParam(r, "id"), who)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, idsResponse{IDs: ids})
}

type chapterRequest struct {
	Title string `json:"title,omitempty"`
	Actor string `json:"actor,omitempty"`
}

func (s *Server) handleConvertToChapter(w http.ResponseWriter, r *http.Request) {
	var req chapterRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.app.ConvertToChapter(id, req.Title, actor(r, req.Actor)); err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, idsResponse{IDs: []string{id}})
}

type idsRequest struct {
	IDs   []string `json:"ids"`
	Actor string   `json:"actor,omitempty"`
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if len(req.IDs) < 2 {
		respondError(w, http.StatusBadRequest, "missing_ids", "merge needs at least two chunk ids")
		return
	}
	merged, err := s.app.MergeChunks(actor(r, req.Actor), req.IDs...)
	if err != nil {
		respondFault(w, err)
		return
	}
	s.respondChunk(w, merged)
}

type pauseRequest struct {
	PauseMS int64  `json:"pause_ms"`
	Actor   string `json:"actor,omitempty"`
}

func (s *Server) handleEditPause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.app.EditPause(id, time.Duration(req.PauseMS)*time.Millisecond, actor(r, req.Actor)); err != nil {
		respondFault(w, err)
		return
	}
	e, _, _ := s.app.Playlist().Snapshot().Find(id)
	respondJSON(w, http.StatusOK, entryView{Kind: e.Kind.String(), ID: id, PauseMS: e.Pause.Duration.Milliseconds()})
}

type itemRequest struct {
	Kind    string       `json:"kind"`
	Text    string       `json:"text,omitempty"`
	Title   string       `json:"title,omitempty"`
	PauseMS int64        `json:"pause_ms,omitempty"`
	Params  chunk.Params `json:"params,omitzero"`
}

func (it itemRequest) item() (playlist.Item, bool) {
	switch it.Kind {
	case "chunk":
		return playlist.Item{Kind: playlist.KindChunk, Text: it.Text, Params: it.Params}, true
	case "pause":
		return playlist.PauseItem(time.Duration(it.PauseMS) * time.Millisecond), true
	case "chapter":
		return playlist.ChapterItem(it.Title), true
	}
	return playlist.Item{}, false
}

type insertRequest struct {
	// Position is where the first item lands. Omitted appends.
	Position *int          `json:"position,omitempty"`
	Items    []itemRequest `json:"items"`
	Actor    string        `json:"actor,omitempty"`
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req insertRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if len(req.Items) == 0 {
		respondError(w, http.StatusBadRequest, "missing_items", "at least one item is required")
		return
	}
	items := make([]playlist.Item, 0, len(req.Items))
	for i, it := range req.Items {
		item, ok := it.item()
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid_kind",
				"item "+strconv.Itoa(i)+": kind must be chunk, pause or chapter")
			return
		}
		items = append(items, item)
	}
	pos := -1
	if req.Position != nil {
		pos = *req.Position
	}
	ids, err := s.app.Insert(actor(r, req.Actor), pos, items...)
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, idsResponse{IDs: ids})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	who, ok := decodeActor(w, r)
	if !ok {
		return
	}
	if err := s.app.Delete(who, chi.URLParam(r, "id")); err != nil {
		respondFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type moveRequest struct {
	IDs   []string `json:"ids"`
	To    int      `json:"to"`
	Actor string   `json:"actor,omitempty"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if len(req.IDs) == 0 {
		respondError(w, http.StatusBadRequest, "missing_ids", "ids is required")
		return
	}
	if err := s.app.Move(actor(r, req.Actor), req.IDs, req.To); err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, idsResponse{IDs: req.IDs})
}

// handleNext finds the next chunk with a given status after the entry named
// by the after parameter, wrapping around the end of the playlist.
func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, err := chunk.ParseStatus(strings.TrimSpace(q.Get("status")))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_status", err.Error())
		return
	}
	snap := s.app.Playlist().Snapshot()
	from := -1
	if after := q.Get("after"); after != "" {
		_, pos, ok := snap.Find(after)
		if !ok {
			respondError(w, http.StatusNotFound, "entry_not_found", "no entry with id "+after)
			return
		}
		from = pos
	}
	pos := snap.NextWithStatus(from, status)
	if pos < 0 {
		respondError(w, http.StatusNotFound, "no_match", "no chunk is "+status.String())
		return
	}
	respondJSON(w, http.StatusOK, newChunkView(*snap.At(pos).Chunk, pos))
}
