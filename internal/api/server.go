// Package api serves the HTTP control surface of a running engine: run
// control, playlist inspection and edits, assembly, the audit trail, and a
// websocket stream of chunk transitions.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tacogerbil/chatterboxPro/internal/app"
	"github.com/tacogerbil/chatterboxPro/internal/assembly"
	"github.com/tacogerbil/chatterboxPro/internal/fault"
	"github.com/tacogerbil/chatterboxPro/internal/observe"
	"github.com/tacogerbil/chatterboxPro/internal/playlist"
)

// Option configures a [Server].
type Option func(*Server)

// WithVersion sets the version reported by GET /v1/status.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithGatherer serves /metrics from g instead of the default Prometheus
// registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithOriginPatterns allows websocket upgrades from the given host patterns.
// Same-origin requests are always allowed.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// Server exposes an [app.App] over HTTP.
type Server struct {
	app      *app.App
	version  string
	gatherer prometheus.Gatherer
	origins  []string
}

// New returns a server for a.
func New(a *app.App, opts ...Option) *Server {
	s := &Server{app: a, version: "dev", gatherer: prometheus.DefaultGatherer}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router returns the HTTP handler with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(s.app.Metrics()))

	s.app.Health().Register(r)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/playlist", s.handlePlaylist)
		r.Get("/search", s.handleSearch)
		r.Get("/events", s.handleEvents)
		r.Get("/journal", s.handleJournal)
		r.Get("/next", s.handleNext)

		r.Get("/chunks/{id}", s.handleGetChunk)
		r.Get("/chunks/{id}/history", s.handleChunkHistory)
		r.Put("/chunks/{id}/text", s.handleEditText)
		r.Put("/chunks/{id}/params", s.handleEditParams)
		r.Post("/chunks/{id}/requeue", s.handleRequeue)
		r.Post("/chunks/{id}/split", s.handleSplit)
		r.Post("/chunks/{id}/chapter", s.handleConvertToChapter)
		r.Post("/chunks/merge", s.handleMerge)
		r.Put("/pauses/{id}", s.handleEditPause)
		r.Post("/entries", s.handleInsert)
		r.Post("/entries/move", s.handleMove)
		r.Delete("/entries/{id}", s.handleDelete)

		r.Post("/run", s.handleStartRun)
		r.Post("/stop", s.handleStopRun)
		r.Post("/fix/merge-failed", s.handleMergeFailed)
		r.Post("/fix/split-failed", s.handleSplitFailed)
		r.Post("/assemble", s.handleAssemble)
	})
	return r
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondFault maps an engine error to a status code. The response code is
// the error's [fault.Classify] name.
func respondFault(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, playlist.ErrUnknownID), errors.Is(err, assembly.ErrUnknownChapter):
		status = http.StatusNotFound
	case errors.Is(err, app.ErrRunActive), errors.Is(err, fault.ErrPlaylistIntegrity):
		status = http.StatusConflict
	case errors.Is(err, playlist.ErrNotSplittable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, fault.ErrPortUnavailable):
		status = http.StatusServiceUnavailable
	}
	code := fault.Classify(err)
	if errors.Is(err, app.ErrRunActive) {
		code = "run_active"
	}
	respondError(w, status, code, err.Error())
}

// actor names who made a request. Clients set it with the X-Actor header.
func actor(r *http.Request, fallback string) string {
	if a := strings.TrimSpace(fallback); a != "" {
		return a
	}
	if a := strings.TrimSpace(r.Header.Get("X-Actor")); a != "" {
		return a
	}
	return "api"
}
