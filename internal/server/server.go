// Package server provides the previewd HTTP API server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/previewlabs/previewd/internal/config"
	"github.com/previewlabs/previewd/internal/controller"
	"github.com/previewlabs/previewd/pkg/eventbus"
	"github.com/previewlabs/previewd/pkg/overlay"
	"github.com/previewlabs/previewd/pkg/store"
)

// Server is the previewd HTTP API server.
type Server struct {
	config *config.Config
	store  store.Store
	bus    eventbus.Bus
	ctrl   *controller.Controller
	router chi.Router
}

// New creates a Server around an already-wired controller.
func New(cfg *config.Config, st store.Store, bus eventbus.Bus, ctrl *controller.Controller) *Server {
	s := &Server{
		config: cfg,
		store:  st,
		bus:    bus,
		ctrl:   ctrl,
	}
	s.router = s.buildRouter()
	return s
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.config.ServerAddr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("previewd server listening on %s", s.config.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Route("/api", func(r chi.Router) {
		r.Post("/views", s.handleCreateView)
		r.Get("/views", s.handleListViews)
		r.Get("/views/{id}", s.handleGetView)
		r.Delete("/views/{id}", s.handleDeleteView)
		r.Get("/views/{id}/environment", s.handleGetEnvironment)
		r.Get("/views/{id}/events", s.handleViewEvents)
		r.Post("/views/{id}/boot", s.handleBoot)
		r.Post("/views/{id}/retry", s.handleRetry)
		r.Post("/views/{id}/refresh", s.handleRefresh)
		r.Post("/views/{id}/branch", s.handleBranch)
		r.Get("/views/{id}/edits", s.handleGetEdits)
		r.Put("/views/{id}/edits", s.handlePutEdits)
	})

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Request/Response types ---

type createViewRequest struct {
	Repo   string `json:"repo"`
	Branch string `json:"branch,omitempty"`
	Engine string `json:"engine,omitempty"` // "sandbox" (default) or "embedded"
}

type bootRequest struct {
	Branch string `json:"branch,omitempty"`
}

type branchRequest struct {
	Branch string `json:"branch"`
}

type putEditsRequest struct {
	Edits []overlay.PendingEdit `json:"edits"`
}

type putEditsResponse struct {
	Stored int `json:"stored"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Handlers ---

func (s *Server) handleCreateView(w http.ResponseWriter, r *http.Request) {
	var req createViewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Repo == "" {
		writeError(w, http.StatusBadRequest, "repo is required")
		return
	}

	engine := store.Engine(req.Engine)
	switch engine {
	case "", store.EngineSandbox, store.EngineEmbedded:
	default:
		writeError(w, http.StatusBadRequest, "engine must be 'sandbox' or 'embedded'")
		return
	}

	rec, err := s.ctrl.CreateView("", req.Repo, req.Branch, engine)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create view")
		log.Printf("Error creating view: %v", err)
		return
	}

	// Boot in the background; progress streams over /events.
	go func() {
		if _, err := s.ctrl.Boot(rec.ID, req.Branch); err != nil {
			log.Printf("Error booting view %s: %v", rec.ID, err)
		}
	}()

	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListViews(w http.ResponseWriter, r *http.Request) {
	views, err := s.store.ListViews()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list views")
		log.Printf("Error listing views: %v", err)
		return
	}
	if views == nil {
		views = []*store.View{}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, err := s.store.GetView(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "view not found")
		return
	}
	s.ctrl.Touch(id)
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDeleteView(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.ctrl.Release(id); err != nil {
		writeControllerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	env, err := s.ctrl.Environment(id)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleViewEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Verify the view exists.
	if _, err := s.store.GetView(id); err != nil {
		writeError(w, http.StatusNotFound, "view not found")
		return
	}
	s.ctrl.Touch(id)

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before replaying so nothing emitted during the replay is
	// lost; live events already covered by the replay are skipped by id.
	ch := s.bus.Subscribe(id)
	defer s.bus.Unsubscribe(id, ch)

	events, _ := s.store.EventsForView(id, 0)
	var lastID int64
	for _, e := range events {
		writeSSE(w, e)
		lastID = e.ID
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.ID <= lastID {
				continue
			}
			writeSSE(w, event)
			flusher.Flush()
		}
	}
}

func (s *Server) handleBoot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req bootRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	env, err := s.ctrl.Environment(id)
	if err != nil {
		writeControllerError(w, err)
		return
	}

	go func() {
		if _, err := s.ctrl.Boot(id, req.Branch); err != nil {
			log.Printf("Error booting view %s: %v", id, err)
		}
	}()

	writeJSON(w, http.StatusAccepted, env)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.ctrl.Environment(id); err != nil {
		writeControllerError(w, err)
		return
	}

	go func() {
		if _, err := s.ctrl.Retry(id); err != nil {
			log.Printf("Error retrying view %s: %v", id, err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.ctrl.RefreshFiles(id)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBranch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req branchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.ctrl.ObserveBranch(id, req.Branch); err != nil {
		writeControllerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetEdits(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	edits, err := s.store.PendingEdits(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get edits")
		return
	}
	if edits == nil {
		edits = []overlay.PendingEdit{}
	}
	writeJSON(w, http.StatusOK, edits)
}

func (s *Server) handlePutEdits(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req putEditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := s.store.GetView(id); err != nil {
		writeError(w, http.StatusNotFound, "view not found")
		return
	}

	for _, e := range req.Edits {
		if e.Path == "" {
			writeError(w, http.StatusBadRequest, "edit path is required")
			return
		}
		if err := s.store.UpsertEdit(id, e); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to store edit")
			log.Printf("Error storing edit for view %s: %v", id, err)
			return
		}
	}
	s.ctrl.Touch(id)

	writeJSON(w, http.StatusOK, putEditsResponse{Stored: len(req.Edits)})
}

// --- Helpers ---

func writeControllerError(w http.ResponseWriter, err error) {
	if errors.Is(err, controller.ErrNotFound) {
		writeError(w, http.StatusNotFound, "view not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeSSE(w http.ResponseWriter, event *eventbus.Event) {
	data, _ := json.Marshal(event)
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.ID, event.Type, string(data))
}
