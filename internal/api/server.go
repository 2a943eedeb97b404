// Package api serves the viewer's operator HTTP interface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/AaronLay10/SentientViewer/internal/catalog"
	"github.com/AaronLay10/SentientViewer/internal/control"
	"github.com/AaronLay10/SentientViewer/internal/events"
	"github.com/AaronLay10/SentientViewer/internal/frame"
	"github.com/AaronLay10/SentientViewer/internal/orchestrator"
	"github.com/AaronLay10/SentientViewer/internal/scene"
)

const requestTimeout = 5 * time.Second

// Controller is what the API drives.
type Controller interface {
	ChangeScene(ctx context.Context, req control.Request, source string) (bool, error)
	Reset(ctx context.Context) error
	Status(ctx context.Context) (orchestrator.Status, error)
	Scenes() []scene.Scene
}

// Server is the operator HTTP server.
type Server struct {
	ctrl   Controller
	render func() (string, map[string]interface{})
	log    zerolog.Logger
	http   *http.Server
}

// SetRenderSource adds the renderer's live scene and merged settings to
// /status. fn is called from request goroutines.
func (s *Server) SetRenderSource(fn func() (sceneID string, settings map[string]interface{})) {
	s.render = fn
}

// RenderSettings is what the renderer is showing.
type RenderSettings struct {
	SceneID  string                 `json:"scene_id,omitempty"`
	Settings map[string]interface{} `json:"settings"`
}

// StatusResponse is the /status body.
type StatusResponse struct {
	orchestrator.Status
	Render *RenderSettings `json:"render,omitempty"`
}

// NewServer creates a server on port. InitAuth should be called first;
// call EnableTLS before ListenAndServe to serve HTTPS.
func NewServer(ctrl Controller, port int, log zerolog.Logger) *Server {
	s := &Server{
		ctrl: ctrl,
		log:  log.With().Str("component", "api").Logger(),
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)
	mux.HandleFunc("/status", RequireAnyRole(s.statusHandler))
	mux.HandleFunc("/scenes", RequireAnyRole(s.scenesHandler))
	mux.HandleFunc("/events", RequireAnyRole(eventsHandler))
	mux.HandleFunc("/ws/events", RequireAnyRole(s.wsEventsHandler))
	mux.HandleFunc("/scene/change", RequireAnyRole(s.sceneChangeHandler))
	mux.HandleFunc("/scene/reset", RequireAdmin(s.sceneResetHandler))
	return mux
}

// ListenAndServe blocks until the server stops. It serves TLS when
// configured.
func (s *Server) ListenAndServe() error {
	var err error
	if s.TLSEnabled() {
		s.log.Info().Str("addr", s.http.Addr).Msg("API listening (TLS)")
		err = s.http.ListenAndServeTLS("", "")
	} else {
		s.log.Info().Str("addr", s.http.Addr).Msg("API listening")
		err = s.http.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	resp := HealthResponse{
		Status:    "ok",
		Service:   "viewer",
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	writeJSON(w, http.StatusOK, resp)
}

func eventsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, events.Snapshot())
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	st, err := s.ctrl.Status(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, OperatorResponse{OK: false, Error: err.Error()})
		return
	}
	resp := StatusResponse{Status: st}
	if s.render != nil {
		id, settings := s.render()
		resp.Render = &RenderSettings{SceneID: id, Settings: settings}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) scenesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Scenes())
}

type OperatorResponse struct {
	OK     bool   `json:"ok"`
	Queued *bool  `json:"queued,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) sceneChangeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, OperatorResponse{OK: false, Error: "method not allowed"})
		return
	}

	var req control.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, OperatorResponse{OK: false, Error: "invalid JSON"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	queued, err := s.ctrl.ChangeScene(ctx, req, "api")
	switch {
	case errors.Is(err, control.ErrMissingSceneID):
		writeJSON(w, http.StatusBadRequest, OperatorResponse{OK: false, Error: "scene_id required"})
	case errors.Is(err, catalog.ErrSceneNotFound):
		writeJSON(w, http.StatusNotFound, OperatorResponse{OK: false, Error: "scene not found"})
	case errors.Is(err, frame.ErrLoopStopped):
		writeJSON(w, http.StatusServiceUnavailable, OperatorResponse{OK: false, Error: "viewer stopped"})
	case err != nil:
		s.log.Error().Err(err).Str("scene_id", req.SceneID).Msg("scene change failed")
		writeJSON(w, http.StatusInternalServerError, OperatorResponse{OK: false, Error: err.Error()})
	default:
		writeJSON(w, http.StatusAccepted, OperatorResponse{OK: true, Queued: &queued})
	}
}

func (s *Server) sceneResetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, OperatorResponse{OK: false, Error: "method not allowed"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := s.ctrl.Reset(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, OperatorResponse{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, OperatorResponse{OK: true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
