package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"coachsync-server/pkg/coach"
	"coachsync-server/pkg/errors"
)

// SessionsHandler handles the session collection: POST creates a session.
func (s *Server) SessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{"error": "method not allowed"})
		return
	}

	sessionID, err := s.coordinator.CreateSession(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"sessionId": sessionID})
}

// SessionHandler routes per-session operations:
//
//	GET  /api/sessions/{id}         aggregate snapshot
//	POST /api/sessions/{id}/link    capture device first contact
//	POST /api/sessions/{id}/start   begin recording
//	POST /api/sessions/{id}/stop    end recording (final analysis pass)
//	POST /api/sessions/{id}/events  observation-event ingest
func (s *Server) SessionHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	sessionID := parts[0]
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "missing session id"})
		return
	}

	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.readSession(w, r, sessionID)
	case action == "link" && r.Method == http.MethodPost:
		s.lifecycle(w, r, sessionID, s.coordinator.Link)
	case action == "start" && r.Method == http.MethodPost:
		s.lifecycle(w, r, sessionID, s.coordinator.Start)
	case action == "stop" && r.Method == http.MethodPost:
		s.lifecycle(w, r, sessionID, s.coordinator.Stop)
	case action == "events" && r.Method == http.MethodPost:
		s.ingestEvent(w, r, sessionID)
	default:
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "unknown route"})
	}
}

func (s *Server) readSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	agg, err := s.coordinator.Read(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewSnapshotMessage(sessionID, agg))
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, sessionID string, op func(ctx context.Context, sessionID string) error) {
	if err := op(r.Context(), sessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (s *Server) ingestEvent(w http.ResponseWriter, r *http.Request, sessionID string) {
	var event coach.ObservationEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalidInput, "decode observation event"))
		return
	}

	if err := s.coordinator.HandleEvent(r.Context(), sessionID, event); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "accepted"})
}
