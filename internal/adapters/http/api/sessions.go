package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/okian/casve/internal/domain/model"
	"github.com/okian/casve/internal/domain/worksheet"
	"github.com/okian/casve/pkg/errs"
)

// handleCreateSession handles POST /api/sessions.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.CreateSession(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// handleGetSession handles GET /api/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.LoadSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handlePutSession handles PUT /api/sessions/{id}. The path id wins over the
// body's sessionId.
func (s *Server) handlePutSession(w http.ResponseWriter, r *http.Request) {
	const op = "api.put_session"
	var sess worksheet.Session
	if err := decode(op, r, w, &sess); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	if sess.SessionID != "" && sess.SessionID != id {
		s.writeError(w, r, errs.Wrap(op, ErrBadRequest, errors.New("sessionId does not match path")))
		return
	}
	sess.SessionID = id
	saved, err := s.deps.SaveSession(r.Context(), &sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// handleDeleteSession handles DELETE /api/sessions/{id}.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePatchStep handles PATCH /api/sessions/{id}/steps/{step}. The step is
// a number or a step name.
func (s *Server) handlePatchStep(w http.ResponseWriter, r *http.Request) {
	const op = "api.patch_step"
	step, err := worksheet.ParseStep(r.PathValue("step"))
	if err != nil {
		s.writeError(w, r, errs.Wrap(op, worksheet.ErrMalformedPatch, err))
		return
	}
	var patch worksheet.Patch
	if err := decode(op, r, w, &patch); err != nil {
		s.writeError(w, r, errs.Wrap(op, worksheet.ErrMalformedPatch, err))
		return
	}
	rec, err := s.deps.PatchStep(r.Context(), r.PathValue("id"), step, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleAdvance handles POST /api/sessions/{id}/advance.
func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Advance(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleProgress handles GET /api/sessions/{id}/progress.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Progress(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// activityRequest mirrors POST /api/sessions/{id}/activity.
type activityRequest struct {
	ActivityType string         `json:"activityType"`
	Data         map[string]any `json:"data"`
	EventID      string         `json:"eventId"`
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// handleActivity handles POST /api/sessions/{id}/activity.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_activity"
	var req activityRequest
	if err := decode(op, r, w, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.ActivityType) == "" {
		s.writeError(w, r, errs.Wrap(op, ErrBadRequest, errors.New("missing activityType")))
		return
	}
	dup, err := s.deps.RecordActivity(r.Context(), model.ActivityEvent{
		SessionID:    r.PathValue("id"),
		ActivityType: req.ActivityType,
		Data:         req.Data,
	}, req.EventID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if dup {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}

