// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/okian/casve/internal/domain/generation"
	"github.com/okian/casve/internal/domain/model"
	"github.com/okian/casve/internal/domain/progress"
	"github.com/okian/casve/internal/domain/worksheet"
	"github.com/okian/casve/pkg/errs"
	"github.com/okian/casve/pkg/logger"
)

// maxBodyBytes caps request bodies; a full worksheet is a few kilobytes.
const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	CreateSession(ctx context.Context) (*worksheet.Session, error)
	LoadSession(ctx context.Context, id string) (*worksheet.Session, error)
	SaveSession(ctx context.Context, s *worksheet.Session) (*worksheet.Session, error)
	DeleteSession(ctx context.Context, id string) error
	PatchStep(ctx context.Context, id string, step worksheet.Step, patch worksheet.Patch) (any, error)
	Advance(ctx context.Context, id string) (*worksheet.Session, error)
	Progress(ctx context.Context, id string) (progress.Report, error)

	GenerateOptions(ctx context.Context, req generation.Request) (*generation.Result, error)
	SaveReport(ctx context.Context, rec model.ReportRecord) error

	// RecordActivity reports duplicate=true for an already seen eventID.
	RecordActivity(ctx context.Context, ev model.ActivityEvent, eventID string) (bool, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps   Dependencies
	log    logger.Logger
	health *HealthHandler
	stats  *StatsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		deps:   deps,
		log:    log,
		health: NewHealthHandler(),
		stats:  NewStatsHandler(statsProvider),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", MetricsMiddleware(s.health.HandleRoot, "root"))
	mux.HandleFunc("GET /health", MetricsMiddleware(s.health.HandleStatus, "health"))
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.health.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.stats.HandleStats, "stats"))

	mux.HandleFunc("POST /api/generate-options", MetricsMiddleware(s.handleGenerateOptions, "generate_options"))
	mux.HandleFunc("POST /api/save-report", MetricsMiddleware(s.handleSaveReport, "save_report"))

	mux.HandleFunc("POST /api/sessions", MetricsMiddleware(s.handleCreateSession, "sessions"))
	mux.HandleFunc("GET /api/sessions/{id}", MetricsMiddleware(s.handleGetSession, "session"))
	mux.HandleFunc("PUT /api/sessions/{id}", MetricsMiddleware(s.handlePutSession, "session"))
	mux.HandleFunc("DELETE /api/sessions/{id}", MetricsMiddleware(s.handleDeleteSession, "session"))
	mux.HandleFunc("PATCH /api/sessions/{id}/steps/{step}", MetricsMiddleware(s.handlePatchStep, "session_step"))
	mux.HandleFunc("POST /api/sessions/{id}/advance", MetricsMiddleware(s.handleAdvance, "session_advance"))
	mux.HandleFunc("GET /api/sessions/{id}/progress", MetricsMiddleware(s.handleProgress, "session_progress"))
	mux.HandleFunc("POST /api/sessions/{id}/activity", MetricsMiddleware(s.handleActivity, "session_activity"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the failure envelope for err and logs server-side faults.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Error(r.Context(), "request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", status),
			logger.Error(err))
	}
	writeJSON(w, status, body)
}

// decode reads a JSON body into v.
func decode(op string, r *http.Request, w http.ResponseWriter, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		return errs.Wrap(op, ErrBadRequest, fmt.Errorf("decode body: %w", err))
	}
	return nil
}
