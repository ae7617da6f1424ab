package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/casve/internal/domain/generation"
	"github.com/okian/casve/internal/domain/model"
	"github.com/okian/casve/internal/domain/worksheet"
	"github.com/okian/casve/pkg/errs"
)

type generateResponse struct {
	Success    bool               `json:"success"`
	Options    []worksheet.Option `json:"options"`
	TokensUsed model.TokenUsage   `json:"tokensUsed"`
}

// handleGenerateOptions handles POST /api/generate-options.
func (s *Server) handleGenerateOptions(w http.ResponseWriter, r *http.Request) {
	const op = "api.generate_options"
	var req generation.Request
	if err := decode(op, r, w, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.GenerateOptions(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{Success: true, Options: res.Options, TokensUsed: res.Usage})
}

// reportRequest mirrors POST /api/save-report.
type reportRequest struct {
	SessionID string          `json:"sessionId"`
	Step0     json.RawMessage `json:"step0"`
	Step1     json.RawMessage `json:"step1"`
	Step2     json.RawMessage `json:"step2"`
	Step3     json.RawMessage `json:"step3"`
	Step4     json.RawMessage `json:"step4"`
}

func (req reportRequest) validate() error {
	if strings.TrimSpace(req.SessionID) == "" {
		return errors.New("missing sessionId")
	}
	for i, raw := range []json.RawMessage{req.Step0, req.Step1, req.Step2, req.Step3, req.Step4} {
		trimmed := strings.TrimSpace(string(raw))
		if !strings.HasPrefix(trimmed, "{") {
			return fmt.Errorf("step%d must be an object", i)
		}
	}
	return nil
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// handleSaveReport handles POST /api/save-report.
func (s *Server) handleSaveReport(w http.ResponseWriter, r *http.Request) {
	const op = "api.save_report"
	var req reportRequest
	if err := decode(op, r, w, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, r, errs.Wrap(op, ErrBadRequest, err))
		return
	}
	err := s.deps.SaveReport(r.Context(), model.ReportRecord{
		SessionID: req.SessionID,
		Step0:     req.Step0,
		Step1:     req.Step1,
		Step2:     req.Step2,
		Step3:     req.Step3,
		Step4:     req.Step4,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Report data saved successfully"})
}
