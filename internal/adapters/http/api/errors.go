package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/okian/casve/internal/adapters/repository"
	service "github.com/okian/casve/internal/app"
	"github.com/okian/casve/internal/domain/generation"
	"github.com/okian/casve/internal/domain/progress"
	"github.com/okian/casve/internal/domain/worksheet"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
)

// Error codes carried in the failure envelope.
const (
	CodeBadRequest             = "bad_request"
	CodeMalformedPatch         = "malformed_patch"
	CodeIncompletePrerequisite = "incomplete_prerequisite"
	CodeCannotAdvance          = "cannot_advance"
	CodeNotFound               = "not_found"
	CodeUpstreamUnavailable    = "upstream_unavailable"
	CodeMalformedLLMResponse   = "malformed_llm_response"
	CodeBackpressure           = "backpressure"
	CodeInternalError          = "internal_error"
)

const (
	msgUpstreamUnavailable  = "option generation is temporarily unavailable, please try again"
	msgMalformedLLMResponse = "failed to parse LLM response"
	msgInternalError        = "internal error"
)

// failure is the envelope returned by every endpoint on error.
type failure struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
	Missing any    `json:"missing,omitempty"`
}

// classify maps an error kind to its status and envelope. Upstream and parse
// failures get a generic message; their detail is in the generation journal.
func classify(err error) (int, failure) {
	f := failure{Code: CodeInternalError, Error: msgInternalError}
	var (
		incomplete *generation.IncompleteError
		missing    *progress.MissingError
	)
	switch {
	case errors.Is(err, worksheet.ErrMalformedPatch):
		f.Code, f.Error = CodeMalformedPatch, err.Error()
		return http.StatusBadRequest, f
	case errors.Is(err, worksheet.ErrMalformedSession),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, ErrBadRequest):
		f.Code, f.Error = CodeBadRequest, err.Error()
		return http.StatusBadRequest, f
	case errors.Is(err, generation.ErrIncompletePrerequisite):
		f.Code, f.Error = CodeIncompletePrerequisite, "steps 0-2 are incomplete"
		if errors.As(err, &incomplete) {
			m := make(map[string][]string, len(incomplete.Missing))
			for step, fields := range incomplete.Missing {
				m[strconv.Itoa(step)] = fields
			}
			f.Missing = m
		}
		return http.StatusUnprocessableEntity, f
	case errors.Is(err, progress.ErrCannotAdvance):
		f.Code, f.Error = CodeCannotAdvance, "current step is incomplete"
		if errors.As(err, &missing) {
			f.Missing = missing.Fields
		}
		return http.StatusConflict, f
	case errors.Is(err, repository.ErrNotFound):
		f.Code, f.Error = CodeNotFound, "session not found"
		return http.StatusNotFound, f
	case errors.Is(err, generation.ErrUpstreamUnavailable):
		f.Code, f.Error = CodeUpstreamUnavailable, msgUpstreamUnavailable
		return http.StatusBadGateway, f
	case errors.Is(err, generation.ErrMalformedLLMResponse):
		f.Code, f.Error = CodeMalformedLLMResponse, msgMalformedLLMResponse
		return http.StatusBadGateway, f
	case errors.Is(err, service.ErrBackpressure):
		f.Code, f.Error = CodeBackpressure, "activity log is busy, please retry"
		return http.StatusServiceUnavailable, f
	}
	return http.StatusInternalServerError, f
}
