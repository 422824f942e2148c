package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Simplici0/retrofit-costing/internal/bespoke"
	"github.com/Simplici0/retrofit-costing/internal/costing"
	"github.com/Simplici0/retrofit-costing/internal/notify"
	"github.com/Simplici0/retrofit-costing/internal/store"
	"github.com/Simplici0/retrofit-costing/internal/workflow"
)

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var verr *workflow.ValidationError
	var perr *workflow.PersistenceError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, workflow.ErrFrozen),
		errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, workflow.ErrSaveInFlight),
		errors.Is(err, workflow.ErrRefreshInFlight):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrSessionClosed), errors.Is(err, workflow.ErrRefreshStopped):
		return http.StatusGone
	case errors.Is(err, errSessionNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, costing.ErrUnknownLineItem),
		errors.Is(err, costing.ErrInvalidLineItem),
		errors.Is(err, bespoke.ErrNoMeasure),
		errors.Is(err, bespoke.ErrUnknownMeasure),
		errors.Is(err, bespoke.ErrImageCount),
		errors.Is(err, bespoke.ErrMissingFields):
		return http.StatusBadRequest
	case errors.As(err, &perr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	var verr *workflow.ValidationError
	if errors.As(err, &verr) {
		body = errorBody{Error: verr.Message, Field: verr.Field}
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

// setToast puts the last pending notification into the HX-Trigger header and
// returns all of them for the response body.
func (s *server) setToast(w http.ResponseWriter, rec *notify.Recorder) []notify.Notification {
	notes := rec.Drain()
	if len(notes) == 0 {
		return nil
	}
	v, err := notify.HXTrigger(notes[len(notes)-1])
	if err != nil {
		s.log.Warn("toast: encode HX-Trigger", zap.Error(err))
		return notes
	}
	w.Header().Set("HX-Trigger", v)
	return notes
}
