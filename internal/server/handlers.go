package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	errs "pexelsync/pkg/errors"
	"pexelsync/pkg/models"
)

type createRunRequest struct {
	models.SearchRequest
	Target models.Target `json:"target"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps provider errors to API status codes
func statusFor(err error) int {
	switch errs.TypeOf(err) {
	case errs.ErrorTypeAuth:
		return http.StatusUnauthorized
	case errs.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case errs.ErrorTypeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleKeyCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Provider.CheckKey(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, errors.New("query parameter is required"))
		return
	}

	res, err := s.deps.Provider.Count(r.Context(), query)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var body createRunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	state, err := s.StartRun(body.SearchRequest, body.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.Header().Set("Location", "/api/v1/runs/"+state.ID)
	writeJSON(w, http.StatusAccepted, state)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runs.list())
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	state, ok := s.runs.get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, errRunNotFound)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	state, err := s.runs.cancel(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, errRunNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, errRunFinished):
		writeJSON(w, http.StatusConflict, state)
	default:
		writeJSON(w, http.StatusAccepted, state)
	}
}
