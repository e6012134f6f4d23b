package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/geoservice/internal/model"
	"github.com/seantiz/geoservice/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type resourceResponse struct {
	Link       string `json:"link"`
	OutputPath string `json:"outputPath"`
}

// statusResponse is the public view of a ticket.
type statusResponse struct {
	Ticket         string            `json:"ticket"`
	IdempotencyKey *string           `json:"idempotencyKey"`
	RequestType    string            `json:"requestType"`
	Initiated      time.Time         `json:"initiated"`
	ExecutionTime  *float64          `json:"executionTime"`
	Completed      bool              `json:"completed"`
	Success        *bool             `json:"success"`
	ErrorMessage   *string           `json:"errorMessage"`
	Resource       *resourceResponse `json:"resource"`
}

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Tickets []statusResponse `json:"tickets"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

func (s *Server) toStatus(t *model.Ticket) statusResponse {
	resp := statusResponse{
		Ticket:         t.ID,
		IdempotencyKey: t.IdempotencyKey,
		RequestType:    t.RequestType,
		Initiated:      t.Initiated,
		ExecutionTime:  t.ExecutionTime,
		Completed:      t.Completed,
		Success:        t.Success,
		ErrorMessage:   t.ErrorMessage,
	}
	if t.Result != nil {
		resp.Resource = &resourceResponse{
			Link:       s.output.Link(t.Result.OutputPath),
			OutputPath: t.Result.OutputPath,
		}
	}
	return resp
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, key := q.Get("ticket"), q.Get("idempotencyKey")
	if id == "" && key == "" {
		s.writeError(w, http.StatusBadRequest, "ticket or idempotencyKey is required")
		return
	}

	t, err := s.resolver.Lookup(r.Context(), id, key, q.Get("requestType"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "ticket not found")
		return
	}
	if err != nil {
		s.logger.Error("get ticket", "ticket", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get ticket")
		return
	}

	s.writeJSON(w, http.StatusOK, s.toStatus(t))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	tickets, total, err := s.store.ListTickets(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list tickets", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list tickets")
		return
	}

	resp := listJobsResponse{
		Tickets: make([]statusResponse, 0, len(tickets)),
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	}
	for _, t := range tickets {
		resp.Tickets = append(resp.Tickets, s.toStatus(t))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ticket")

	t, err := s.store.GetTicket(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "ticket not found")
		return
	}
	if err != nil {
		s.logger.Error("get ticket", "ticket", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get ticket")
		return
	}

	switch t.State() {
	case model.StatePending:
		s.writeError(w, http.StatusConflict, "ticket is still pending")
	case model.StateCompletedFailure:
		s.writeError(w, http.StatusConflict, "ticket failed")
	case model.StateCompletedSuccessEmpty:
		w.WriteHeader(http.StatusNoContent)
	default:
		s.serveArtifact(w, r, t.Result.OutputPath)
	}
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
