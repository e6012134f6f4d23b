package api

import (
	"net/http"

	"github.com/seantiz/geoservice/internal/transform"
)

// statsResponse is the JSON response for GET /stats.
type statsResponse struct {
	Total            int            `json:"total"`
	Pending          int            `json:"pending"`
	Queued           int            `json:"queued"`
	ByState          map[string]int `json:"by_state"`
	ByRequestType    map[string]int `json:"by_request_type"`
	AvgExecutionSecs float64        `json:"avg_execution_secs"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetTicketStats(r.Context())
	if err != nil {
		s.logger.Error("get ticket stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:            stats.Total,
		Pending:          stats.Pending,
		Queued:           s.scheduler.QueueLen(),
		ByState:          stats.CountByState,
		ByRequestType:    stats.CountByRequestType,
		AvgExecutionSecs: stats.AvgExecutionSecs,
	})
}

func (s *Server) handleListOperations(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, transform.Catalog())
}
