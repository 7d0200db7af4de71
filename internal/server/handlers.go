package server

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/vigil-ai/vigil/pkg/types"
)

// maxBodyBytes bounds a single submission; batches of a few thousand events
// fit comfortably.
const maxBodyBytes = 16 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	if err := s.ingestor.ProcessEvent(r.Context(), raw); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (s *Server) handleTelemetryBatch(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	var payload struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid batch payload: "+err.Error())
		return
	}
	if len(payload.Events) == 0 {
		s.writeError(w, http.StatusBadRequest, "batch contains no events")
		return
	}

	raws := make([][]byte, len(payload.Events))
	for i, ev := range payload.Events {
		raws[i] = ev
	}
	res := s.ingestor.ProcessBatch(r.Context(), raws)
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMetricsLLM(w http.ResponseWriter, r *http.Request) {
	q, err := metricsQueryFromParams(r.URL.Query())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.evaluator.Evaluate(r.Context(), q)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleMetricsRelations is the agent×model relationship view: fixed
// breakdown, distributions always included.
func (s *Server) handleMetricsRelations(w http.ResponseWriter, r *http.Request) {
	q, err := metricsQueryFromParams(r.URL.Query())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q.Breakdown = types.DimensionAgentModel
	q.IncludeDistributions = true
	if q.Granularity == "" {
		q.Granularity = types.GranularityHour
	}

	res, err := s.evaluator.Evaluate(r.Context(), q)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func metricsQueryFromParams(params url.Values) (types.MetricsQuery, error) {
	q := types.MetricsQuery{
		Filter: types.MetricsFilter{
			AgentID: params.Get("agent_id"),
			TraceID: params.Get("trace_id"),
			Model:   params.Get("model"),
		},
		Granularity: types.Granularity(params.Get("granularity")),
		Breakdown:   types.Dimension(params.Get("breakdown")),
	}

	if v := params.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, fmt.Errorf("invalid from %q: %w", v, err)
		}
		q.Filter.From = &t
	}
	if v := params.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, fmt.Errorf("invalid to %q: %w", v, err)
		}
		q.Filter.To = &t
	}
	return q, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
