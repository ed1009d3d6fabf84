package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yieldera/datahub/internal/cache"
	"github.com/yieldera/datahub/internal/derrors"
	"github.com/yieldera/datahub/internal/extract"
	"github.com/yieldera/datahub/internal/model"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// datasetInfo is the wire form of a catalog entry.
type datasetInfo struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Collection    string            `json:"collection"`
	Variable      string            `json:"variable"`
	Granularity   string            `json:"granularity"`
	ResolutionDeg float64           `json:"resolution_deg"`
	MaxSpanDays   int               `json:"max_span_days"`
	Units         map[string]string `json:"units"`
	License       string            `json:"license"`
	Citation      string            `json:"citation"`
}

func (s *Server) handleDatasets(w http.ResponseWriter, _ *http.Request) {
	list := s.extractor.Catalog().List()
	out := make([]datasetInfo, 0, len(list))
	for _, d := range list {
		out = append(out, datasetInfo{
			ID:            d.ID,
			Name:          d.Name,
			Collection:    d.Collection,
			Variable:      d.Variable,
			Granularity:   string(d.Granularity),
			ResolutionDeg: d.ResolutionDeg,
			MaxSpanDays:   d.MaxSpanDays,
			Units:         d.Units,
			License:       d.License,
			Citation:      d.Citation,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": out})
}

func (s *Server) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	var req extract.TimeseriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, derrors.Validation("invalid request body", "send a JSON timeseries request"))
		return
	}

	// Normalize up front: validation failures are reported before any cache
	// or engine work, and the canonical geometry keys the cache.
	ds, spec, rng, stat, err := s.extractor.Normalize(req)
	if err != nil {
		writeError(w, err)
		return
	}

	fp := cache.Fingerprint(cache.Request{
		Dataset:  ds.ID,
		Variable: ds.Variable,
		Geometry: spec.Canonical,
		Start:    rng.Start.Format(model.DateLayout),
		End:      rng.End.Format(model.DateLayout),
		Spatial:  string(stat),
		Temporal: "daily",
	})

	payload, hit, err := s.cache.GetOrCompute(r.Context(), fp, func(ctx context.Context) ([]byte, error) {
		res, err := s.extractor.Timeseries(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if hit {
		w.Header().Set("X-Cache", "hit")
	} else {
		w.Header().Set("X-Cache", "miss")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req extract.ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, derrors.Validation("invalid request body", "send a JSON export request"))
		return
	}

	// Reject malformed requests synchronously; only valid work is queued.
	if _, err := s.extractor.ValidateExport(req); err != nil {
		writeError(w, err)
		return
	}

	j, err := s.jobs.Submit(r.Context(), req.Dataset, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, j)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Status(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleJobDownload(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Status(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if j.Status != model.JobDone {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":    "job is not finished",
			"status":   j.Status,
			"progress": j.Progress,
		})
		return
	}

	key := r.URL.Query().Get("artifact")
	path, ok := j.DownloadURLs[key]
	if key == "" && len(j.DownloadURLs) == 1 {
		for _, p := range j.DownloadURLs {
			path, ok = p, true
		}
	}
	if !ok {
		writeError(w, derrors.Newf(derrors.KindNotFound, "job %s has no artifact %q", j.ID, key))
		return
	}
	http.ServeFile(w, r, path)
}

// writeError maps the error taxonomy onto HTTP statuses. The concurrency
// signal raised on claim races is internal and never reaches a client with
// its own status.
func writeError(w http.ResponseWriter, err error) {
	body := map[string]any{"error": err.Error()}
	if hint := derrors.HintOf(err); hint != "" {
		body["hint"] = hint
	}

	var status int
	switch derrors.KindOf(err) {
	case derrors.KindValidation:
		status = http.StatusBadRequest
	case derrors.KindUpstream:
		status = http.StatusBadGateway
	case derrors.KindUnavailable:
		status = http.StatusServiceUnavailable
	case derrors.KindNotFound:
		status = http.StatusNotFound
	default:
		status = http.StatusInternalServerError
		body["error"] = "internal error"
		zap.L().Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("response encode failed", zap.Error(err))
	}
}
