package tracker

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"jobwatch/pkg/jobs"
)

// patchRequest is the wire form of an update. Timestamps are parsed leniently so that
// zone-less local date-times are accepted alongside RFC 3339.
type patchRequest struct {
	JobName      string  `json:"jobName"`
	RunID        string  `json:"runId"`
	Status       *string `json:"status"`
	EndTime      *string `json:"endTime"`
	ErrorMessage *string `json:"errorMessage"`
}

func (p patchRequest) patch() (jobs.Patch, error) {
	var out jobs.Patch
	if p.Status != nil {
		status := jobs.Status(*p.Status)
		out.Status = &status
	}
	if p.EndTime != nil && strings.TrimSpace(*p.EndTime) != "" {
		end, err := parseTimestamp("endTime", *p.EndTime, false)
		if err != nil {
			return jobs.Patch{}, err
		}
		out.EndTime = &end
	}
	out.ErrorMessage = p.ErrorMessage
	return out, nil
}

func (a *API) handleStartJob(w http.ResponseWriter, r *http.Request) {
	// Clients may post a whole record; everything but the natural key is ignored.
	var req jobs.StartRequest
	if err := decodeLenientJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	execution, err := a.svc.StartJob(r.Context(), req)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, execution)
}

func (a *API) handleUpdateJobByKey(w http.ResponseWriter, r *http.Request) {
	var req patchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	a.update(w, r, jobs.ByKey(req.JobName, req.RunID), req)
}

func (a *API) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondFailure(w, err)
		return
	}

	var req patchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	a.update(w, r, jobs.ByID(id), req)
}

func (a *API) update(w http.ResponseWriter, r *http.Request, ref jobs.Ref, req patchRequest) {
	patch, err := req.patch()
	if err != nil {
		respondFailure(w, err)
		return
	}

	execution, err := a.svc.UpdateJob(r.Context(), ref, patch)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, execution)
}

func (a *API) handleListJobs(w http.ResponseWriter, r *http.Request) {
	criteria, err := parseCriteria(r.URL.Query())
	if err != nil {
		respondFailure(w, err)
		return
	}

	executions, err := a.svc.ListJobs(r.Context(), criteria)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, executions)
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondFailure(w, err)
		return
	}

	execution, err := a.svc.GetJob(r.Context(), id)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, execution)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := a.svc.Stats(r.Context())
	if err != nil {
		respondFailure(w, err)
		return
	}

	out := make(map[string]int64, len(counts)+1)
	var total int64
	for status, n := range counts {
		out[string(status)] = n
		total += n
	}
	out["total"] = total
	respondJSON(w, http.StatusOK, out)
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, jobs.Invalidf("invalid execution id %q", raw)
	}
	return id, nil
}
