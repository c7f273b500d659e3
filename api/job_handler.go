package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/hub"
	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/job"
	"github.com/JadKHaddad-ORG/JobHub/stream"
)

// OwnerResponse carries a freshly issued owner id.
type OwnerResponse struct {
	Owner string `json:"owner"`
}

// LogFilesResponse lists a job's log files.
type LogFilesResponse struct {
	Files []string `json:"files"`
}

const (
	defaultLimit = 100
	maxLimit     = 1000
)

func (a *API) newOwner(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, OwnerResponse{Owner: hub.NewOwner()})
}

func (a *API) submitJob(w http.ResponseWriter, r *http.Request) {
	var spec job.Spec
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, jobhub.Invalid("body", "exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, jobhub.Invalid("body", "%v", err))
		return
	}

	j, err := a.hub.Submit(r.Context(), owner(r), spec)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/jobs/"+j.ID.String())
	writeJSON(w, http.StatusCreated, j)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	jobs, err := a.hub.List(r.Context(), owner(r), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// parseFilter reads state, retry_of, finished_before, limit and offset.
// state may repeat or hold a comma-separated list.
func parseFilter(r *http.Request) (job.Filter, error) {
	q := r.URL.Query()
	f := job.Filter{Limit: defaultLimit}

	for _, raw := range q["state"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			st, err := job.ParseState(s)
			if err != nil {
				return f, err
			}
			f.States = append(f.States, st)
		}
	}
	if v := q.Get("retry_of"); v != "" {
		retryOf, err := id.ParseJobID(v)
		if err != nil {
			return f, jobhub.Invalid("retry_of", "%v", err)
		}
		f.RetryOf = retryOf
	}
	if v := q.Get("finished_before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, jobhub.Invalid("finished_before", "want RFC 3339 time")
		}
		f.FinishedBefore = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, jobhub.Invalid("limit", "want a positive integer")
		}
		f.Limit = min(n, maxLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, jobhub.Invalid("offset", "want a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	j, err := a.hub.Get(r.Context(), owner(r), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := a.hub.Cancel(r.Context(), owner(r), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) archive(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ar, err := a.hub.Package(r.Context(), owner(r), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ar.Name))
	w.Header().Set("ETag", strconv.Quote(ar.Fingerprint))
	http.ServeContent(w, r, ar.Name, time.Time{}, ar.Reader())
}

func (a *API) logFiles(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	files, err := a.hub.LogFiles(r.Context(), owner(r), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LogFilesResponse{Files: files})
}

func (a *API) logs(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s := stream.IOStream(strings.TrimSuffix(chi.URLParam(r, "stream"), ".log"))
	data, err := a.hub.Logs(r.Context(), owner(r), jobID, s)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func jobIDParam(r *http.Request) (id.JobID, error) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobId"))
	if err != nil {
		// An id that cannot exist names no job.
		return id.Nil, fmt.Errorf("%w: %v", jobhub.ErrNotFound, err)
	}
	return jobID, nil
}
