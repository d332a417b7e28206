package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/url-ingest/internal/importer"
	"github.com/JakeFAU/url-ingest/internal/ingest"
)

const maxJobLimit = 1000

type submitJobRequest struct {
	URL string `json:"url"`
}

type importJobsResponse struct {
	Jobs  []ingest.Job `json:"jobs"`
	Error string       `json:"error,omitempty"`
}

// submitJob handles POST /v1/jobs {"url": "..."} and answers 202 with the
// queued job.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.dispatcher.Submit(r.Context(), req.URL, nil)
	if err != nil {
		if errors.Is(err, ingest.ErrEmptyURL) {
			s.writeErr(w, r, err)
			return
		}
		// The job exists but could not be queued; it has already been failed.
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// importJobs handles POST /v1/jobs/import with a multipart "file" field.
func (s *Server) importJobs(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing upload field \"file\": %v", err))
		return
	}
	defer file.Close()

	urls, err := importer.Parse(header.Filename, file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(urls) == 0 {
		writeError(w, http.StatusBadRequest, "no urls found in upload")
		return
	}
	jobs, err := s.dispatcher.SubmitAll(r.Context(), urls, nil)
	resp := importJobsResponse{Jobs: jobs}
	if resp.Jobs == nil {
		resp.Jobs = []ingest.Job{}
	}
	if err != nil {
		s.logger.Warn("file import partially failed",
			zap.String("file", header.Filename),
			zap.Int("submitted", len(jobs)),
			zap.Error(err))
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// listJobs handles GET /v1/jobs?status=&limit=&offset=, ordered by id.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var filter ingest.JobStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		filter, err = parseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	all := s.jobs.List()
	jobs := make([]ingest.Job, 0, len(all))
	for _, job := range all {
		if filter == "" || job.Status == filter {
			jobs = append(jobs, job)
		}
	}
	if offset >= len(jobs) {
		jobs = jobs[:0]
	} else {
		jobs = jobs[offset:]
	}
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// getJob handles GET /v1/jobs/{job_id}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.jobs.Get(id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func parseJobID(r *http.Request) (ingest.JobID, error) {
	raw := chi.URLParam(r, "job_id")
	if raw == "" {
		return 0, errors.New("job_id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid job_id")
	}
	return ingest.JobID(id), nil
}

// parseLimitOffset reads optional paging. A zero limit means no limit.
func parseLimitOffset(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	limit := 0
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxJobLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (ingest.JobStatus, error) {
	switch status := ingest.JobStatus(strings.ToLower(input)); status {
	case ingest.JobStatusQueued, ingest.JobStatusRunning, ingest.JobStatusCompleted, ingest.JobStatusFailed:
		return status, nil
	default:
		return "", errors.New("invalid status")
	}
}
