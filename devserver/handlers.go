package devserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Health reports server status. It does not require authentication.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	online, total, running := s.data.counts()
	status := "ok"
	if online < total {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  status,
		Version: Version,
		Uptime:  time.Since(s.started).Truncate(time.Second).String(),
		Components: map[string]string{
			"auth":    "ok",
			"sensors": fmt.Sprintf("%d/%d online", online, total),
			"jobs":    fmt.Sprintf("%d running", running),
		},
	})
}

func (s *Server) ListSensors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ListSensorsResponse{Sensors: s.data.listSensors()})
}

func (s *Server) GetSensor(w http.ResponseWriter, r *http.Request) {
	sensor, ok := s.data.sensor(chi.URLParam(r, "sensorID"))
	if !ok {
		writeError(w, http.StatusNotFound, "sensor not found")
		return
	}
	writeJSON(w, http.StatusOK, sensor)
}

// ListJobs supports ?status=, ?sensor=, ?limit= and ?offset=.
func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	switch status {
	case "", JobQueued, JobRunning, JobComplete, JobFailed, JobCancelled:
	default:
		writeError(w, http.StatusBadRequest, "unknown job status "+status)
		return
	}
	jobs := s.data.listJobs(status, q.Get("sensor"), time.Now())
	limit, offset := parsePagination(r)
	start, end, meta := paginateSlice(len(jobs), limit, offset)
	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: jobs[start:end], PaginationMeta: meta})
}

func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.data.job(chi.URLParam(r, "jobID"), time.Now())
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) SubmitJob(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	req, ok := decodeJSON[SubmitJobRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	job, err := s.data.submitJob(req, p.Username, time.Now())
	if err != nil {
		mapError(w, err)
		return
	}
	s.audit.logUser(AuditJobSubmitted, r, p.Username, slog.String("job_id", job.ID))
	writeJSON(w, http.StatusCreated, job)
}

// CancelJob stops a queued or running job. Finished jobs return 409.
func (s *Server) CancelJob(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	job, err := s.data.cancelJob(chi.URLParam(r, "jobID"), p.Username, p.admin(), time.Now())
	if err != nil {
		mapError(w, err)
		return
	}
	s.audit.logUser(AuditJobCancelled, r, p.Username, slog.String("job_id", job.ID))
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) Topology(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.data.topology(time.Now()))
}

func (s *Server) GetPreferences(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	writeJSON(w, http.StatusOK, s.data.preferences(p.UserID))
}

func (s *Server) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	req, ok := decodeJSON[Preferences](w, r, maxBodySize)
	if !ok {
		return
	}
	prefs, err := s.data.setPreferences(p.UserID, req)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}
