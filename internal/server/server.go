// Package server exposes job, schedule and retry state over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jo-hoe/pinwriter/internal/common"
	"github.com/jo-hoe/pinwriter/internal/config"
	"github.com/jo-hoe/pinwriter/internal/jobs"
	"github.com/jo-hoe/pinwriter/internal/orchestrator"
	"github.com/jo-hoe/pinwriter/internal/retry"
	"github.com/jo-hoe/pinwriter/internal/schedule"
)

type Service struct {
	Log          *slog.Logger
	Cfg          *config.Config
	Jobs         jobs.Store
	Retries      *retry.Queue
	Schedules    *schedule.Store
	Orchestrator *orchestrator.Orchestrator
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	return &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      svc.Routes(),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
}

// Routes returns the router. Everything under the API prefix honours the
// optional API key and the body size limit.
func (svc *Service) Routes() http.Handler {
	if svc.Log == nil {
		svc.Log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware(svc.Log))
	r.Use(middleware.Recoverer)

	r.Get(common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route(common.PathAPIPrefix, func(v1 chi.Router) {
		v1.Use(svc.apiKey)
		if max := safeInt64(svc.Cfg.Server.MaxBodySize); max > 0 {
			v1.Use(middleware.RequestSize(max))
		}

		v1.Route(common.PathJobs, func(r chi.Router) {
			r.Get("/", svc.listJobs)
			r.Post("/", svc.createJob)
			r.Get("/{id}", svc.getJob)
			r.Post("/{id}/retry", svc.retryJob)
		})
		v1.Route(common.PathSchedules, func(r chi.Router) {
			r.Get("/", svc.listSchedules)
			r.Post("/", svc.createSchedule)
			r.Get("/{id}", svc.getSchedule)
			r.Patch("/{id}", svc.updateSchedule)
			r.Delete("/{id}", svc.cancelSchedule)
		})
		v1.Route(common.PathRetries, func(r chi.Router) {
			r.Get("/", svc.listRetries)
			r.Get("/stats", svc.retryStats)
			r.Delete("/{jobID}", svc.cancelRetries)
		})
		v1.Get(common.PathStats, svc.stats)
	})
	return r
}

func (svc *Service) apiKey(next http.Handler) http.Handler {
	key := strings.TrimSpace(svc.Cfg.Server.APIKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key != "" && r.Header.Get(common.HeaderAPIKey) != key {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type topicRequest struct {
	Topic string `json:"topic"`
}

type createResponse struct {
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
}

func (svc *Service) createJob(w http.ResponseWriter, r *http.Request) {
	var req topicRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	job, err := svc.Orchestrator.Submit(r.Context(), req.Topic)
	if err != nil {
		if job == nil {
			svc.internal(w, "create job", err)
			return
		}
		// The job exists and is recorded as failed.
		svc.Log.Warn("job not queued", "job_id", job.ID, "err", err)
		writeError(w, http.StatusServiceUnavailable, "queue unavailable, try later")
		return
	}
	svc.Log.Info("job created", "job_id", job.ID)
	writeJSON(w, http.StatusAccepted, createResponse{
		JobID:     job.ID,
		StatusURL: path.Join(common.PathAPIPrefix, common.PathJobs, job.ID),
	})
}

func (svc *Service) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	list, err := svc.Jobs.ListJobs(r.Context(), limit)
	if err != nil {
		svc.internal(w, "list jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

type jobResponse struct {
	*jobs.Job
	Retry *retry.Entry `json:"retry,omitempty"`
}

func (svc *Service) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := svc.Jobs.GetJob(r.Context(), id)
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		svc.internal(w, "get job", err)
		return
	}
	out := jobResponse{Job: job}
	entry, err := svc.Retries.GetEntry(r.Context(), id)
	switch {
	case err == nil:
		out.Retry = entry
	case !errors.Is(err, retry.ErrNotFound):
		svc.internal(w, "get retry entry", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (svc *Service) retryJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := svc.Orchestrator.Retrigger(r.Context(), id)
	switch {
	case err == nil:
		svc.Log.Info("job retriggered", "job_id", id)
		writeJSON(w, http.StatusAccepted, createResponse{
			JobID:     id,
			StatusURL: path.Join(common.PathAPIPrefix, common.PathJobs, id),
		})
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrInvalidState), errors.Is(err, jobs.ErrAlreadyQueued):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrQueueClosed), errors.Is(err, jobs.ErrQueueNotStarted):
		writeError(w, http.StatusServiceUnavailable, "queue unavailable, try later")
	default:
		svc.internal(w, "retrigger job", err)
	}
}

type scheduleRequest struct {
	Topic       *string    `json:"topic"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	Recurrence  *string    `json:"recurrence"`
}

func (svc *Service) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Topic == nil || strings.TrimSpace(*req.Topic) == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	if req.ScheduledAt == nil {
		writeError(w, http.StatusBadRequest, "scheduled_at is required")
		return
	}
	rec := schedule.RecurrenceNone
	if req.Recurrence != nil {
		var err error
		if rec, err = schedule.ParseRecurrence(*req.Recurrence); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	c, err := svc.Schedules.ScheduleContent(r.Context(), *req.Topic, *req.ScheduledAt, rec)
	if err != nil {
		svc.internal(w, "schedule content", err)
		return
	}
	svc.Log.Info("content scheduled", "schedule_id", c.ID, "scheduled_at", c.ScheduledAt, "recurrence", c.Recurrence)
	writeJSON(w, http.StatusCreated, c)
}

func (svc *Service) listSchedules(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	status := schedule.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	var (
		list []schedule.Content
		err  error
	)
	if r.URL.Query().Get("upcoming") == "true" {
		list, err = svc.Schedules.GetUpcomingScheduledContent(r.Context(), limit)
	} else {
		list, err = svc.Schedules.ListContent(r.Context(), status, limit)
	}
	if err != nil {
		svc.internal(w, "list schedules", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (svc *Service) getSchedule(w http.ResponseWriter, r *http.Request) {
	c, err := svc.Schedules.GetContent(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, schedule.ErrNotFound) {
		writeError(w, http.StatusNotFound, "scheduled content not found")
		return
	}
	if err != nil {
		svc.internal(w, "get schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (svc *Service) updateSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req scheduleRequest
	if !decode(w, r, &req) {
		return
	}
	upd := schedule.Update{Topic: req.Topic, ScheduledAt: req.ScheduledAt}
	if req.Recurrence != nil {
		rec, err := schedule.ParseRecurrence(*req.Recurrence)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		upd.Recurrence = &rec
	}
	if upd.Topic != nil && strings.TrimSpace(*upd.Topic) == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	changed, err := svc.Schedules.UpdateScheduledContent(r.Context(), id, upd)
	if errors.Is(err, schedule.ErrNotFound) {
		writeError(w, http.StatusNotFound, "scheduled content not found")
		return
	}
	if err != nil {
		svc.internal(w, "update schedule", err)
		return
	}
	c, err := svc.Schedules.GetContent(r.Context(), id)
	if err != nil {
		svc.internal(w, "get schedule", err)
		return
	}
	if !changed && c.Status != schedule.StatusPending {
		writeError(w, http.StatusConflict, "only pending content can be updated")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (svc *Service) cancelSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := svc.Schedules.CancelScheduledContent(r.Context(), id)
	if err != nil {
		svc.internal(w, "cancel schedule", err)
		return
	}
	if !ok {
		if _, err := svc.Schedules.GetContent(r.Context(), id); errors.Is(err, schedule.ErrNotFound) {
			writeError(w, http.StatusNotFound, "scheduled content not found")
			return
		}
		writeError(w, http.StatusConflict, "only pending content can be cancelled")
		return
	}
	svc.Log.Info("scheduled content cancelled", "schedule_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (svc *Service) listRetries(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	list, err := svc.Retries.ListEntries(r.Context(), limit)
	if err != nil {
		svc.internal(w, "list retries", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (svc *Service) retryStats(w http.ResponseWriter, r *http.Request) {
	st, err := svc.Retries.GetRetryQueueStats(r.Context())
	if err != nil {
		svc.internal(w, "retry stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (svc *Service) cancelRetries(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	ok, err := svc.Retries.CancelRetries(r.Context(), jobID)
	if err != nil {
		svc.internal(w, "cancel retries", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "retry entry not found")
		return
	}
	svc.Log.Info("retries cancelled", "job_id", jobID)
	w.WriteHeader(http.StatusNoContent)
}

func (svc *Service) stats(w http.ResponseWriter, r *http.Request) {
	st, err := svc.Orchestrator.Stats(r.Context())
	if err != nil {
		svc.internal(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (svc *Service) internal(w http.ResponseWriter, op string, err error) {
	svc.Log.Error(op, "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return 0, false
	}
	return n, true
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}

func loggingMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Info("http",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", time.Since(start).String(),
				"remote", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
