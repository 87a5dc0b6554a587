package rest

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/fortuna/scoreline/internal/backfill"
	"github.com/fortuna/scoreline/internal/reconcile"
)

// SyncHandler serves diary sync requests. A single day runs inline; a date
// range is queued on the backfill service.
type SyncHandler struct {
	diary   *reconcile.DiarySync
	service *backfill.Service
	local   *time.Location

	now func() time.Time
}

// NewSyncHandler wires the REST layer to the diary sync and backfill service.
func NewSyncHandler(deps Deps) *SyncHandler {
	local := deps.Local
	if local == nil {
		local = time.UTC
	}
	return &SyncHandler{
		diary:   deps.Diary,
		service: deps.Backfill,
		local:   local,
		now:     time.Now,
	}
}

type apiSyncRequest struct {
	Date      string `json:"date"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	DryRun    bool   `json:"dry_run"`
}

// HandleSyncRequest handles POST /api/v1/diary/sync
func (h *SyncHandler) HandleSyncRequest(w http.ResponseWriter, r *http.Request) {
	var req apiSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.StartDate != "" || req.EndDate != "" {
		h.enqueueRange(w, r, req)
		return
	}

	if h.diary == nil {
		respondError(w, http.StatusServiceUnavailable, "Diary sync not configured", nil)
		return
	}

	day := h.now().In(h.local)
	if req.Date != "" {
		parsed, err := time.ParseInLocation("2006-01-02", req.Date, h.local)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid date format (YYYY-MM-DD)", err)
			return
		}
		day = parsed
	}

	res, err := h.diary.SyncDay(r.Context(), day)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, res)
	case errors.Is(err, reconcile.ErrProviderUnavailable):
		respondJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":   "Provider unavailable",
			"status":  http.StatusBadGateway,
			"details": err.Error(),
			"result":  res,
		})
	default:
		respondError(w, http.StatusInternalServerError, "Diary sync failed", err)
	}
}

func (h *SyncHandler) enqueueRange(w http.ResponseWriter, r *http.Request, req apiSyncRequest) {
	if h.service == nil {
		respondError(w, http.StatusServiceUnavailable, "Backfill service not configured", nil)
		return
	}
	if req.StartDate == "" || req.EndDate == "" {
		respondError(w, http.StatusBadRequest, "start_date and end_date are both required", nil)
		return
	}

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid start_date format (YYYY-MM-DD)", err)
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid end_date format (YYYY-MM-DD)", err)
		return
	}

	job, err := h.service.Enqueue(r.Context(), backfill.Request{
		StartDate: &start,
		EndDate:   &end,
		DryRun:    req.DryRun,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to enqueue sync job", err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"job": jobPayload(job),
	})
}

// HandleJobStatus handles GET /api/v1/diary/jobs
func (h *SyncHandler) HandleJobStatus(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		respondError(w, http.StatusServiceUnavailable, "Backfill service not configured", nil)
		return
	}

	summary, err := h.service.GetStatus(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch status", err)
		return
	}

	respondJSON(w, http.StatusOK, buildStatusPayload(summary))
}

func buildStatusPayload(summary *backfill.StatusSummary) map[string]interface{} {
	response := map[string]interface{}{
		"status":  "idle",
		"message": "No active jobs",
		"history": []map[string]interface{}{},
	}

	if summary.ActiveJob != nil {
		response["status"] = summary.ActiveJob.Status
		if summary.ActiveJob.StatusMessage.Valid {
			response["message"] = summary.ActiveJob.StatusMessage.String
		}
		response["active_job"] = jobPayload(summary.ActiveJob)
	}

	history := make([]map[string]interface{}, 0, len(summary.History))
	for _, job := range summary.History {
		history = append(history, jobPayload(job))
	}

	response["history"] = history
	return response
}

func jobPayload(job *backfill.Job) map[string]interface{} {
	if job == nil {
		return nil
	}

	payload := map[string]interface{}{
		"job_id":           job.JobID,
		"job_type":         job.JobType,
		"status":           job.Status,
		"dry_run":          job.DryRun,
		"progress_current": job.ProgressCurrent,
		"progress_total":   job.ProgressTotal,
		"matches_upserted": job.MatchesUpserted,
		"created_at":       job.CreatedAt,
		"updated_at":       job.UpdatedAt,
	}

	if job.StatusMessage.Valid {
		payload["status_message"] = job.StatusMessage.String
	}
	if job.StartDate.Valid {
		payload["start_date"] = job.StartDate.Time.Format("2006-01-02")
	}
	if job.EndDate.Valid {
		payload["end_date"] = job.EndDate.Time.Format("2006-01-02")
	}
	if job.StartedAt.Valid {
		payload["started_at"] = job.StartedAt.Time
	}
	if job.CompletedAt.Valid {
		payload["completed_at"] = job.CompletedAt.Time
	}
	if job.LastError.Valid {
		payload["last_error"] = job.LastError.String
	}

	return payload
}
