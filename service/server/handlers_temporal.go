package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tajiricircle/tajiri/service/config"
	"github.com/tajiricircle/tajiri/service/temporal"
)

const (
	defaultTrustRefreshInterval = 24 * time.Hour
	maxTrustRefreshInterval     = 30 * 24 * time.Hour
)

// handleIngestSMSAsync returns a handler that starts ProcessSMSWorkflow
// and answers with its workflow ID.
// POST /api/v1/sms/async
func handleIngestSMSAsync(workflows WorkflowStarter, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if workflows == nil {
			writeError(w, "async ingestion is not configured", http.StatusServiceUnavailable)
			return
		}

		var req smsRequest
		if err := decodeRequest(w, r, &req); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		workflowID, err := workflows.StartProcessSMS(r.Context(), temporal.ProcessSMSInput{Message: req.message()})
		if err != nil {
			logger.Error("failed to start workflow", "phone", req.Phone, "error", err)
			writeError(w, "failed to start ingestion workflow", http.StatusInternalServerError)
			return
		}

		logger.Info("ingestion workflow started", "workflow_id", workflowID)
		writeJSON(w, map[string]string{
			"workflow_id": workflowID,
			"status":      "running",
			"status_url":  "/api/v1/sms/async/" + workflowID,
		}, http.StatusAccepted)
	})
}

// handleGetIngestStatus returns a handler that reports a workflow's state
// and, once completed, its outcome.
// GET /api/v1/sms/async/{workflow_id}
func handleGetIngestStatus(workflows WorkflowStarter, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if workflows == nil {
			writeError(w, "async ingestion is not configured", http.StatusServiceUnavailable)
			return
		}

		workflowID := r.PathValue("workflow_id")
		if workflowID == "" {
			writeError(w, "workflow_id is required", http.StatusBadRequest)
			return
		}

		status, err := workflows.GetProcessSMSResult(r.Context(), workflowID)
		if err != nil {
			writeServiceError(w, r, logger, err, "workflow")
			return
		}
		writeJSON(w, status, http.StatusOK)
	})
}

// handleUpsertTrustSchedule returns a handler that creates or updates a
// user's periodic trust refresh.
// POST /api/v1/users/{phone}/trust-schedule
//
// The body may carry {"interval": "12h"}. Without it the configured
// default interval is used.
func handleUpsertTrustSchedule(store Store, scheduler temporal.Scheduler, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if scheduler == nil {
			writeError(w, "trust schedules are not configured", http.StatusServiceUnavailable)
			return
		}

		phone, err := pathPhone(r)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		var req struct {
			Interval string `json:"interval,omitempty"`
		}
		if r.ContentLength > 0 {
			if err := decodeRequest(w, r, &req); err != nil {
				writeServiceError(w, r, logger, err)
				return
			}
		}

		interval := cfg.TrustRefreshInterval
		if interval == 0 {
			interval = defaultTrustRefreshInterval
		}
		if req.Interval != "" {
			interval, err = time.ParseDuration(req.Interval)
			if err != nil {
				writeError(w, "invalid interval: must be a valid duration (e.g. '12h', '24h')", http.StatusBadRequest)
				return
			}
		}
		if err := validateRefreshInterval(interval, cfg.MinTrustRefreshInterval); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		if _, err := store.GetUserByPhone(r.Context(), phone); err != nil {
			writeServiceError(w, r, logger, err, "user")
			return
		}

		if err := scheduler.UpsertTrustSchedule(r.Context(), phone, interval); err != nil {
			logger.Error("failed to upsert trust schedule", "phone", phone, "error", err)
			writeError(w, "failed to schedule trust refresh", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]string{
			"phone":       phone,
			"schedule_id": temporal.TrustScheduleID(phone),
			"interval":    interval.String(),
		}, http.StatusOK)
	})
}

// handleDeleteTrustSchedule returns a handler that stops a user's periodic
// trust refresh.
// DELETE /api/v1/users/{phone}/trust-schedule
func handleDeleteTrustSchedule(scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if scheduler == nil {
			writeError(w, "trust schedules are not configured", http.StatusServiceUnavailable)
			return
		}

		phone, err := pathPhone(r)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		if err := scheduler.DeleteTrustSchedule(r.Context(), phone); err != nil {
			logger.Error("failed to delete trust schedule", "phone", phone, "error", err)
			writeError(w, "failed to delete trust schedule", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

// validateRefreshInterval bounds intervals between minInterval (when set)
// and 30 days.
func validateRefreshInterval(interval, minInterval time.Duration) error {
	if interval <= 0 {
		return badRequest("interval must be positive")
	}
	if minInterval > 0 && interval < minInterval {
		return badRequest("interval must be at least %v", minInterval)
	}
	if interval > maxTrustRefreshInterval {
		return badRequest("interval cannot exceed %v", maxTrustRefreshInterval)
	}
	return nil
}
