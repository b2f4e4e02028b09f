package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tajiricircle/tajiri/service/db"
	"github.com/tajiricircle/tajiri/service/fraud"
)

// handleCreateFraudReport returns a handler that stores a scam reported
// by the user.
// POST /api/v1/fraud/reports
func handleCreateFraudReport(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Phone          string `json:"phone" validate:"required,ke_phone"`
			ReportType     string `json:"report_type" validate:"required"`
			Details        string `json:"details" validate:"required,max=2000"`
			ReportedNumber string `json:"reported_number,omitempty" validate:"omitempty,max=20"`
			ReportedURL    string `json:"reported_url,omitempty" validate:"omitempty,url,max=2048"`
		}
		if err := decodeRequest(w, r, &req); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		reportType, err := fraud.ParseReportType(req.ReportType)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		user, err := lookupUser(r, store, req.Phone)
		if err != nil {
			writeServiceError(w, r, logger, err, "user")
			return
		}

		report, err := store.CreateFraudReport(r.Context(), db.CreateFraudReportParams{
			UserID:         user.ID,
			ReportType:     string(reportType),
			Details:        strings.TrimSpace(req.Details),
			ReportedNumber: optionalString(req.ReportedNumber),
			ReportedURL:    optionalString(req.ReportedURL),
		})
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		logger.Info("fraud report received", "phone", user.Phone, "report_id", report.ID, "type", report.ReportType)
		writeJSON(w, reportToResponse(report), http.StatusCreated)
	})
}

// handleListFraudReports returns a handler that lists a user's reports.
// GET /api/v1/users/{phone}/fraud/reports?limit=N&offset=N
func handleListFraudReports(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		phone, err := pathPhone(r)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		limit, offset, err := parsePage(r)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		user, err := store.GetUserByPhone(r.Context(), phone)
		if err != nil {
			writeServiceError(w, r, logger, err, "user")
			return
		}

		reports, err := store.ListFraudReportsByUser(r.Context(), db.ListFraudReportsParams{
			UserID: user.ID,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := make([]reportResponse, len(reports))
		for i := range reports {
			resp[i] = reportToResponse(reports[i])
		}
		writeJSON(w, map[string]interface{}{
			"phone":   phone,
			"reports": resp,
			"count":   len(resp),
			"limit":   limit,
			"offset":  offset,
		}, http.StatusOK)
	})
}

type reportResponse struct {
	ID             uuid.UUID `json:"id"`
	ReportType     string    `json:"report_type"`
	Details        string    `json:"details"`
	ReportedNumber *string   `json:"reported_number,omitempty"`
	ReportedURL    *string   `json:"reported_url,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

func reportToResponse(rep *db.FraudReport) reportResponse {
	return reportResponse{
		ID:             rep.ID,
		ReportType:     rep.ReportType,
		Details:        rep.Details,
		ReportedNumber: rep.ReportedNumber,
		ReportedURL:    rep.ReportedURL,
		Status:         rep.Status,
		CreatedAt:      rep.CreatedAt,
	}
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
