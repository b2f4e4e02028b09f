package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tajiricircle/tajiri/service/db"
	"github.com/tajiricircle/tajiri/service/fraud"
	"github.com/tajiricircle/tajiri/service/pipeline"
	"github.com/tajiricircle/tajiri/service/temporal"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 1000
)

// smsRequest is the body of the parse and ingest endpoints.
type smsRequest struct {
	Phone      string     `json:"phone" validate:"required,ke_phone"`
	Name       string     `json:"name,omitempty" validate:"max=100"`
	Sender     string     `json:"sender,omitempty" validate:"max=64"`
	Text       string     `json:"text" validate:"required,max=2000"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
}

func (req smsRequest) message() pipeline.Message {
	msg := pipeline.Message{
		Phone:  req.Phone,
		Name:   req.Name,
		Sender: req.Sender,
		Text:   req.Text,
	}
	if req.ReceivedAt != nil {
		msg.ReceivedAt = *req.ReceivedAt
	}
	return msg
}

// analyzeRequest carries text to parse or score without a phone.
type analyzeRequest struct {
	Text   string `json:"text" validate:"required,max=2000"`
	Sender string `json:"sender,omitempty" validate:"max=64"`
}

// handleParseSMS returns a handler that parses and scores a message
// without storing anything.
// POST /api/v1/sms/parse
func handleParseSMS(p Ingester, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req analyzeRequest
		if err := decodeRequest(w, r, &req); err != nil {
			logger.Debug("invalid parse request", "error", err)
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, p.Analyze(req.Text, req.Sender), http.StatusOK)
	})
}

// handleAnalyzeFraud returns a handler that reports the fraud assessment
// of a message.
// POST /api/v1/fraud/analyze
func handleAnalyzeFraud(p Ingester, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req analyzeRequest
		if err := decodeRequest(w, r, &req); err != nil {
			logger.Debug("invalid analyze request", "error", err)
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, p.Analyze(req.Text, req.Sender).Assessment, http.StatusOK)
	})
}

// ingestResponse is an outcome, with an error message when the message
// could not be recorded.
type ingestResponse struct {
	*pipeline.Outcome
	Error string `json:"error,omitempty"`
}

// handleIngestSMS returns a handler that ingests a message synchronously.
// POST /api/v1/sms
//
// Recorded messages answer 201, blocked and duplicate messages 200, and
// messages without an amount 400. Every answer carries the outcome.
func handleIngestSMS(p Ingester, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req smsRequest
		if err := decodeRequest(w, r, &req); err != nil {
			logger.Debug("invalid ingest request", "error", err)
			writeServiceError(w, r, logger, err)
			return
		}

		out, err := p.ProcessSMS(r.Context(), req.message())
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := ingestResponse{Outcome: out}
		status := http.StatusOK
		switch out.Status {
		case pipeline.StatusRecorded:
			status = http.StatusCreated
		case pipeline.StatusNotTransaction:
			resp.Error = "message is not a transaction"
			status = http.StatusBadRequest
		}

		logger.DebugContext(r.Context(), "sms ingested",
			"phone", out.Phone,
			"status", out.Status,
			"risk_level", out.Assessment.RiskLevel,
		)
		writeJSON(w, resp, status)
	})
}

// handleListTransactions returns a handler that lists the ledger of a user.
// GET /api/v1/users/{phone}/transactions?limit=N&offset=N
func handleListTransactions(store Store, logger *slog.Logger) http.Handler {
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

		transactions, err := store.ListTransactionsByUser(r.Context(), db.ListTransactionsByUserParams{
			UserID: user.ID,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		total, err := store.CountTransactionsByUser(r.Context(), user.ID)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		logger.Debug("transactions listed", "phone", phone, "count", len(transactions))

		resp := make([]transactionResponse, len(transactions))
		for i := range transactions {
			resp[i] = transactionToResponse(transactions[i])
		}

		writeJSON(w, map[string]interface{}{
			"phone":        phone,
			"transactions": resp,
			"count":        len(resp),
			"total":        total,
			"limit":        limit,
			"offset":       offset,
		}, http.StatusOK)
	})
}

// handleListAlerts returns a handler that lists the fraud alerts of a user.
// GET /api/v1/users/{phone}/alerts?since=RFC3339&limit=N&offset=N
func handleListAlerts(store Store, logger *slog.Logger) http.Handler {
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

		var since *time.Time
		if s := r.URL.Query().Get("since"); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				writeError(w, "invalid since parameter: must be an RFC3339 timestamp", http.StatusBadRequest)
				return
			}
			since = &t
		}

		user, err := store.GetUserByPhone(r.Context(), phone)
		if err != nil {
			writeServiceError(w, r, logger, err, "user")
			return
		}

		alerts, err := store.ListFraudAlertsByUser(r.Context(), db.ListFraudAlertsParams{
			UserID: user.ID,
			Since:  since,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := make([]alertResponse, len(alerts))
		for i := range alerts {
			resp[i] = alertToResponse(alerts[i])
		}

		writeJSON(w, map[string]interface{}{
			"phone":  phone,
			"alerts": resp,
			"count":  len(resp),
			"limit":  limit,
			"offset": offset,
		}, http.StatusOK)
	})
}

// handleUpdateAlertStatus returns a handler that records a review of an alert.
// POST /api/v1/alerts/{id}/status
func handleUpdateAlertStatus(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, "invalid alert id: must be a UUID", http.StatusBadRequest)
			return
		}

		var req struct {
			Status     string `json:"status" validate:"required"`
			UserAction string `json:"user_action,omitempty"`
		}
		if err := decodeRequest(w, r, &req); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		status, err := fraud.ParseAlertStatus(req.Status)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		action, err := fraud.ParseUserAction(req.UserAction)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		alert, err := store.UpdateFraudAlertStatus(r.Context(), db.UpdateFraudAlertStatusParams{
			ID:         id,
			Status:     string(status),
			UserAction: string(action),
		})
		if err != nil {
			writeServiceError(w, r, logger, err, "alert")
			return
		}

		logger.Info("fraud alert reviewed", "alert_id", id, "status", status, "user_action", action)
		writeJSON(w, alertToResponse(alert), http.StatusOK)
	})
}

// handleTrustScore returns a handler that computes, saves and returns the
// current trust score of a user.
// GET /api/v1/users/{phone}/trust-score
func handleTrustScore(p Ingester, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		phone, err := pathPhone(r)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		score, err := p.RefreshTrustScore(r.Context(), phone)
		if err != nil {
			writeServiceError(w, r, logger, err, "user")
			return
		}

		writeJSON(w, score, http.StatusOK)
	})
}

// transactionResponse is the JSON response format for a ledger entry.
type transactionResponse struct {
	ID           uuid.UUID       `json:"id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Direction    string          `json:"direction"`
	Counterparty *string         `json:"counterparty,omitempty"`
	Reference    *string         `json:"reference,omitempty"`
	Source       string          `json:"source"`
	Category     string          `json:"category"`
	Description  string          `json:"description"`
	CreatedAt    time.Time       `json:"created_at"`
}

func transactionToResponse(t *db.Transaction) transactionResponse {
	return transactionResponse{
		ID:           t.ID,
		Amount:       t.Amount,
		Currency:     t.Currency,
		Direction:    t.Direction,
		Counterparty: t.Counterparty,
		Reference:    t.Reference,
		Source:       t.Source,
		Category:     t.Category,
		Description:  t.Description,
		CreatedAt:    t.CreatedAt,
	}
}

// alertResponse is the JSON response format for a fraud alert.
type alertResponse struct {
	ID           uuid.UUID  `json:"id"`
	Sender       string     `json:"sender"`
	Message      string     `json:"message"`
	Score        float64    `json:"score"`
	RiskLevel    string     `json:"risk_level"`
	MatchedRules []string   `json:"matched_rules"`
	Status       string     `json:"status"`
	UserAction   string     `json:"user_action,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
}

func alertToResponse(a *db.FraudAlert) alertResponse {
	return alertResponse{
		ID:           a.ID,
		Sender:       a.Sender,
		Message:      a.Message,
		Score:        a.Score,
		RiskLevel:    a.RiskLevel,
		MatchedRules: a.MatchedRules,
		Status:       a.Status,
		UserAction:   a.UserAction,
		CreatedAt:    a.CreatedAt,
		ReviewedAt:   a.ReviewedAt,
	}
}

// parsePage reads limit (default 50, max 1000) and offset (default 0).
func parsePage(r *http.Request) (int32, int32, error) {
	query := r.URL.Query()

	limit := int32(defaultPageLimit)
	if s := query.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, 0, badRequest("invalid limit parameter: must be an integer")
		}
		if n < 1 {
			return 0, 0, badRequest("limit must be at least 1")
		}
		if n > maxPageLimit {
			return 0, 0, badRequest("limit cannot exceed %d", maxPageLimit)
		}
		limit = int32(n)
	}

	offset := int32(0)
	if s := query.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, 0, badRequest("invalid offset parameter: must be an integer")
		}
		if n < 0 {
			return 0, 0, badRequest("offset cannot be negative")
		}
		offset = int32(n)
	}

	return limit, offset, nil
}

// writeServiceError maps err to a status code and writes it. The optional
// resource names what was not found.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, resource ...string) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		writeError(w, reqErr.msg, http.StatusBadRequest)
	case errors.Is(err, pipeline.ErrInvalidMessage):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, db.ErrNotFound), errors.Is(err, temporal.ErrWorkflowNotFound):
		what := "resource"
		if len(resource) > 0 {
			what = resource[0]
		}
		writeError(w, what+" not found", http.StatusNotFound)
	case errors.Is(err, db.ErrDuplicate):
		writeError(w, "already exists", http.StatusConflict)
	case errors.Is(err, db.ErrNotMember):
		writeError(w, "user is not a member of this chama", http.StatusForbidden)
	default:
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, map[string]string{"error": message}, statusCode)
}
