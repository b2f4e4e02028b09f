// Package client is a typed HTTP client for the tajiri API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Client is the HTTP client for the tajiri service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new tajiri service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// APIError is a non-success answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// SMS is a message to ingest.
type SMS struct {
	Phone      string     `json:"phone"`
	Name       string     `json:"name,omitempty"`
	Sender     string     `json:"sender,omitempty"`
	Text       string     `json:"text"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
}

// ParsedSMS is the structured form of a message.
type ParsedSMS struct {
	Amount       *decimal.Decimal `json:"amount"`
	Currency     string           `json:"currency"`
	Direction    string           `json:"direction"`
	Counterparty *string          `json:"counterparty"`
	Reference    *string          `json:"reference"`
	Description  string           `json:"description"`
	Category     string           `json:"category"`
	Source       string           `json:"source"`
}

// Assessment is the fraud score of a message.
type Assessment struct {
	Score           float64  `json:"score"`
	RawScore        float64  `json:"raw_score"`
	RiskLevel       string   `json:"risk_level"`
	MatchedRules    []string `json:"matched_rules"`
	Flagged         bool     `json:"flagged"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Analysis is a parse result with its assessment.
type Analysis struct {
	Parsed     ParsedSMS  `json:"parsed"`
	Assessment Assessment `json:"assessment"`
}

// Outcome reports what ingesting a message did. Status is one of
// recorded, blocked, not_transaction or duplicate.
type Outcome struct {
	Status        string           `json:"status"`
	Phone         string           `json:"phone"`
	UserID        string           `json:"user_id,omitempty"`
	Parsed        ParsedSMS        `json:"parsed"`
	Assessment    Assessment       `json:"assessment"`
	TransactionID *string          `json:"transaction_id,omitempty"`
	AlertID       *string          `json:"alert_id,omitempty"`
	SuggestedSave *decimal.Decimal `json:"suggested_save,omitempty"`
}

// Transaction is a ledger entry.
type Transaction struct {
	ID           string          `json:"id"`
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

// TransactionPage is one page of a user's ledger.
type TransactionPage struct {
	Phone        string         `json:"phone"`
	Transactions []*Transaction `json:"transactions"`
	Count        int            `json:"count"`
	Total        int64          `json:"total"`
	Limit        int            `json:"limit"`
	Offset       int            `json:"offset"`
}

// Alert is a stored fraud alert.
type Alert struct {
	ID           string     `json:"id"`
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

// Component is one weighted part of a trust score.
type Component struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
	Weight      float64 `json:"weight"`
	Weighted    float64 `json:"weighted"`
}

// TrustScore is a 300-850 score with its breakdown.
type TrustScore struct {
	Phone      string      `json:"phone"`
	Score      int         `json:"score"`
	Rating     string      `json:"rating"`
	Components []Component `json:"components"`
	ComputedAt time.Time   `json:"computed_at"`
}

// Goal is a savings goal.
type Goal struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	TargetAmount  decimal.Decimal `json:"target_amount"`
	CurrentAmount decimal.Decimal `json:"current_amount"`
	Progress      float64         `json:"progress"`
	Achieved      bool            `json:"achieved"`
	Deadline      *time.Time      `json:"deadline,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ContributeResult is a goal after a contribution.
type ContributeResult struct {
	Goal         Goal            `json:"goal"`
	Amount       decimal.Decimal `json:"amount"`
	JustAchieved bool            `json:"just_achieved"`
}

// FraudReport is a scam reported by a user.
type FraudReport struct {
	ID             string    `json:"id"`
	ReportType     string    `json:"report_type"`
	Details        string    `json:"details"`
	ReportedNumber *string   `json:"reported_number,omitempty"`
	ReportedURL    *string   `json:"reported_url,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// FraudReportRequest is the body of ReportFraud. ReportType is one of
// sms, call, email, website or other.
type FraudReportRequest struct {
	Phone          string `json:"phone"`
	ReportType     string `json:"report_type"`
	Details        string `json:"details"`
	ReportedNumber string `json:"reported_number,omitempty"`
	ReportedURL    string `json:"reported_url,omitempty"`
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, http.StatusOK)
}

// ParseSMS parses and scores text without storing anything.
func (c *Client) ParseSMS(ctx context.Context, text, sender string) (*Analysis, error) {
	var out Analysis
	body := map[string]string{"text": text, "sender": sender}
	if err := c.do(ctx, http.MethodPost, "/api/v1/sms/parse", body, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeFraud returns the fraud assessment of text.
func (c *Client) AnalyzeFraud(ctx context.Context, text, sender string) (*Assessment, error) {
	var out Assessment
	body := map[string]string{"text": text, "sender": sender}
	if err := c.do(ctx, http.MethodPost, "/api/v1/fraud/analyze", body, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// IngestSMS ingests a message synchronously. Messages without an amount
// are not an error: the outcome carries status not_transaction.
func (c *Client) IngestSMS(ctx context.Context, msg SMS) (*Outcome, error) {
	var out struct {
		Outcome
		Error string `json:"error"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/sms", msg, &out, http.StatusCreated, http.StatusOK, http.StatusBadRequest)
	if err != nil {
		return nil, err
	}
	if out.Status == "" {
		return nil, &APIError{StatusCode: http.StatusBadRequest, Message: out.Error}
	}

	c.logger.Debug("sms ingested", "phone", out.Phone, "status", out.Status)
	return &out.Outcome, nil
}

// ListTransactions returns one page of a user's ledger. A zero limit uses
// the server default.
func (c *Client) ListTransactions(ctx context.Context, phone string, limit, offset int) (*TransactionPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	path := "/api/v1/users/" + url.PathEscape(phone) + "/transactions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out TransactionPage
	if err := c.do(ctx, http.MethodGet, path, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAlerts returns a user's fraud alerts, optionally only those created
// after since.
func (c *Client) ListAlerts(ctx context.Context, phone string, since *time.Time) ([]*Alert, error) {
	path := "/api/v1/users/" + url.PathEscape(phone) + "/alerts"
	if since != nil {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}

	var out struct {
		Alerts []*Alert `json:"alerts"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Alerts, nil
}

// TrustScore computes and returns a user's current trust score.
func (c *Client) TrustScore(ctx context.Context, phone string) (*TrustScore, error) {
	var out TrustScore
	path := "/api/v1/users/" + url.PathEscape(phone) + "/trust-score"
	if err := c.do(ctx, http.MethodGet, path, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Contribute adds amount to a savings goal. An empty goalID uses the
// user's oldest goal.
func (c *Client) Contribute(ctx context.Context, phone string, amount decimal.Decimal, goalID string) (*ContributeResult, error) {
	body := map[string]interface{}{
		"phone":  phone,
		"amount": amount,
	}
	if goalID != "" {
		body["goal_id"] = goalID
	}

	var out ContributeResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/savings/contribute", body, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReportFraud submits a user report of a scam.
func (c *Client) ReportFraud(ctx context.Context, req FraudReportRequest) (*FraudReport, error) {
	var out FraudReport
	if err := c.do(ctx, http.MethodPost, "/api/v1/fraud/reports", req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends body as JSON and decodes the answer into out when its status
// is one of expected.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, expected ...int) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	ok := false
	for _, code := range expected {
		ok = ok || resp.StatusCode == code
	}
	if !ok {
		return c.parseErrorResponse(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
