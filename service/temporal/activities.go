package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tajiricircle/tajiri/service/db"
	"github.com/tajiricircle/tajiri/service/metrics"
	"github.com/tajiricircle/tajiri/service/pipeline"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Non-retryable application error types.
const (
	ErrTypeInvalidMessage = "InvalidMessage"
	ErrTypeUnknownUser    = "UnknownUser"
)

// ProcessSMSInput is the input of ProcessSMSWorkflow and the IngestSMS activity.
type ProcessSMSInput struct {
	Message pipeline.Message `json:"message"`
}

// ProcessSMSResult is the result of ProcessSMSWorkflow.
type ProcessSMSResult struct {
	Outcome    *pipeline.Outcome    `json:"outcome"`
	TrustScore *pipeline.TrustScore `json:"trust_score,omitempty"`
	// TrustError is set when the follow-up refresh failed.
	TrustError *string `json:"trust_error,omitempty"`
}

// RefreshTrustScoreInput is the input of RefreshTrustScoreWorkflow.
type RefreshTrustScoreInput struct {
	Phone string `json:"phone"`
}

// Ingester is the part of the pipeline the activities drive.
type Ingester interface {
	ProcessSMS(ctx context.Context, msg pipeline.Message) (*pipeline.Outcome, error)
	RefreshTrustScore(ctx context.Context, phone string) (*pipeline.TrustScore, error)
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	pipeline Ingester
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(p Ingester, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		pipeline: p,
		metrics:  m,
		logger:   logger,
	}
}

// IngestSMS runs one message through the pipeline. Validation failures
// are not retried.
func (a *Activities) IngestSMS(ctx context.Context, input ProcessSMSInput) (_ *pipeline.Outcome, err error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("IngestSMS", time.Since(start).Seconds(), err)
	}()

	out, err := a.pipeline.ProcessSMS(ctx, input.Message)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidMessage) {
			return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidMessage, err)
		}
		a.logger.ErrorContext(ctx, "failed to ingest sms", "error", err)
		return nil, fmt.Errorf("failed to ingest sms: %w", err)
	}

	a.logger.InfoContext(ctx, "ingested sms",
		"phone", out.Phone,
		"status", out.Status,
		"risk_level", out.Assessment.RiskLevel,
	)
	return out, nil
}

// RefreshTrustScore recomputes and saves a user's trust score.
func (a *Activities) RefreshTrustScore(ctx context.Context, input RefreshTrustScoreInput) (_ *pipeline.TrustScore, err error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration("RefreshTrustScore", time.Since(start).Seconds(), err)
	}()

	score, err := a.pipeline.RefreshTrustScore(ctx, input.Phone)
	switch {
	case errors.Is(err, pipeline.ErrInvalidMessage):
		return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidMessage, err)
	case errors.Is(err, db.ErrNotFound):
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("no user with phone %s", input.Phone), ErrTypeUnknownUser, err)
	case err != nil:
		return nil, fmt.Errorf("failed to refresh trust score: %w", err)
	}

	a.logger.InfoContext(ctx, "refreshed trust score",
		"phone", score.Phone,
		"score", score.Score,
		"rating", score.Rating,
	)
	return score, nil
}
