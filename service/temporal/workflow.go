package temporal

import (
	"fmt"
	"time"

	"github.com/tajiricircle/tajiri/service/pipeline"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

func activityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 60 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeInvalidMessage, ErrTypeUnknownUser},
		},
	}
}

// ProcessSMSWorkflow ingests a message and refreshes the owner's trust
// score when the message changed their history.
//
// 1. IngestSMS parses, scores and records the message
// 2. RefreshTrustScore runs for recorded and blocked outcomes
//
// A failed refresh is reported in the result, not as a workflow failure.
func ProcessSMSWorkflow(ctx workflow.Context, input ProcessSMSInput) (*ProcessSMSResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ProcessSMSWorkflow started", "phone", input.Message.Phone)

	ctx = workflow.WithActivityOptions(ctx, activityOptions())

	var outcome *pipeline.Outcome
	if err := workflow.ExecuteActivity(ctx, a.IngestSMS, input).Get(ctx, &outcome); err != nil {
		logger.Error("failed to ingest sms", "error", err)
		return nil, fmt.Errorf("failed to ingest sms: %w", err)
	}

	result := &ProcessSMSResult{Outcome: outcome}

	if outcome.Status != pipeline.StatusRecorded && outcome.Status != pipeline.StatusBlocked {
		logger.Info("ProcessSMSWorkflow completed", "status", outcome.Status)
		return result, nil
	}

	var score *pipeline.TrustScore
	err := workflow.ExecuteActivity(ctx, a.RefreshTrustScore, RefreshTrustScoreInput{Phone: outcome.Phone}).Get(ctx, &score)
	if err != nil {
		logger.Warn("failed to refresh trust score", "phone", outcome.Phone, "error", err)
		msg := err.Error()
		result.TrustError = &msg
		return result, nil
	}
	result.TrustScore = score

	logger.Info("ProcessSMSWorkflow completed",
		"status", outcome.Status,
		"trust_score", score.Score,
	)
	return result, nil
}

// RefreshTrustScoreWorkflow is triggered by per-user schedules.
func RefreshTrustScoreWorkflow(ctx workflow.Context, input RefreshTrustScoreInput) (*pipeline.TrustScore, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("RefreshTrustScoreWorkflow started", "phone", input.Phone)

	ctx = workflow.WithActivityOptions(ctx, activityOptions())

	var score *pipeline.TrustScore
	if err := workflow.ExecuteActivity(ctx, a.RefreshTrustScore, input).Get(ctx, &score); err != nil {
		return nil, fmt.Errorf("failed to refresh trust score: %w", err)
	}
	return score, nil
}
