package temporal

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tajiricircle/tajiri/service/pipeline"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

const defaultTestInterval = 24 * time.Hour

func TestProcessSMSWorkflow(t *testing.T) {
	input := ProcessSMSInput{Message: pipeline.Message{Phone: "0712345678", Text: "Confirmed. You have received Ksh100"}}
	trustScore := &pipeline.TrustScore{Phone: "+254712345678", Score: 612, Rating: "fair"}

	tests := []struct {
		name           string
		outcome        *pipeline.Outcome
		ingestErr      error
		trustErr       error
		expectRefresh  bool
		expectedError  bool
		validateResult func(*testing.T, *ProcessSMSResult)
	}{
		{
			name:          "recorded message refreshes trust",
			outcome:       &pipeline.Outcome{Status: pipeline.StatusRecorded, Phone: "+254712345678"},
			expectRefresh: true,
			validateResult: func(t *testing.T, r *ProcessSMSResult) {
				assert.Equal(t, pipeline.StatusRecorded, r.Outcome.Status)
				require.NotNil(t, r.TrustScore)
				assert.Equal(t, 612, r.TrustScore.Score)
				assert.Nil(t, r.TrustError)
			},
		},
		{
			name:          "blocked message refreshes trust",
			outcome:       &pipeline.Outcome{Status: pipeline.StatusBlocked, Phone: "+254712345678"},
			expectRefresh: true,
			validateResult: func(t *testing.T, r *ProcessSMSResult) {
				assert.Equal(t, pipeline.StatusBlocked, r.Outcome.Status)
				assert.NotNil(t, r.TrustScore)
			},
		},
		{
			name:    "non-transaction skips refresh",
			outcome: &pipeline.Outcome{Status: pipeline.StatusNotTransaction, Phone: "+254712345678"},
			validateResult: func(t *testing.T, r *ProcessSMSResult) {
				assert.Nil(t, r.TrustScore)
			},
		},
		{
			name:    "duplicate skips refresh",
			outcome: &pipeline.Outcome{Status: pipeline.StatusDuplicate, Phone: "+254712345678"},
			validateResult: func(t *testing.T, r *ProcessSMSResult) {
				assert.Nil(t, r.TrustScore)
			},
		},
		{
			name:          "trust failure is reported, not fatal",
			outcome:       &pipeline.Outcome{Status: pipeline.StatusRecorded, Phone: "+254712345678"},
			trustErr:      temporalsdk.NewNonRetryableApplicationError("no user", ErrTypeUnknownUser, nil),
			expectRefresh: true,
			validateResult: func(t *testing.T, r *ProcessSMSResult) {
				assert.Nil(t, r.TrustScore)
				require.NotNil(t, r.TrustError)
				assert.Contains(t, *r.TrustError, "no user")
			},
		},
		{
			name:          "ingest failure fails the workflow",
			ingestErr:     temporalsdk.NewNonRetryableApplicationError("invalid message", ErrTypeInvalidMessage, nil),
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestWorkflowEnvironment()

			activities := &Activities{}
			env.RegisterActivity(activities.IngestSMS)
			env.RegisterActivity(activities.RefreshTrustScore)

			env.OnActivity(activities.IngestSMS, mock.Anything, mock.Anything).Return(tt.outcome, tt.ingestErr)

			refreshCalls := 0
			if tt.trustErr != nil {
				env.OnActivity(activities.RefreshTrustScore, mock.Anything, mock.Anything).
					Run(func(args mock.Arguments) { refreshCalls++ }).
					Return(nil, tt.trustErr)
			} else {
				env.OnActivity(activities.RefreshTrustScore, mock.Anything, mock.Anything).
					Run(func(args mock.Arguments) { refreshCalls++ }).
					Return(trustScore, nil)
			}

			env.ExecuteWorkflow(ProcessSMSWorkflow, input)
			require.True(t, env.IsWorkflowCompleted())

			if tt.expectedError {
				assert.Error(t, env.GetWorkflowError())
				assert.Equal(t, 0, refreshCalls)
				return
			}

			require.NoError(t, env.GetWorkflowError())
			var result ProcessSMSResult
			require.NoError(t, env.GetWorkflowResult(&result))
			tt.validateResult(t, &result)

			if tt.expectRefresh {
				assert.Equal(t, 1, refreshCalls)
			} else {
				assert.Equal(t, 0, refreshCalls)
			}
		})
	}
}

func TestProcessSMSWorkflow_ActivityRetries(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.IngestSMS)
	env.RegisterActivity(activities.RefreshTrustScore)

	callCount := 0
	env.OnActivity(activities.IngestSMS, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		callCount++
		if callCount < 3 {
			panic("transient error") // Temporal retries on panics
		}
	}).Return(&pipeline.Outcome{Status: pipeline.StatusNotTransaction, Phone: "+254712345678"}, nil)

	env.ExecuteWorkflow(ProcessSMSWorkflow, ProcessSMSInput{Message: pipeline.Message{Phone: "0712345678", Text: "hi"}})

	assert.NoError(t, env.GetWorkflowError())
	assert.Equal(t, 3, callCount)
}

func TestRefreshTrustScoreWorkflow(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		activities := &Activities{}
		env.RegisterActivity(activities.RefreshTrustScore)
		env.OnActivity(activities.RefreshTrustScore, mock.Anything, RefreshTrustScoreInput{Phone: "+254712345678"}).
			Return(&pipeline.TrustScore{Phone: "+254712345678", Score: 700, Rating: "good"}, nil)

		env.ExecuteWorkflow(RefreshTrustScoreWorkflow, RefreshTrustScoreInput{Phone: "+254712345678"})
		require.NoError(t, env.GetWorkflowError())

		var score pipeline.TrustScore
		require.NoError(t, env.GetWorkflowResult(&score))
		assert.Equal(t, 700, score.Score)
		assert.Equal(t, "good", score.Rating)
	})

	t.Run("failure", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()

		activities := &Activities{}
		env.RegisterActivity(activities.RefreshTrustScore)
		env.OnActivity(activities.RefreshTrustScore, mock.Anything, mock.Anything).
			Return(nil, temporalsdk.NewNonRetryableApplicationError("no user", ErrTypeUnknownUser, errors.New("not found")))

		env.ExecuteWorkflow(RefreshTrustScoreWorkflow, RefreshTrustScoreInput{Phone: "+254712345678"})
		assert.Error(t, env.GetWorkflowError())
	})
}

func TestTrustScheduleID(t *testing.T) {
	assert.Equal(t, "trust-refresh-254712345678", TrustScheduleID("+254712345678"))
}
