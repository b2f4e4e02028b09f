package temporal

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tajiricircle/tajiri/service/db"
	"github.com/tajiricircle/tajiri/service/logging"
	"github.com/tajiricircle/tajiri/service/pipeline"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// MockIngester is a testify mock of Ingester.
type MockIngester struct {
	mock.Mock
}

func (m *MockIngester) ProcessSMS(ctx context.Context, msg pipeline.Message) (*pipeline.Outcome, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.Outcome), args.Error(1)
}

func (m *MockIngester) RefreshTrustScore(ctx context.Context, phone string) (*pipeline.TrustScore, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.TrustScore), args.Error(1)
}

func isNonRetryable(t *testing.T, err error, errType string) {
	t.Helper()
	var appErr *temporalsdk.ApplicationError
	require.True(t, errors.As(err, &appErr), "expected application error, got %v", err)
	assert.True(t, appErr.NonRetryable())
	assert.Equal(t, errType, appErr.Type())
}

func TestIngestSMS(t *testing.T) {
	ctx := context.Background()
	msg := pipeline.Message{Phone: "0712345678", Text: "Confirmed. You have received Ksh100"}

	t.Run("success", func(t *testing.T) {
		ing := new(MockIngester)
		ing.On("ProcessSMS", mock.Anything, msg).Return(&pipeline.Outcome{Status: pipeline.StatusRecorded, Phone: "+254712345678"}, nil)
		activities := NewActivities(ing, nil, logging.Discard())

		out, err := activities.IngestSMS(ctx, ProcessSMSInput{Message: msg})
		require.NoError(t, err)
		assert.Equal(t, pipeline.StatusRecorded, out.Status)
		ing.AssertExpectations(t)
	})

	t.Run("invalid messages are not retried", func(t *testing.T) {
		ing := new(MockIngester)
		ing.On("ProcessSMS", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("%w: bad phone", pipeline.ErrInvalidMessage))
		activities := NewActivities(ing, nil, logging.Discard())

		_, err := activities.IngestSMS(ctx, ProcessSMSInput{Message: msg})
		isNonRetryable(t, err, ErrTypeInvalidMessage)
	})

	t.Run("transient errors stay retryable", func(t *testing.T) {
		ing := new(MockIngester)
		ing.On("ProcessSMS", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
		activities := NewActivities(ing, nil, logging.Discard())

		_, err := activities.IngestSMS(ctx, ProcessSMSInput{Message: msg})
		require.Error(t, err)
		var appErr *temporalsdk.ApplicationError
		assert.False(t, errors.As(err, &appErr))
	})
}

func TestRefreshTrustScoreActivity(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		ing := new(MockIngester)
		ing.On("RefreshTrustScore", mock.Anything, "+254712345678").Return(&pipeline.TrustScore{Phone: "+254712345678", Score: 640, Rating: "fair"}, nil)
		activities := NewActivities(ing, nil, logging.Discard())

		score, err := activities.RefreshTrustScore(ctx, RefreshTrustScoreInput{Phone: "+254712345678"})
		require.NoError(t, err)
		assert.Equal(t, 640, score.Score)
	})

	t.Run("unknown user", func(t *testing.T) {
		ing := new(MockIngester)
		ing.On("RefreshTrustScore", mock.Anything, mock.Anything).Return(nil, db.ErrNotFound)
		activities := NewActivities(ing, nil, logging.Discard())

		_, err := activities.RefreshTrustScore(ctx, RefreshTrustScoreInput{Phone: "+254712345678"})
		isNonRetryable(t, err, ErrTypeUnknownUser)
	})

	t.Run("invalid phone", func(t *testing.T) {
		ing := new(MockIngester)
		ing.On("RefreshTrustScore", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("%w: bad", pipeline.ErrInvalidMessage))
		activities := NewActivities(ing, nil, logging.Discard())

		_, err := activities.RefreshTrustScore(ctx, RefreshTrustScoreInput{Phone: "x"})
		isNonRetryable(t, err, ErrTypeInvalidMessage)
	})
}

func TestMockScheduler(t *testing.T) {
	ctx := context.Background()
	s := NewMockScheduler()

	require.NoError(t, s.UpsertTrustSchedule(ctx, "+254712345678", defaultTestInterval))
	require.NoError(t, s.UpsertTrustSchedule(ctx, "+254 712 345 678", 2*defaultTestInterval))
	assert.Equal(t, 1, s.ScheduleCount(), "phones sharing digits share a schedule")

	interval, ok := s.GetScheduleInterval("+254712345678")
	require.True(t, ok)
	assert.Equal(t, 2*defaultTestInterval, interval)

	require.NoError(t, s.DeleteTrustSchedule(ctx, "+254712345678"))
	assert.Error(t, s.DeleteTrustSchedule(ctx, "+254712345678"))

	s.SetCreateError(errors.New("boom"))
	assert.Error(t, s.UpsertTrustSchedule(ctx, "+254712345678", defaultTestInterval))
	s.Reset()
	assert.NoError(t, s.UpsertTrustSchedule(ctx, "+254712345678", defaultTestInterval))
}
