package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// ErrWorkflowNotFound is returned for unknown workflow IDs.
var ErrWorkflowNotFound = errors.New("workflow not found")

// WorkflowStatus describes a ProcessSMSWorkflow run.
type WorkflowStatus struct {
	WorkflowID string            `json:"workflow_id"`
	Status     string            `json:"status"`
	Result     *ProcessSMSResult `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// StartProcessSMS starts ProcessSMSWorkflow and returns its workflow ID.
func (c *Client) StartProcessSMS(ctx context.Context, input ProcessSMSInput) (string, error) {
	opts := client.StartWorkflowOptions{
		ID:                       "process-sms-" + uuid.NewString(),
		TaskQueue:                c.taskQueue,
		WorkflowExecutionTimeout: 10 * time.Minute,
	}

	run, err := c.client.ExecuteWorkflow(ctx, opts, ProcessSMSWorkflow, input)
	if err != nil {
		return "", fmt.Errorf("failed to start workflow: %w", err)
	}

	c.logger.Debug("started ProcessSMSWorkflow",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return run.GetID(), nil
}

// GetProcessSMSResult reports the state of a workflow and its result once
// it has completed.
func (c *Client) GetProcessSMSResult(ctx context.Context, workflowID string) (*WorkflowStatus, error) {
	desc, err := c.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("failed to describe workflow: %w", err)
	}

	status := &WorkflowStatus{
		WorkflowID: workflowID,
		Status:     statusName(desc.GetWorkflowExecutionInfo().GetStatus()),
	}

	switch desc.GetWorkflowExecutionInfo().GetStatus() {
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		var result ProcessSMSResult
		if err := c.client.GetWorkflow(ctx, workflowID, "").Get(ctx, &result); err != nil {
			return nil, fmt.Errorf("failed to get workflow result: %w", err)
		}
		status.Result = &result
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT,
		enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED,
		enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		if err := c.client.GetWorkflow(ctx, workflowID, "").Get(ctx, nil); err != nil {
			status.Error = err.Error()
		}
	}
	return status, nil
}

func statusName(s enumspb.WorkflowExecutionStatus) string {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:
		return "running"
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return "completed"
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED:
		return "failed"
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return "canceled"
	case enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return "terminated"
	case enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return "timed_out"
	case enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return "continued_as_new"
	default:
		return "unknown"
	}
}

// UpsertTrustSchedule creates or updates the refresh schedule for phone.
// If the schedule already exists, only its interval changes.
func (c *Client) UpsertTrustSchedule(ctx context.Context, phone string, interval time.Duration) error {
	id := TrustScheduleID(phone)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", id,
			"error", err,
		)
		return c.createTrustSchedule(ctx, id, phone, interval)
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule",
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.Info("trust schedule updated",
		"phone", phone,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

func (c *Client) createTrustSchedule(ctx context.Context, id, phone string, interval time.Duration) error {
	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: id,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        "refresh-trust-" + phone,
			Workflow:  RefreshTrustScoreWorkflow,
			TaskQueue: c.taskQueue,
			Args:      []interface{}{RefreshTrustScoreInput{Phone: phone}},
		},
		Memo: map[string]interface{}{
			"phone":      phone,
			"created_by": "tajiri",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", id, err)
	}

	c.logger.Info("trust schedule created",
		"phone", phone,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// DeleteTrustSchedule deletes the refresh schedule for phone.
func (c *Client) DeleteTrustSchedule(ctx context.Context, phone string) error {
	id := TrustScheduleID(phone)

	if err := c.client.ScheduleClient().GetHandle(ctx, id).Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.Info("trust schedule deleted", "phone", phone, "schedule_id", id)
	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
