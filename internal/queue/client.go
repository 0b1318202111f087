package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Retention keeps finished tasks, and the outcome the worker wrote, visible to
// the api for this long.
const Retention = 24 * time.Hour

type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
	maxRetry  int
}

// TaskStatus is the queue-side view of a job.
type TaskStatus struct {
	State   string
	LastErr string
	Outcome *BatchOutcome
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string, maxRetry int) *Client {
	if maxRetry < 0 {
		maxRetry = 0
	}
	return &Client{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		queue:     queueName,
		maxRetry:  maxRetry,
	}
}

func (c *Client) Queue() string {
	return c.queue
}

// EnqueueProcessBatch uses the job id as the task id, so enqueueing the same
// job twice is rejected by asynq.
func (c *Client) EnqueueProcessBatch(ctx context.Context, payload ProcessBatchPayload) (*asynq.TaskInfo, error) {
	task, err := NewProcessBatchTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(5*time.Minute),
		asynq.Retention(Retention),
	)
}

// TaskStatus looks up the task of a job. ok is false when the queue no longer
// knows the task.
func (c *Client) TaskStatus(_ context.Context, jobID string) (TaskStatus, bool, error) {
	info, err := c.inspector.GetTaskInfo(c.queue, jobID)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return TaskStatus{}, false, nil
	}
	if err != nil {
		return TaskStatus{}, false, fmt.Errorf("inspect task %s: %w", jobID, err)
	}

	status := TaskStatus{State: info.State.String(), LastErr: info.LastErr}
	if len(info.Result) > 0 {
		outcome, err := DecodeBatchOutcome(info.Result)
		if err != nil {
			return TaskStatus{}, false, err
		}
		status.Outcome = &outcome
	}
	return status, true, nil
}

func (c *Client) Close() error {
	var errs []error
	if err := c.client.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.inspector.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
