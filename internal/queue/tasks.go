package queue

import (
	"fmt"
	"time"

	"github.com/dunamismax/facewarp/internal/domain"
	"github.com/hibiken/asynq"
	jsoniter "github.com/json-iterator/go"
)

const TypeProcessBatch = "batch:process"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ProcessBatchPayload carries everything the worker needs, so a task can run
// even when the job store lost its record.
type ProcessBatchPayload struct {
	JobID       string           `json:"job_id"`
	Operation   domain.Operation `json:"operation"`
	Items       []domain.JobItem `json:"items"`
	WebhookURL  string           `json:"webhook_url,omitempty"`
	RequestedAt time.Time        `json:"requested_at"`
}

func NewProcessBatchTask(payload ProcessBatchPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal batch payload: %w", err)
	}
	return asynq.NewTask(TypeProcessBatch, body), nil
}

func ParseProcessBatchPayload(task *asynq.Task) (ProcessBatchPayload, error) {
	var payload ProcessBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessBatchPayload{}, fmt.Errorf("unmarshal batch payload: %w", err)
	}
	if payload.JobID == "" {
		return ProcessBatchPayload{}, fmt.Errorf("batch payload has no job_id")
	}
	return payload, nil
}

// BatchOutcome is what the worker writes as the task result.
type BatchOutcome struct {
	Status  string              `json:"status"`
	Outputs []domain.ItemOutput `json:"outputs,omitempty"`
	Error   string              `json:"error,omitempty"`
}

func (o BatchOutcome) Encode() ([]byte, error) {
	body, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("marshal batch outcome: %w", err)
	}
	return body, nil
}

func DecodeBatchOutcome(data []byte) (BatchOutcome, error) {
	var outcome BatchOutcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		return BatchOutcome{}, fmt.Errorf("unmarshal batch outcome: %w", err)
	}
	return outcome, nil
}
