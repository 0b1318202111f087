package queue

import (
	"testing"
	"time"

	"github.com/dunamismax/facewarp/internal/domain"
	"github.com/hibiken/asynq"
)

func TestProcessBatchTaskCarriesOperation(t *testing.T) {
	threshold := uint8(12)
	payload := ProcessBatchPayload{
		JobID: "01JAXQ3S6Y3N2W2GQ8Z5V5K0ZB",
		Operation: domain.Operation{
			Kind:      domain.OpTrim,
			Threshold: &threshold,
		},
		Items: []domain.JobItem{
			{Name: "a.png", ObjectKey: "uploads/01JAXQ3S6Y3N2W2GQ8Z5V5K0ZB/0-a.png"},
		},
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewProcessBatchTask(payload)
	if err != nil {
		t.Fatalf("NewProcessBatchTask returned error: %v", err)
	}
	if task.Type() != TypeProcessBatch {
		t.Fatalf("expected task type %q, got %q", TypeProcessBatch, task.Type())
	}

	parsed, err := ParseProcessBatchPayload(task)
	if err != nil {
		t.Fatalf("ParseProcessBatchPayload returned error: %v", err)
	}
	if parsed.JobID != payload.JobID {
		t.Fatalf("expected job_id %q, got %q", payload.JobID, parsed.JobID)
	}
	if parsed.Operation.Threshold == nil || *parsed.Operation.Threshold != 12 {
		t.Fatalf("expected threshold 12, got %v", parsed.Operation.Threshold)
	}
	if len(parsed.Items) != 1 || parsed.Items[0].ObjectKey != payload.Items[0].ObjectKey {
		t.Fatalf("unexpected items %+v", parsed.Items)
	}
}

func TestParseProcessBatchPayloadRejectsGarbage(t *testing.T) {
	if _, err := ParseProcessBatchPayload(asynq.NewTask(TypeProcessBatch, []byte("{"))); err == nil {
		t.Fatal("expected error for malformed payload")
	}
	if _, err := ParseProcessBatchPayload(asynq.NewTask(TypeProcessBatch, []byte("{}"))); err == nil {
		t.Fatal("expected error for payload without job id")
	}
}

func TestBatchOutcomeRoundTrip(t *testing.T) {
	outcome := BatchOutcome{
		Status: domain.JobStatusSucceeded,
		Outputs: []domain.ItemOutput{
			{Name: "a.png", Status: domain.ItemStatusOK, ObjectKey: "outputs/job/a.png"},
			{Name: "b.png", Status: domain.ItemStatusError, ErrorKind: "all_black_image"},
		},
	}

	body, err := outcome.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodeBatchOutcome(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.Status != outcome.Status || len(back.Outputs) != 2 || back.Outputs[1].ErrorKind != "all_black_image" {
		t.Fatalf("unexpected outcome %+v", back)
	}
}
