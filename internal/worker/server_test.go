package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/facewarp/internal/codec"
	"github.com/dunamismax/facewarp/internal/domain"
	"github.com/dunamismax/facewarp/internal/logging"
	"github.com/dunamismax/facewarp/internal/pipeline"
	"github.com/dunamismax/facewarp/internal/queue"
	"github.com/dunamismax/facewarp/internal/store"
	"github.com/dunamismax/facewarp/internal/webhook"
	"github.com/hibiken/asynq"
)

type memoryStages struct {
	mu       sync.Mutex
	inputs   map[string][]byte
	outputs  map[string][]byte
	fetchErr error
}

func (m *memoryStages) Fetch(_ context.Context, item domain.JobItem) ([]byte, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	data, ok := m.inputs[item.ObjectKey]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (m *memoryStages) Emit(_ context.Context, jobID string, res pipeline.ItemResult) (domain.ItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := "outputs/" + jobID + "/" + res.Name
	m.outputs[key] = res.Data
	return domain.ItemOutput{
		Name:      res.Name,
		Status:    domain.ItemStatusOK,
		ObjectKey: key,
		Format:    res.Format,
		Width:     res.Width,
		Height:    res.Height,
		Bytes:     int64(len(res.Data)),
	}, nil
}

type captureWebhook struct {
	mu     sync.Mutex
	events []string
	bodies []map[string]any
	err    error
}

func (c *captureWebhook) Send(_ context.Context, _ string, event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	c.bodies = append(c.bodies, payload.(map[string]any))
	return c.err
}

const testJobID = "01JAXQ3S6Y3N2W2GQ8Z5V5K0ZB"

func newTestHandler(t *testing.T, stages *memoryStages, hooks *captureWebhook, jobs *store.MemoryJobStore) *Server {
	t.Helper()

	logger := logging.Discard()
	processor, err := pipeline.NewProcessor(pipeline.Options{
		Concurrency: 2,
		Codec:       codec.New(0, 0),
		Transformer: pipeline.NewEngine(pipeline.EngineConfig{Logger: logger}),
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	s, err := newHandler(Options{
		Logger:   logger,
		Runner:   processor,
		Fetcher:  stages,
		Emitter:  stages,
		Webhooks: hooks,
		Jobs:     jobs,
	}, 1)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return s
}

func seedJob(t *testing.T, jobs *store.MemoryJobStore, payload queue.ProcessBatchPayload) {
	t.Helper()

	now := time.Now().UTC()
	if err := jobs.Create(context.Background(), domain.Job{
		ID:         payload.JobID,
		Status:     domain.JobStatusQueued,
		Operation:  payload.Operation,
		WebhookURL: payload.WebhookURL,
		Items:      payload.Items,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

func batchTask(t *testing.T, payload queue.ProcessBatchPayload) *asynq.Task {
	t.Helper()

	task, err := queue.NewProcessBatchTask(payload)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return task
}

func buildPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(40 * x), G: 90, B: uint8(40 * y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func invertPayload() queue.ProcessBatchPayload {
	return queue.ProcessBatchPayload{
		JobID:     testJobID,
		Operation: domain.Operation{Kind: domain.OpInvert},
		Items: []domain.JobItem{
			{Name: "a.png", ObjectKey: "uploads/a.png"},
			{Name: "b.png", ObjectKey: "uploads/b.png"},
		},
		WebhookURL:  "https://hooks.test/done",
		RequestedAt: time.Now().UTC(),
	}
}

func TestHandleProcessBatchCompletesJob(t *testing.T) {
	stages := &memoryStages{
		inputs: map[string][]byte{
			"uploads/a.png": buildPNG(t, 3, 2),
			"uploads/b.png": []byte("not an image"),
		},
		outputs: map[string][]byte{},
	}
	hooks := &captureWebhook{}
	jobs := store.NewMemoryJobStore()
	payload := invertPayload()
	seedJob(t, jobs, payload)

	s := newTestHandler(t, stages, hooks, jobs)
	if err := s.handleProcessBatch(context.Background(), batchTask(t, payload)); err != nil {
		t.Fatalf("handle task: %v", err)
	}

	job, ok, err := jobs.Get(context.Background(), testJobID)
	if err != nil || !ok {
		t.Fatalf("load job: ok=%v err=%v", ok, err)
	}
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", job.Status)
	}
	if len(job.Outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(job.Outputs))
	}
	if job.Outputs[0].Status != domain.ItemStatusOK || job.Outputs[0].Width != 3 || job.Outputs[0].Height != 2 {
		t.Fatalf("unexpected first output %+v", job.Outputs[0])
	}
	if job.Outputs[1].Status != domain.ItemStatusError || job.Outputs[1].ErrorKind != pipeline.KindDecode {
		t.Fatalf("expected decode_error on second output, got %+v", job.Outputs[1])
	}
	if _, ok := stages.outputs["outputs/"+testJobID+"/a.png"]; !ok {
		t.Fatal("expected first output to be emitted")
	}

	usage := jobs.Usage()
	if len(usage) != 1 {
		t.Fatalf("expected one usage log, got %d", len(usage))
	}
	if usage[0].ItemsTotal != 2 || usage[0].ItemsFailed != 1 || usage[0].PixelsProcessed != 6 {
		t.Fatalf("unexpected usage log %+v", usage[0])
	}
	if usage[0].ComputeTimeMS < 1 {
		t.Fatalf("expected compute time of at least 1ms, got %d", usage[0].ComputeTimeMS)
	}

	if len(hooks.events) != 1 || hooks.events[0] != webhook.EventJobCompleted {
		t.Fatalf("expected one completed webhook, got %v", hooks.events)
	}
	if hooks.bodies[0]["job_id"] != testJobID {
		t.Fatalf("expected webhook job_id %s, got %v", testJobID, hooks.bodies[0]["job_id"])
	}
}

func TestHandleProcessBatchFetchFailureFailsJob(t *testing.T) {
	stages := &memoryStages{fetchErr: errors.New("bucket unreachable"), outputs: map[string][]byte{}}
	hooks := &captureWebhook{}
	jobs := store.NewMemoryJobStore()
	payload := invertPayload()
	seedJob(t, jobs, payload)

	s := newTestHandler(t, stages, hooks, jobs)
	err := s.handleProcessBatch(context.Background(), batchTask(t, payload))
	if err == nil {
		t.Fatal("expected fetch failure to fail the task")
	}

	job, _, _ := jobs.Get(context.Background(), testJobID)
	if job.Status != domain.JobStatusFailed || job.Error == "" {
		t.Fatalf("expected failed job with error, got status=%s error=%q", job.Status, job.Error)
	}
	if len(hooks.events) != 1 || hooks.events[0] != webhook.EventJobFailed {
		t.Fatalf("expected one failed webhook, got %v", hooks.events)
	}
	if len(jobs.Usage()) != 0 {
		t.Fatal("expected no usage for a failed job")
	}
}

func TestHandleProcessBatchWebhookFailureDoesNotFailTask(t *testing.T) {
	stages := &memoryStages{
		inputs: map[string][]byte{
			"uploads/a.png": buildPNG(t, 2, 2),
			"uploads/b.png": buildPNG(t, 2, 2),
		},
		outputs: map[string][]byte{},
	}
	hooks := &captureWebhook{err: errors.New("receiver down")}
	jobs := store.NewMemoryJobStore()
	payload := invertPayload()
	seedJob(t, jobs, payload)

	s := newTestHandler(t, stages, hooks, jobs)
	if err := s.handleProcessBatch(context.Background(), batchTask(t, payload)); err != nil {
		t.Fatalf("expected task to succeed, got %v", err)
	}
	job, _, _ := jobs.Get(context.Background(), testJobID)
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", job.Status)
	}
}

func TestHandleProcessBatchSkipsRetryOnBadPayload(t *testing.T) {
	s := newTestHandler(t, &memoryStages{outputs: map[string][]byte{}}, &captureWebhook{}, store.NewMemoryJobStore())

	err := s.handleProcessBatch(context.Background(), asynq.NewTask(queue.TypeProcessBatch, []byte(`{"operation":{}}`)))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestNewHandlerRequiresStages(t *testing.T) {
	if _, err := newHandler(Options{}, 1); err == nil {
		t.Fatal("expected error without a runner")
	}
	processor, err := pipeline.NewProcessor(pipeline.Options{Transformer: pipeline.NewEngine(pipeline.EngineConfig{})})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	if _, err := newHandler(Options{Runner: processor}, 1); err == nil {
		t.Fatal("expected error without stages")
	}
}

func TestFinalAttemptOutsideAsynq(t *testing.T) {
	if !finalAttempt(context.Background()) {
		t.Fatal("expected a plain context to be the final attempt")
	}
}
