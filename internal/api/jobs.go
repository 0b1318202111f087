package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/facewarp/internal/domain"
	"github.com/dunamismax/facewarp/internal/id"
	"github.com/dunamismax/facewarp/internal/logging"
	"github.com/dunamismax/facewarp/internal/queue"
	"github.com/dunamismax/facewarp/internal/storage"
	"github.com/dunamismax/facewarp/internal/store"
	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
)

type outputResponse struct {
	domain.ItemOutput
	URL string `json:"url,omitempty"`
}

type jobResponse struct {
	JobID     string           `json:"job_id"`
	Status    string           `json:"status"`
	Operation domain.Operation `json:"operation"`
	Items     []domain.JobItem `json:"items"`
	Outputs   []outputResponse `json:"outputs,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (s *Server) jobsEnabled() bool {
	return s.queueClient != nil && s.jobStore != nil && s.storage != nil
}

// handleCreateJob stores the uploads, records the job and enqueues it. The
// operation and its parameters arrive as form fields next to the files.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if !s.jobsEnabled() {
		writeError(w, http.StatusServiceUnavailable, "job processing is not configured")
		return
	}
	log := logging.FromContext(r.Context(), s.logger)

	form, err := s.readMultipart(w, r)
	if err != nil {
		s.writeFormError(w, log, err)
		return
	}
	get := form.value(r)
	op, err := domain.ParseOperation(domain.OperationKind(get("operation")), get)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID := id.New()
	req := domain.CreateJobRequest{
		Operation:  op,
		WebhookURL: strings.TrimSpace(get("webhook_url")),
		Items:      make([]domain.JobItem, len(form.items)),
	}
	for i, item := range form.items {
		req.Items[i] = domain.JobItem{
			Name:        item.Name,
			ObjectKey:   storage.UploadKey(jobID, i, item.Name),
			ContentType: mimetype.Detect(item.Data).String(),
			Size:        int64(len(item.Data)),
		}
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log = log.WithFields(logrus.Fields{"job_id": jobID, "operation": op.Kind})
	for i, item := range form.items {
		if err := s.storage.WriteObject(r.Context(), req.Items[i].ObjectKey, item.Data, req.Items[i].ContentType); err != nil {
			log.WithError(err).Error("upload failed")
			writeError(w, http.StatusInternalServerError, "failed to store upload")
			return
		}
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:         jobID,
		Status:     domain.JobStatusCreated,
		Operation:  op,
		WebhookURL: req.WebhookURL,
		Items:      req.Items,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.jobStore.Create(r.Context(), job); err != nil {
		log.WithError(err).Error("create job failed")
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	taskInfo, err := s.queueClient.EnqueueProcessBatch(r.Context(), queue.ProcessBatchPayload{
		JobID:       job.ID,
		Operation:   job.Operation,
		Items:       job.Items,
		WebhookURL:  job.WebhookURL,
		RequestedAt: now,
	})
	if err != nil {
		log.WithError(err).Error("enqueue failed")
		if _, cerr := s.jobStore.Complete(context.WithoutCancel(r.Context()), job.ID, domain.JobStatusFailed, nil, "failed to enqueue job"); cerr != nil {
			log.WithError(cerr).Warn("mark job failed")
		}
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		log.WithError(err).Warn("update status failed")
	}
	log.WithField("items", len(job.Items)).Info("job queued")

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": domain.JobStatusQueued,
		"items":  job.Items,
		"queue":  taskInfo.Queue,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.jobStore == nil {
		writeError(w, http.StatusServiceUnavailable, "job processing is not configured")
		return
	}
	log := logging.FromContext(r.Context(), s.logger)

	jobID := r.PathValue("id")
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		log.WithError(err).WithField("job_id", jobID).Error("fetch job failed")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, store.ErrJobNotFound.Error())
		return
	}
	job = s.reconcileWithQueue(r.Context(), log, job)

	resp := jobResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Operation: job.Operation,
		Items:     job.Items,
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	for _, output := range job.Outputs {
		out := outputResponse{ItemOutput: output}
		if output.ObjectKey != "" && s.storage != nil {
			url, err := s.storage.PresignedGetURL(r.Context(), output.ObjectKey, s.presignTTL)
			if err != nil {
				log.WithError(err).WithField("object_key", output.ObjectKey).Warn("presign output failed")
			} else {
				out.URL = url
			}
		}
		resp.Outputs = append(resp.Outputs, out)
	}
	writeJSON(w, http.StatusOK, resp)
}

// reconcileWithQueue fills in a job the local store has not seen finish, from
// the outcome the worker left on its task.
func (s *Server) reconcileWithQueue(ctx context.Context, log *logrus.Entry, job domain.Job) domain.Job {
	if job.Terminal() || s.queueClient == nil {
		return job
	}
	status, ok, err := s.queueClient.TaskStatus(ctx, job.ID)
	if err != nil {
		log.WithError(err).WithField("job_id", job.ID).Warn("inspect task failed")
		return job
	}
	if !ok {
		return job
	}

	switch {
	case status.Outcome != nil:
		job.Status = status.Outcome.Status
		job.Outputs = status.Outcome.Outputs
		job.Error = status.Outcome.Error
	case status.State == "archived":
		job.Status = domain.JobStatusFailed
		job.Error = status.LastErr
	case status.State == "active" || status.State == "retry":
		job.Status = domain.JobStatusProcessing
	}
	return job
}
