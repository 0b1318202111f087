package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dunamismax/facewarp/internal/detect"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	ItemStatusOK    = "ok"
	ItemStatusError = "error"

	MaxJobItems = 64
)

// JobItem is one uploaded image waiting in object storage.
type JobItem struct {
	Name        string `json:"name"`
	ObjectKey   string `json:"object_key"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// ItemOutput is the outcome of one item of a finished job.
type ItemOutput struct {
	Name       string             `json:"name"`
	Status     string             `json:"status"`
	ObjectKey  string             `json:"object_key,omitempty"`
	Format     string             `json:"format,omitempty"`
	Width      uint32             `json:"width,omitempty"`
	Height     uint32             `json:"height,omitempty"`
	Bytes      int64              `json:"bytes,omitempty"`
	Detections []detect.Detection `json:"detections,omitempty"`
	Error      string             `json:"error,omitempty"`
	ErrorKind  string             `json:"error_kind,omitempty"`
}

type CreateJobRequest struct {
	Operation  Operation `json:"operation"`
	WebhookURL string    `json:"webhook_url,omitempty"`
	Items      []JobItem `json:"items"`
}

type Job struct {
	ID         string
	Status     string
	Operation  Operation
	WebhookURL string
	Items      []JobItem
	Outputs    []ItemOutput
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r CreateJobRequest) Validate() error {
	if err := r.Operation.Validate(); err != nil {
		return err
	}
	if len(r.Items) == 0 {
		return errors.New("at least one image is required")
	}
	if len(r.Items) > MaxJobItems {
		return fmt.Errorf("at most %d images per job", MaxJobItems)
	}
	for i, item := range r.Items {
		if strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("items[%d].name is required", i)
		}
		if strings.TrimSpace(item.ObjectKey) == "" {
			return fmt.Errorf("items[%d].object_key is required", i)
		}
	}
	if hook := strings.TrimSpace(r.WebhookURL); hook != "" {
		u, err := url.Parse(hook)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhook_url must be an absolute http(s) url")
		}
	}
	return nil
}

// Terminal reports whether the job will not change status again.
func (j Job) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}
