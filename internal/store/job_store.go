package store

import (
	"context"
	"errors"

	"github.com/dunamismax/facewarp/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// Complete moves a job to a terminal status with its outputs.
	Complete(ctx context.Context, id, status string, outputs []domain.ItemOutput, errMsg string) (domain.Job, error)
}

type UsageStore interface {
	RecordUsage(ctx context.Context, usage domain.UsageLog) error
}
