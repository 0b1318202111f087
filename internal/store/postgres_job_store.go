package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/facewarp/internal/domain"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	_ "github.com/lib/pq"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	operation JSONB NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	items JSONB NOT NULL,
	outputs JSONB NOT NULL DEFAULT '[]',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	items_total INTEGER NOT NULL,
	items_failed INTEGER NOT NULL,
	pixels_processed BIGINT NOT NULL,
	bytes_out BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS usage_logs_job_id_idx ON usage_logs (job_id);
`

type PostgresJobStore struct {
	db *sqlx.DB
}

type jobRow struct {
	ID         string    `db:"id"`
	Status     string    `db:"status"`
	Operation  []byte    `db:"operation"`
	WebhookURL string    `db:"webhook_url"`
	Items      []byte    `db:"items"`
	Outputs    []byte    `db:"outputs"`
	Error      string    `db:"error"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	row, err := toRow(job)
	if err != nil {
		return err
	}

	_, err = s.db.NamedExecContext(
		ctx,
		`INSERT INTO jobs (id, status, operation, webhook_url, items, outputs, error, created_at, updated_at)
		 VALUES (:id, :status, :operation, :webhook_url, :items, :outputs, :error, :created_at, :updated_at)`,
		row,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	var row jobRow
	err := s.db.GetContext(
		ctx,
		&row,
		`SELECT id, status, operation, webhook_url, items, outputs, error, created_at, updated_at
		 FROM jobs
		 WHERE id = $1`,
		id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}

	job, err := fromRow(row)
	if err != nil {
		return domain.Job{}, false, err
	}
	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job status: %w", err)
	}
	return s.reload(ctx, id, res)
}

func (s *PostgresJobStore) Complete(ctx context.Context, id, status string, outputs []domain.ItemOutput, errMsg string) (domain.Job, error) {
	if outputs == nil {
		outputs = []domain.ItemOutput{}
	}
	outputsJSON, err := json.Marshal(outputs)
	if err != nil {
		return domain.Job{}, fmt.Errorf("marshal job outputs: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
		 SET status = $1, outputs = $2, error = $3, updated_at = $4
		 WHERE id = $5`,
		status,
		outputsJSON,
		errMsg,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("complete job: %w", err)
	}
	return s.reload(ctx, id, res)
}

func (s *PostgresJobStore) reload(ctx context.Context, id string, res sql.Result) (domain.Job, error) {
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Job{}, ErrJobNotFound
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}

func (s *PostgresJobStore) RecordUsage(ctx context.Context, usage domain.UsageLog) error {
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (job_id, operation, items_total, items_failed, pixels_processed, bytes_out, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		usage.JobID,
		string(usage.Operation),
		usage.ItemsTotal,
		usage.ItemsFailed,
		usage.PixelsProcessed,
		usage.BytesOut,
		usage.ComputeTimeMS,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func toRow(job domain.Job) (jobRow, error) {
	operationJSON, err := json.Marshal(job.Operation)
	if err != nil {
		return jobRow{}, fmt.Errorf("marshal job operation: %w", err)
	}
	itemsJSON, err := json.Marshal(job.Items)
	if err != nil {
		return jobRow{}, fmt.Errorf("marshal job items: %w", err)
	}
	outputs := job.Outputs
	if outputs == nil {
		outputs = []domain.ItemOutput{}
	}
	outputsJSON, err := json.Marshal(outputs)
	if err != nil {
		return jobRow{}, fmt.Errorf("marshal job outputs: %w", err)
	}

	return jobRow{
		ID:         job.ID,
		Status:     job.Status,
		Operation:  operationJSON,
		WebhookURL: job.WebhookURL,
		Items:      itemsJSON,
		Outputs:    outputsJSON,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	}, nil
}

func fromRow(row jobRow) (domain.Job, error) {
	job := domain.Job{
		ID:         row.ID,
		Status:     row.Status,
		WebhookURL: row.WebhookURL,
		Error:      row.Error,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	if err := json.Unmarshal(row.Operation, &job.Operation); err != nil {
		return domain.Job{}, fmt.Errorf("unmarshal job operation: %w", err)
	}
	if err := json.Unmarshal(row.Items, &job.Items); err != nil {
		return domain.Job{}, fmt.Errorf("unmarshal job items: %w", err)
	}
	if len(row.Outputs) > 0 {
		if err := json.Unmarshal(row.Outputs, &job.Outputs); err != nil {
			return domain.Job{}, fmt.Errorf("unmarshal job outputs: %w", err)
		}
	}
	return job, nil
}
