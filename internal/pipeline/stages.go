package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dunamismax/facewarp/internal/codec"
	"github.com/dunamismax/facewarp/internal/domain"
	"github.com/dunamismax/facewarp/internal/storage"
)

// Fetcher loads the encoded bytes of one job item.
type Fetcher interface {
	Fetch(ctx context.Context, item domain.JobItem) ([]byte, error)
}

// Emitter persists one successful item result and describes where it went.
type Emitter interface {
	Emit(ctx context.Context, jobID string, res ItemResult) (domain.ItemOutput, error)
}

// JobResult is the outcome of RunJob.
type JobResult struct {
	Outputs         []domain.ItemOutput
	Failed          int
	PixelsProcessed int64
	BytesOut        int64
}

// RunJob fetches every item, runs the batch and emits the successful outputs.
// Fetch and emit failures are infrastructure errors and fail the whole job so
// the queue can retry it; per-item transform failures only mark their item.
func (p *Processor) RunJob(ctx context.Context, job domain.Job, fetcher Fetcher, emitter Emitter) (JobResult, error) {
	items := make([]Item, 0, len(job.Items))
	for _, it := range job.Items {
		data, err := fetcher.Fetch(ctx, it)
		if err != nil {
			return JobResult{}, fmt.Errorf("fetch stage item=%s: %w", it.Name, err)
		}
		items = append(items, Item{Name: it.Name, Data: data})
	}

	result, err := p.Process(ctx, Request{JobID: job.ID, Items: items, Operation: job.Operation})
	if err != nil {
		return JobResult{}, err
	}

	out := JobResult{Outputs: make([]domain.ItemOutput, 0, len(result.Items)), Failed: result.Failed}
	for _, res := range result.Items {
		out.PixelsProcessed += res.Pixels
		if !res.OK() {
			out.Outputs = append(out.Outputs, domain.ItemOutput{
				Name:      res.Name,
				Status:    domain.ItemStatusError,
				Error:     res.Err.Error(),
				ErrorKind: res.Kind,
			})
			continue
		}

		written, err := emitter.Emit(ctx, job.ID, res)
		if err != nil {
			return JobResult{}, fmt.Errorf("emit stage item=%s: %w", res.Name, err)
		}
		out.BytesOut += written.Bytes
		out.Outputs = append(out.Outputs, written)
	}
	return out, nil
}

type ObjectStoreFetcher struct {
	Storage *storage.Client
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, item domain.JobItem) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	return f.Storage.ReadObject(ctx, item.ObjectKey)
}

type ObjectStoreEmitter struct {
	Storage      *storage.Client
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, jobID string, res ItemResult) (domain.ItemOutput, error) {
	if e.Storage == nil {
		return domain.ItemOutput{}, errors.New("storage client is required")
	}

	output := successOutput(res)
	if len(res.Data) == 0 {
		return output, nil
	}

	output.ObjectKey = path.Join(
		defaultOutputPrefix(e.OutputPrefix),
		SanitizePathToken(jobID),
		outputFilename(res),
	)
	if err := e.Storage.WriteObject(ctx, output.ObjectKey, res.Data, codec.ContentType(res.Format)); err != nil {
		return domain.ItemOutput{}, err
	}
	return output, nil
}

// LocalFileFetcher reads item object keys as paths on the local filesystem.
type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, item domain.JobItem) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(item.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", item.ObjectKey, err)
	}
	return data, nil
}

// LocalFileEmitter writes outputs below OutputDir/<job>/.
type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, jobID string, res ItemResult) (domain.ItemOutput, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return domain.ItemOutput{}, errors.New("output directory is required")
	}

	output := successOutput(res)
	if len(res.Data) == 0 {
		return output, nil
	}

	jobDir := filepath.Join(e.OutputDir, SanitizePathToken(jobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return domain.ItemOutput{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, outputFilename(res))
	if err := os.WriteFile(fullPath, res.Data, 0o644); err != nil {
		return domain.ItemOutput{}, fmt.Errorf("write output file: %w", err)
	}
	output.ObjectKey = fullPath
	return output, nil
}

func successOutput(res ItemResult) domain.ItemOutput {
	return domain.ItemOutput{
		Name:       res.Name,
		Status:     domain.ItemStatusOK,
		Format:     res.Format,
		Width:      res.Width,
		Height:     res.Height,
		Bytes:      int64(len(res.Data)),
		Detections: res.Detections,
	}
}

func outputFilename(res ItemResult) string {
	base := strings.TrimSuffix(res.Name, path.Ext(res.Name))
	return fmt.Sprintf("%s.%s", SanitizePathToken(base), extension(res.Format))
}

func extension(format string) string {
	if codec.NormalizeFormat(format) == codec.FormatJPEG {
		return "jpg"
	}
	return "png"
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}

// SanitizePathToken keeps ASCII letters, digits, '-' and '_' and replaces
// everything else with '_'.
func SanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
