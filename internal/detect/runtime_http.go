package detect

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/facewarp/internal/raster"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxInferenceResponseBytes = 4 << 20

// HTTPRuntime sends each frame to an out-of-process inference service as a
// multipart PNG upload.
type HTTPRuntime struct {
	inferenceURL string
	client       *http.Client
}

func NewHTTPRuntime(inferenceURL string, timeout time.Duration) (*HTTPRuntime, error) {
	inferenceURL = strings.TrimRight(strings.TrimSpace(inferenceURL), "/")
	if inferenceURL == "" {
		return nil, fmt.Errorf("%w: inference url is required", ErrModelUnavailable)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRuntime{
		inferenceURL: inferenceURL,
		client:       &http.Client{Timeout: timeout},
	}, nil
}

func (r *HTTPRuntime) Infer(ctx context.Context, buf *raster.Buffer) ([]Detection, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "frame.png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if err := png.Encode(part, buf.ToRGBA()); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.inferenceURL, body)
	if err != nil {
		return nil, fmt.Errorf("create inference request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: inference returned %d: %s", ErrModelUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result struct {
		Detections []Detection `json:"detections"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxInferenceResponseBytes)).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode inference response: %w", err)
	}
	return result.Detections, nil
}

func (r *HTTPRuntime) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.inferenceURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned %d", ErrModelUnavailable, resp.StatusCode)
	}
	return nil
}

func (r *HTTPRuntime) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
