package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/dunamismax/facewarp/internal/detect"
	"github.com/dunamismax/facewarp/internal/domain"
	"github.com/dunamismax/facewarp/internal/logging"
	"github.com/dunamismax/facewarp/internal/pipeline"
	"github.com/sirupsen/logrus"
)

const maxFieldBytes = 1 << 10

// itemResponse is one element of a batch route's JSON array. Data is encoded
// as base64.
type itemResponse struct {
	Name       string             `json:"name"`
	Data       []byte             `json:"data,omitempty"`
	Status     string             `json:"status"`
	Format     string             `json:"format,omitempty"`
	Width      uint32             `json:"width,omitempty"`
	Height     uint32             `json:"height,omitempty"`
	Detections []detect.Detection `json:"detections,omitempty"`
	Error      string             `json:"error,omitempty"`
	ErrorKind  string             `json:"error_kind,omitempty"`
}

// multipartForm keeps uploaded files in arrival order next to the text fields.
type multipartForm struct {
	items  []pipeline.Item
	fields map[string]string
}

// value returns a text field, falling back to the query string. w and h alias
// width and height.
func (f multipartForm) value(r *http.Request) func(string) string {
	query := r.URL.Query()
	return func(name string) string {
		names := []string{name}
		switch name {
		case "width":
			names = append(names, "w")
		case "height":
			names = append(names, "h")
		}
		for _, n := range names {
			if v, ok := f.fields[n]; ok {
				return v
			}
		}
		for _, n := range names {
			if v := query.Get(n); v != "" {
				return v
			}
		}
		return ""
	}
}

type operationParser func(r *http.Request, get func(string) string) (domain.Operation, error)

func fixedOperation(kind domain.OperationKind) operationParser {
	return func(_ *http.Request, get func(string) string) (domain.Operation, error) {
		return domain.ParseOperation(kind, get)
	}
}

func rotateOperation(r *http.Request, get func(string) string) (domain.Operation, error) {
	angle := r.PathValue("angle")
	return domain.ParseOperation(domain.OpRotate, func(name string) string {
		if name == "angle" {
			return angle
		}
		return get(name)
	})
}

// handleBatch answers 200 with one element per uploaded file, in upload order.
// A bad parameter fails every item rather than the request.
func (s *Server) handleBatch(parse operationParser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context(), s.logger).WithField("route", routeLabel(r.URL.Path))

		form, err := s.readMultipart(w, r)
		if err != nil {
			s.writeFormError(w, log, err)
			return
		}
		if len(form.items) == 0 {
			writeJSON(w, http.StatusOK, []itemResponse{})
			return
		}

		var result pipeline.Result
		op, err := parse(r, form.value(r))
		if err != nil {
			log.WithError(err).Debug("rejecting batch parameters")
			result = pipeline.FailAll(form.items, err)
		} else {
			result, err = s.processor.Process(r.Context(), pipeline.Request{Items: form.items, Operation: op})
			if err != nil {
				log.WithError(err).Warn("batch rejected")
				result = pipeline.FailAll(form.items, err)
			}
		}

		operation := string(op.Kind)
		if operation == "" {
			operation = "unknown"
		}
		out := make([]itemResponse, len(result.Items))
		for i, item := range result.Items {
			out[i] = toItemResponse(item)
			s.metrics.itemsProcessed.WithLabelValues(operation, out[i].Status).Inc()
		}
		log.WithFields(logrus.Fields{
			"operation": operation,
			"items":     len(out),
			"failed":    result.Failed,
		}).Info("batch processed")
		writeJSON(w, http.StatusOK, out)
	}
}

func toItemResponse(item pipeline.ItemResult) itemResponse {
	if !item.OK() {
		return itemResponse{
			Name:      item.Name,
			Status:    domain.ItemStatusError,
			Error:     item.Err.Error(),
			ErrorKind: item.Kind,
		}
	}
	return itemResponse{
		Name:       item.Name,
		Data:       item.Data,
		Status:     domain.ItemStatusOK,
		Format:     item.Format,
		Width:      item.Width,
		Height:     item.Height,
		Detections: item.Detections,
	}
}

var errNotMultipart = errors.New("request must be multipart/form-data")

// readMultipart streams the body part by part so files keep their order. Any
// part with a filename is an image; the rest are text fields.
func (s *Server) readMultipart(w http.ResponseWriter, r *http.Request) (multipartForm, error) {
	form := multipartForm{fields: map[string]string{}}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return form, errNotMultipart
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	reader, err := r.MultipartReader()
	if err != nil {
		return form, errNotMultipart
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return form, nil
		}
		if err != nil {
			return form, fmt.Errorf("read multipart: %w", err)
		}

		if part.FileName() == "" {
			raw, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			_ = part.Close()
			if err != nil {
				return form, fmt.Errorf("read field %q: %w", part.FormName(), err)
			}
			form.fields[part.FormName()] = strings.TrimSpace(string(raw))
			continue
		}

		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return form, fmt.Errorf("read file %q: %w", part.FileName(), err)
		}
		form.items = append(form.items, pipeline.Item{Name: part.FileName(), Data: data})
	}
}

func (s *Server) writeFormError(w http.ResponseWriter, log *logrus.Entry, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	case errors.Is(err, errNotMultipart):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.WithError(err).Debug("malformed multipart body")
		writeError(w, http.StatusBadRequest, "malformed multipart body")
	}
}
