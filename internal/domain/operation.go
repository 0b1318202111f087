package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

type OperationKind string

const (
	OpInvert     OperationKind = "invert"
	OpDistort    OperationKind = "distort"
	OpTrim       OperationKind = "trim"
	OpRotate     OperationKind = "rotate"
	OpCrop       OperationKind = "crop"
	OpDetect     OperationKind = "detect"
	OpDetectBBox OperationKind = "detect_bbox"

	// MaxCropPixels bounds the zero-filled output a crop request may allocate.
	MaxCropPixels   = 64 * 1024 * 1024
	MaxWobbleOffset = 1 << 16
)

var ErrInvalidParameter = errors.New("invalid parameter")

var validate = validator.New(validator.WithRequiredStructEnabled())

type CropParams struct {
	X      uint32 `json:"x"`
	Y      uint32 `json:"y"`
	Width  uint32 `json:"width" validate:"gt=0"`
	Height uint32 `json:"height" validate:"gt=0"`
}

// Operation is one transform applied uniformly to every item of a request.
type Operation struct {
	Kind      OperationKind `json:"kind" validate:"required,oneof=invert distort trim rotate crop detect detect_bbox"`
	Angle     float64       `json:"angle,omitempty"`
	Crop      *CropParams   `json:"crop,omitempty"`
	MaxOffset *int          `json:"max_offset,omitempty" validate:"omitempty,gte=0"`
	Threshold *uint8        `json:"threshold,omitempty"`
	Format    string        `json:"format,omitempty" validate:"omitempty,oneof=png jpeg jpg"`
}

func (o Operation) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}

	switch o.Kind {
	case OpRotate:
		if math.IsNaN(o.Angle) || math.IsInf(o.Angle, 0) {
			return fmt.Errorf("%w: angle must be a finite number", ErrInvalidParameter)
		}
	case OpCrop:
		if o.Crop == nil {
			return fmt.Errorf("%w: crop requires x, y, width and height", ErrInvalidParameter)
		}
		if err := validate.Struct(o.Crop); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
		if uint64(o.Crop.Width)*uint64(o.Crop.Height) > MaxCropPixels {
			return fmt.Errorf("%w: crop of %dx%d exceeds %d pixels", ErrInvalidParameter, o.Crop.Width, o.Crop.Height, MaxCropPixels)
		}
	case OpDistort:
		if o.MaxOffset != nil && *o.MaxOffset > MaxWobbleOffset {
			return fmt.Errorf("%w: max_offset must be at most %d", ErrInvalidParameter, MaxWobbleOffset)
		}
	}
	return nil
}

// ParseOperation builds an operation from string form fields. get returns ""
// for a missing field.
func ParseOperation(kind OperationKind, get func(name string) string) (Operation, error) {
	op := Operation{
		Kind:   OperationKind(strings.ToLower(strings.TrimSpace(string(kind)))),
		Format: strings.ToLower(strings.TrimSpace(get("format"))),
	}

	switch op.Kind {
	case OpRotate:
		angle, err := strconv.ParseFloat(strings.TrimSpace(get("angle")), 64)
		if err != nil {
			return Operation{}, fmt.Errorf("%w: angle: %v", ErrInvalidParameter, err)
		}
		op.Angle = angle
	case OpCrop:
		crop, err := parseCrop(get)
		if err != nil {
			return Operation{}, err
		}
		op.Crop = &crop
	case OpDistort:
		if raw := strings.TrimSpace(get("max_offset")); raw != "" {
			offset, err := strconv.Atoi(raw)
			if err != nil {
				return Operation{}, fmt.Errorf("%w: max_offset: %v", ErrInvalidParameter, err)
			}
			op.MaxOffset = &offset
		}
	case OpTrim:
		if raw := strings.TrimSpace(get("threshold")); raw != "" {
			threshold, err := strconv.ParseUint(raw, 10, 8)
			if err != nil {
				return Operation{}, fmt.Errorf("%w: threshold: %v", ErrInvalidParameter, err)
			}
			t := uint8(threshold)
			op.Threshold = &t
		}
	}

	if err := op.Validate(); err != nil {
		return Operation{}, err
	}
	return op, nil
}

func parseCrop(get func(string) string) (CropParams, error) {
	var values [4]uint32
	for i, name := range [...]string{"x", "y", "width", "height"} {
		raw := strings.TrimSpace(get(name))
		if raw == "" {
			return CropParams{}, fmt.Errorf("%w: %s is required", ErrInvalidParameter, name)
		}
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return CropParams{}, fmt.Errorf("%w: %s: %v", ErrInvalidParameter, name, err)
		}
		values[i] = uint32(v)
	}
	return CropParams{X: values[0], Y: values[1], Width: values[2], Height: values[3]}, nil
}
