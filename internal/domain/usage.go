package domain

import "time"

type UsageLog struct {
	JobID           string
	Operation       OperationKind
	ItemsTotal      int
	ItemsFailed     int
	PixelsProcessed int64
	BytesOut        int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}
