// Package id mints identifiers: lexically sortable ULIDs for jobs and random
// UUIDs for requests.
package id

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func New() string {
	return ulid.Make().String()
}

func NewRequestID() string {
	return uuid.NewString()
}

// Valid reports whether s parses as a job id.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
