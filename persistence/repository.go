// Package persistence defines the narrow write-through contract the engine
// uses to record step results: every executed step gets exactly one
// raw_result record, and a step that completes also gets one
// formatted_result record. A failed step gets only the raw_result record,
// whose payload carries the error text; no formatted_result is written
// for it. The core
// never reads these records back; a Repository implementation is free to
// store, index, or discard them.
package persistence

import (
	"context"
	"encoding/json"
	"time"
)

// ContentType distinguishes the two records written per executed step.
type ContentType string

const (
	ContentRawResult       ContentType = "raw_result"
	ContentFormattedResult ContentType = "formatted_result"
)

// Record is one persisted message. Writes must be idempotent against
// re-delivery: a Repository implementation keys on (RunID, StepIndex,
// ContentType) rather than assuming at-most-once delivery.
type Record struct {
	RunID       string
	StepIndex   int
	ContentType ContentType
	Tool        string
	MCPName     string
	Payload     json.RawMessage
	Timestamp   time.Time
}

// Repository is the persistence hook the engine loop writes through after
// every executed step.
type Repository interface {
	Write(ctx context.Context, rec Record) error
}

// NoopRepository discards every record; used when no persistence backend is
// configured.
type NoopRepository struct{}

func (NoopRepository) Write(context.Context, Record) error { return nil }
