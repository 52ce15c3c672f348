package hedge

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Stage identifies a step-level progress milestone within one open/close
// operation.
type Stage string

const (
	StageValidating     Stage = "validating"
	StageSubmitted      Stage = "submitted"
	StageSuccess        Stage = "success"
	StagePartial        Stage = "partial"
	StageFailed         Stage = "failed"
	StageRollbackFailed Stage = "rollback_failed"
)

// String returns string representation
func (s Stage) String() string {
	return string(s)
}

// ProgressEvent is one step-level update pushed to observers
type ProgressEvent struct {
	PositionID uuid.UUID              `json:"position_id"`
	Stage      Stage                  `json:"stage"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// ProgressReporter pushes step-level progress to observers. The orchestrator
// is unaware of how many observers exist; an absent or slow observer must
// never block or fail the operation.
type ProgressReporter interface {
	Emit(ctx context.Context, event ProgressEvent)
}

// ChannelReporter delivers progress events to a channel. Delivery is
// non-blocking: when no observer is draining the channel the event is
// dropped.
type ChannelReporter struct {
	ch chan ProgressEvent
}

// NewChannelReporter creates a reporter with the given buffer size
func NewChannelReporter(buffer int) *ChannelReporter {
	return &ChannelReporter{
		ch: make(chan ProgressEvent, buffer),
	}
}

// Events returns the receive side for observers
func (r *ChannelReporter) Events() <-chan ProgressEvent {
	return r.ch
}

// Emit delivers the event or drops it if no observer keeps up
func (r *ChannelReporter) Emit(ctx context.Context, event ProgressEvent) {
	select {
	case r.ch <- event:
	default:
	}
}

// NoopReporter discards all events
type NoopReporter struct{}

// Emit does nothing
func (NoopReporter) Emit(ctx context.Context, event ProgressEvent) {}

// MultiReporter fans one event out to several reporters
type MultiReporter []ProgressReporter

// Emit forwards the event to every reporter
func (m MultiReporter) Emit(ctx context.Context, event ProgressEvent) {
	for _, r := range m {
		r.Emit(ctx, event)
	}
}
