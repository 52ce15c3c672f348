package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventKind classifies hedge lifecycle audit events
type EventKind string

const (
	EventOpenRequested  EventKind = "hedge_open_requested"
	EventOpened         EventKind = "hedge_opened"
	EventOpenFailed     EventKind = "hedge_open_failed"
	EventRollback       EventKind = "hedge_rollback"
	EventRollbackFailed EventKind = "hedge_rollback_failed"
	EventCloseRequested EventKind = "hedge_close_requested"
	EventClosed         EventKind = "hedge_closed"
	EventPartialClose   EventKind = "hedge_partial_close"
	EventCloseFailed    EventKind = "hedge_close_failed"
	EventStuckPosition  EventKind = "hedge_stuck_position"
)

// String returns string representation
func (k EventKind) String() string {
	return string(k)
}

// Entry is an append-only record of one lifecycle transition, including
// failures. Entries are written by the orchestrators and never mutated.
type Entry struct {
	ID         uuid.UUID         `ch:"id"`
	UserID     uuid.UUID         `ch:"user_id"`
	PositionID uuid.UUID         `ch:"position_id"`
	EventKind  EventKind         `ch:"event_kind"`
	Details    map[string]string `ch:"details"`
	IPAddress  string            `ch:"ip_address"`
	Timestamp  time.Time         `ch:"timestamp"`
}

// Logger records lifecycle transitions. Implementations must be append-only;
// a failed write must not fail the operation being audited.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}
