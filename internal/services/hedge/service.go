package hedge

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"basis/internal/adapters/exchanges"
	"basis/internal/domain/audit"
	"basis/internal/domain/hedge"
	"basis/internal/locks"
	"basis/pkg/errors"
	"basis/pkg/logger"
)

// settleTimeout bounds the detached work that settles an operation after its
// legs have executed: compensating closes, terminal persistence, audit.
const settleTimeout = 30 * time.Second

// LegExecutor places and unwinds single legs on a venue
type LegExecutor interface {
	OpenLeg(ctx context.Context, exchange, symbol string, side hedge.LegSide, quantity decimal.Decimal, leverage int) (*exchanges.LegFill, error)
	CloseLeg(ctx context.Context, exchange, symbol string, side hedge.LegSide, quantity decimal.Decimal, orderID string) (*exchanges.LegFill, error)
	FundingRate(ctx context.Context, exchange, symbol string) (decimal.Decimal, error)
}

// EventPublisher broadcasts terminal lifecycle events to downstream
// consumers. Implementations are fire-and-forget; a broker outage must not
// change a trade outcome.
type EventPublisher interface {
	HedgeOpened(ctx context.Context, position *hedge.Position)
	HedgeClosed(ctx context.Context, position *hedge.Position, trade *hedge.Trade)
	HedgeFailed(ctx context.Context, position *hedge.Position)
	ManualIntervention(ctx context.Context, position *hedge.Position, reason string)
}

// NoopEventPublisher discards all lifecycle events
type NoopEventPublisher struct{}

func (NoopEventPublisher) HedgeOpened(ctx context.Context, position *hedge.Position) {}
func (NoopEventPublisher) HedgeClosed(ctx context.Context, position *hedge.Position, trade *hedge.Trade) {
}
func (NoopEventPublisher) HedgeFailed(ctx context.Context, position *hedge.Position) {}
func (NoopEventPublisher) ManualIntervention(ctx context.Context, position *hedge.Position, reason string) {
}

// Service orchestrates the hedged position lifecycle: opening both legs
// atomically-or-not-at-all, closing them with settlement accounting, and
// reading back grouped aggregates. All mutating flows run under a per-key
// lock and persist every status transition before returning.
type Service struct {
	positions hedge.Repository
	trades    hedge.TradeRepository
	locks     locks.Manager
	executor  LegExecutor
	auditor   audit.Logger
	reporter  ProgressReporter
	events    EventPublisher
	log       *logger.Logger
}

// NewService creates a new hedge service
func NewService(
	positions hedge.Repository,
	trades hedge.TradeRepository,
	lockManager locks.Manager,
	executor LegExecutor,
	auditor audit.Logger,
	reporter ProgressReporter,
	events EventPublisher,
) *Service {
	if reporter == nil {
		reporter = NoopReporter{}
	}
	if events == nil {
		events = NoopEventPublisher{}
	}

	return &Service{
		positions: positions,
		trades:    trades,
		locks:     lockManager,
		executor:  executor,
		auditor:   auditor,
		reporter:  reporter,
		events:    events,
		log:       logger.Get().With("component", "hedge_service"),
	}
}

// GetGroupedPositions returns the caller's positions partitioned into hedge
// groups with per-group aggregates. Statuses filter which positions are
// included; with none given all positions are returned.
func (s *Service) GetGroupedPositions(ctx context.Context, userID uuid.UUID, statuses ...hedge.Status) ([]*hedge.Group, error) {
	positions, err := s.positions.GetByUser(ctx, userID, statuses...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load positions")
	}
	return hedge.GroupPositions(positions), nil
}

// GetPosition returns one position owned by the caller
func (s *Service) GetPosition(ctx context.Context, userID, positionID uuid.UUID) (*hedge.Position, error) {
	position, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if position.UserID != userID {
		return nil, errors.Wrapf(errors.ErrPositionNotFound, "%s", positionID)
	}
	return position, nil
}

// emit pushes a progress event; observers never block the operation
func (s *Service) emit(ctx context.Context, positionID uuid.UUID, stage Stage, payload map[string]interface{}) {
	s.reporter.Emit(ctx, ProgressEvent{
		PositionID: positionID,
		Stage:      stage,
		Payload:    payload,
		Timestamp:  time.Now(),
	})
}

// record writes an audit entry; audit failures are logged, never propagated,
// because the trade outcome must not depend on the audit store
func (s *Service) record(ctx context.Context, kind audit.EventKind, userID, positionID uuid.UUID, ip string, details map[string]string) {
	err := s.auditor.Log(ctx, audit.Entry{
		UserID:     userID,
		PositionID: positionID,
		EventKind:  kind,
		Details:    details,
		IPAddress:  ip,
	})
	if err != nil {
		s.log.Errorw("Failed to write audit entry",
			"event_kind", kind,
			"position_id", positionID,
			"error", err,
		)
	}
}

// legErrorRank orders the error taxonomy by how actionable the error is for
// the caller. When both legs fail the more informative error wins.
func legErrorRank(err error) int {
	switch {
	case errors.Is(err, errors.ErrInsufficientBalance):
		return 6
	case errors.Is(err, errors.ErrInvalidSymbol):
		return 5
	case errors.Is(err, errors.ErrOrderRejected):
		return 4
	case errors.Is(err, errors.ErrRateLimitExceeded):
		return 3
	case errors.Is(err, errors.ErrTimeout):
		return 2
	case errors.Is(err, errors.ErrExchangeUnavailable):
		return 1
	default:
		return 0
	}
}

// pickLegError returns the more informative of two leg errors
func pickLegError(a, b error) error {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if legErrorRank(b) > legErrorRank(a) {
		return b
	}
	return a
}

func strPtr(s string) *string {
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}
