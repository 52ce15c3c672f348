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
	"basis/internal/metrics"
	"basis/pkg/errors"
)

// OpenRequest carries the parameters for opening one hedged position
type OpenRequest struct {
	UserID        uuid.UUID
	Symbol        string
	LongExchange  string
	ShortExchange string
	Quantity      decimal.Decimal
	LongLeverage  int
	ShortLeverage int

	StopLossEnabled   bool
	StopLossPercent   decimal.NullDecimal
	TakeProfitEnabled bool
	TakeProfitPercent decimal.NullDecimal

	// GroupID joins this position to an existing split-entry group.
	// Nil opens a fresh group of one.
	GroupID *uuid.UUID

	IPAddress string
}

// Validate checks the request before any side effect
func (r *OpenRequest) Validate() error {
	if r.UserID == uuid.Nil {
		return errors.Wrap(errors.ErrInvalidInput, "user id is required")
	}
	if r.Symbol == "" {
		return errors.Wrap(errors.ErrInvalidInput, "symbol is required")
	}
	if r.LongExchange == "" || r.ShortExchange == "" {
		return errors.Wrap(errors.ErrInvalidInput, "both exchanges are required")
	}
	if r.LongExchange == r.ShortExchange {
		return errors.Wrap(errors.ErrInvalidInput, "long and short legs must be on different exchanges")
	}
	if !r.Quantity.IsPositive() {
		return errors.Wrap(errors.ErrInvalidInput, "quantity must be positive")
	}
	if r.LongLeverage < 1 || r.ShortLeverage < 1 {
		return errors.Wrap(errors.ErrInvalidInput, "leverage must be at least 1")
	}
	if r.StopLossEnabled && (!r.StopLossPercent.Valid || !r.StopLossPercent.Decimal.IsPositive()) {
		return errors.Wrap(errors.ErrInvalidInput, "stop loss percent must be positive when enabled")
	}
	if r.TakeProfitEnabled && (!r.TakeProfitPercent.Valid || !r.TakeProfitPercent.Decimal.IsPositive()) {
		return errors.Wrap(errors.ErrInvalidInput, "take profit percent must be positive when enabled")
	}
	return nil
}

// OpenPosition opens both legs of a hedge. On success the position is OPEN
// with both fills recorded. If exactly one leg fills, the filled leg is
// compensated with a close order; a failed compensation leaves the position
// FAILED with manual intervention required and returns RollbackFailedError
// identifying the exposed order. Concurrent opens for the same user and
// symbol fail fast with ErrLockConflict.
func (s *Service) OpenPosition(ctx context.Context, req OpenRequest) (*hedge.Position, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	lease, err := s.locks.Acquire(ctx, locks.OpenKey(req.UserID, req.Symbol))
	if err != nil {
		if errors.Is(err, errors.ErrLockConflict) {
			metrics.LockConflicts.Inc()
		}
		return nil, err
	}
	defer func() {
		if releaseErr := s.locks.Release(context.WithoutCancel(ctx), lease); releaseErr != nil {
			s.log.Warnw("Failed to release open lock", "key", lease.Key, "error", releaseErr)
		}
	}()

	position := s.newPosition(req)

	if err := s.positions.Create(ctx, position); err != nil {
		return nil, errors.Wrap(err, "failed to create position")
	}

	s.emit(ctx, position.ID, StageValidating, map[string]interface{}{
		"symbol":         req.Symbol,
		"long_exchange":  req.LongExchange,
		"short_exchange": req.ShortExchange,
	})
	s.record(ctx, audit.EventOpenRequested, req.UserID, position.ID, req.IPAddress, map[string]string{
		"symbol":         req.Symbol,
		"long_exchange":  req.LongExchange,
		"short_exchange": req.ShortExchange,
		"quantity":       req.Quantity.String(),
	})

	if err := position.Transition(hedge.StatusOpening); err != nil {
		return nil, err
	}
	if err := s.positions.Update(ctx, position); err != nil {
		return nil, errors.Wrap(err, "failed to persist opening status")
	}

	s.captureFundingRates(ctx, position)

	saga := NewSaga(
		s.openStep(position, hedge.LegLong, req.LongExchange, req.Quantity, req.LongLeverage),
		s.openStep(position, hedge.LegShort, req.ShortExchange, req.Quantity, req.ShortLeverage),
	)

	s.emit(ctx, position.ID, StageSubmitted, map[string]interface{}{
		"quantity": req.Quantity.String(),
	})

	outcomes := saga.Run(ctx)
	succeeded, failed := Partition(outcomes)

	// Orders may have filled by now. Settling the outcome, including any
	// compensating close, must survive the caller disconnecting mid-request,
	// so the remaining work runs detached from the request context.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	switch len(failed) {
	case 0:
		return s.finishOpen(ctx, position, req, outcomes)
	case len(outcomes):
		return nil, s.failOpen(ctx, position, req, failed)
	default:
		return nil, s.rollbackOpen(ctx, position, req, saga, succeeded, failed)
	}
}

// newPosition builds the PENDING position record for the request
func (s *Service) newPosition(req OpenRequest) *hedge.Position {
	groupID := uuid.New()
	if req.GroupID != nil {
		groupID = *req.GroupID
	}

	return &hedge.Position{
		ID:                uuid.New(),
		GroupID:           groupID,
		UserID:            req.UserID,
		Symbol:            req.Symbol,
		LongExchange:      req.LongExchange,
		ShortExchange:     req.ShortExchange,
		LongLeverage:      req.LongLeverage,
		ShortLeverage:     req.ShortLeverage,
		StopLossEnabled:   req.StopLossEnabled,
		StopLossPercent:   req.StopLossPercent,
		TakeProfitEnabled: req.TakeProfitEnabled,
		TakeProfitPercent: req.TakeProfitPercent,
		Status:            hedge.StatusPending,
	}
}

// openStep wires one leg as a compensable saga step
func (s *Service) openStep(position *hedge.Position, side hedge.LegSide, exchange string, quantity decimal.Decimal, leverage int) *LegStep {
	return &LegStep{
		Side:     side,
		Exchange: exchange,
		Forward: func(ctx context.Context) (*exchanges.LegFill, error) {
			return s.executor.OpenLeg(ctx, exchange, position.Symbol, side, quantity, leverage)
		},
		Backward: func(ctx context.Context, fill *exchanges.LegFill) error {
			_, err := s.executor.CloseLeg(ctx, exchange, position.Symbol, side, fill.Quantity, fill.OrderID)
			return err
		},
	}
}

// captureFundingRates snapshots both venues' funding rates for later PnL
// attribution. Best effort: a missing rate never blocks the open.
func (s *Service) captureFundingRates(ctx context.Context, position *hedge.Position) {
	if rate, err := s.executor.FundingRate(ctx, position.LongExchange, position.Symbol); err == nil {
		position.OpenFundingRateLong = decimal.NullDecimal{Decimal: rate, Valid: true}
	} else {
		s.log.Debugw("Failed to fetch long funding rate",
			"exchange", position.LongExchange, "symbol", position.Symbol, "error", err)
	}

	if rate, err := s.executor.FundingRate(ctx, position.ShortExchange, position.Symbol); err == nil {
		position.OpenFundingRateShort = decimal.NullDecimal{Decimal: rate, Valid: true}
	} else {
		s.log.Debugw("Failed to fetch short funding rate",
			"exchange", position.ShortExchange, "symbol", position.Symbol, "error", err)
	}
}

// finishOpen records both fills and moves the position to OPEN
func (s *Service) finishOpen(ctx context.Context, position *hedge.Position, req OpenRequest, outcomes []*LegOutcome) (*hedge.Position, error) {
	for _, o := range outcomes {
		applyFill(position, o.Step.Side, o.Fill)
	}

	position.OpenedAt = timePtr(time.Now())
	position.ApplyRiskConfig()

	if err := position.Transition(hedge.StatusOpen); err != nil {
		return nil, err
	}
	if err := s.positions.Update(ctx, position); err != nil {
		return nil, errors.Wrap(err, "failed to persist open position")
	}

	metrics.HedgeOpens.WithLabelValues("success").Inc()
	s.record(ctx, audit.EventOpened, req.UserID, position.ID, req.IPAddress, map[string]string{
		"long_order_id":  position.LongOrderID,
		"short_order_id": position.ShortOrderID,
		"long_entry":     position.LongEntryPrice.String(),
		"short_entry":    position.ShortEntryPrice.String(),
	})
	s.emit(ctx, position.ID, StageSuccess, map[string]interface{}{
		"long_entry":  position.LongEntryPrice.String(),
		"short_entry": position.ShortEntryPrice.String(),
	})
	s.events.HedgeOpened(ctx, position)

	s.log.Infow("Hedge opened",
		"position_id", position.ID,
		"user_id", position.UserID,
		"symbol", position.Symbol,
		"long_exchange", position.LongExchange,
		"short_exchange", position.ShortExchange,
	)

	return position, nil
}

// failOpen handles both legs failing: nothing filled, nothing to unwind
func (s *Service) failOpen(ctx context.Context, position *hedge.Position, req OpenRequest, failed []*LegOutcome) error {
	cause := failed[0].Err
	for _, o := range failed[1:] {
		cause = pickLegError(cause, o.Err)
	}

	position.FailureReason = strPtr(cause.Error())
	if err := position.Transition(hedge.StatusFailed); err != nil {
		return err
	}
	if err := s.positions.Update(ctx, position); err != nil {
		return errors.Wrap(err, "failed to persist failed position")
	}

	metrics.HedgeOpens.WithLabelValues("failed").Inc()
	s.record(ctx, audit.EventOpenFailed, req.UserID, position.ID, req.IPAddress, map[string]string{
		"reason": cause.Error(),
	})
	s.emit(ctx, position.ID, StageFailed, map[string]interface{}{
		"reason": cause.Error(),
	})
	s.events.HedgeFailed(ctx, position)

	s.log.Warnw("Hedge open failed on both legs",
		"position_id", position.ID,
		"symbol", position.Symbol,
		"error", cause,
	)

	return cause
}

// rollbackOpen compensates the single filled leg. A successful rollback means
// no residual exposure; a failed rollback leaves a live order that must be
// closed by an operator.
func (s *Service) rollbackOpen(ctx context.Context, position *hedge.Position, req OpenRequest, saga *Saga, succeeded, failed []*LegOutcome) error {
	filled := succeeded[0]
	legErr := failed[0].Err

	s.log.Warnw("One hedge leg failed, compensating filled leg",
		"position_id", position.ID,
		"filled_side", filled.Step.Side,
		"filled_exchange", filled.Step.Exchange,
		"failed_side", failed[0].Step.Side,
		"error", legErr,
	)

	compErr := saga.Compensate(ctx, succeeded)

	if compErr == nil {
		metrics.Rollbacks.WithLabelValues("success").Inc()
		metrics.HedgeOpens.WithLabelValues("failed").Inc()

		position.FailureReason = strPtr(legErr.Error())
		if err := position.Transition(hedge.StatusFailed); err != nil {
			return err
		}
		if err := s.positions.Update(ctx, position); err != nil {
			return errors.Wrap(err, "failed to persist failed position")
		}

		s.record(ctx, audit.EventRollback, req.UserID, position.ID, req.IPAddress, map[string]string{
			"rolled_back_side":     filled.Step.Side.String(),
			"rolled_back_exchange": filled.Step.Exchange,
			"rolled_back_order":    filled.Fill.OrderID,
			"reason":               legErr.Error(),
		})
		s.emit(ctx, position.ID, StageFailed, map[string]interface{}{
			"reason":           legErr.Error(),
			"rolled_back_side": filled.Step.Side.String(),
		})
		s.events.HedgeFailed(ctx, position)

		return legErr
	}

	metrics.Rollbacks.WithLabelValues("failed").Inc()
	metrics.HedgeOpens.WithLabelValues("rollback_failed").Inc()
	metrics.ManualInterventions.Inc()

	rollbackErr := &hedge.RollbackFailedError{
		Exchange: filled.Step.Exchange,
		OrderID:  filled.Fill.OrderID,
		Side:     filled.Step.Side,
		Quantity: filled.Fill.Quantity,
		Cause:    compErr,
	}

	position.FailureReason = strPtr(rollbackErr.Error())
	position.RequiresManualIntervention = true
	if err := position.Transition(hedge.StatusFailed); err != nil {
		return err
	}
	if err := s.positions.Update(ctx, position); err != nil {
		return errors.Wrap(err, "failed to persist failed position")
	}

	s.record(ctx, audit.EventRollbackFailed, req.UserID, position.ID, req.IPAddress, map[string]string{
		"exchange": rollbackErr.Exchange,
		"order_id": rollbackErr.OrderID,
		"side":     rollbackErr.Side.String(),
		"quantity": rollbackErr.Quantity.String(),
		"cause":    compErr.Error(),
	})
	s.emit(ctx, position.ID, StageRollbackFailed, map[string]interface{}{
		"exchange": rollbackErr.Exchange,
		"order_id": rollbackErr.OrderID,
		"side":     rollbackErr.Side.String(),
		"quantity": rollbackErr.Quantity.String(),
	})
	s.events.HedgeFailed(ctx, position)
	s.events.ManualIntervention(ctx, position, rollbackErr.Error())

	s.log.Errorw("Hedge rollback failed, manual intervention required",
		"position_id", position.ID,
		"exchange", rollbackErr.Exchange,
		"order_id", rollbackErr.OrderID,
		"side", rollbackErr.Side,
		"quantity", rollbackErr.Quantity,
		"error", compErr,
	)

	return rollbackErr
}

// applyFill writes one leg's fill onto the position
func applyFill(position *hedge.Position, side hedge.LegSide, fill *exchanges.LegFill) {
	if side == hedge.LegLong {
		position.LongOrderID = fill.OrderID
		position.LongEntryPrice = fill.Price
		position.LongPositionSize = fill.Quantity
		return
	}
	position.ShortOrderID = fill.OrderID
	position.ShortEntryPrice = fill.Price
	position.ShortPositionSize = fill.Quantity
}
