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

// CloseRequest carries the parameters for closing one hedged position
type CloseRequest struct {
	UserID     uuid.UUID
	PositionID uuid.UUID
	Reason     string
	IPAddress  string
}

// CloseResult reports the outcome of a close attempt. A partial close is a
// result, not an error: one leg settled and its effect is already recorded, so
// the caller gets the full picture instead of an exception to untangle.
type CloseResult struct {
	Success  bool
	Position *hedge.Position
	Trade    *hedge.Trade

	// Set only on partial closes
	ClosedSide hedge.LegSide
	FailedSide hedge.LegSide
	FailedErr  string
}

// ClosePosition unwinds both legs of an OPEN position. Both legs settling
// yields a CLOSED position and a SUCCESS trade with full PnL accounting.
// Exactly one leg settling yields a PARTIAL position flagged for manual
// intervention plus a PARTIAL trade covering the settled leg. Both legs
// failing reverts the position to OPEN so the close can be retried.
func (s *Service) ClosePosition(ctx context.Context, req CloseRequest) (*CloseResult, error) {
	if req.UserID == uuid.Nil || req.PositionID == uuid.Nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "user id and position id are required")
	}

	lease, err := s.locks.Acquire(ctx, locks.CloseKey(req.PositionID))
	if err != nil {
		if errors.Is(err, errors.ErrLockConflict) {
			metrics.LockConflicts.Inc()
		}
		return nil, err
	}
	defer func() {
		if releaseErr := s.locks.Release(context.WithoutCancel(ctx), lease); releaseErr != nil {
			s.log.Warnw("Failed to release close lock", "key", lease.Key, "error", releaseErr)
		}
	}()

	position, err := s.positions.GetByID(ctx, req.PositionID)
	if err != nil {
		return nil, err
	}
	if position.UserID != req.UserID {
		return nil, errors.Wrapf(errors.ErrPositionNotFound, "%s", req.PositionID)
	}

	if position.Status == hedge.StatusPartial {
		return nil, errors.Wrapf(errors.ErrPartialTerminal, "position %s", position.ID)
	}
	if position.Status != hedge.StatusOpen {
		return nil, errors.Wrapf(errors.ErrPositionNotOpen, "position %s is %s", position.ID, position.Status)
	}

	s.emit(ctx, position.ID, StageValidating, map[string]interface{}{
		"reason": req.Reason,
	})
	s.record(ctx, audit.EventCloseRequested, req.UserID, position.ID, req.IPAddress, map[string]string{
		"reason": req.Reason,
	})

	if err := position.Transition(hedge.StatusClosing); err != nil {
		return nil, err
	}
	if err := s.positions.Update(ctx, position); err != nil {
		return nil, errors.Wrap(err, "failed to persist closing status")
	}

	// Close legs carry no backward action: re-opening an already closed leg
	// would create fresh exposure instead of restoring the old position.
	saga := NewSaga(
		s.closeStep(position, hedge.LegLong),
		s.closeStep(position, hedge.LegShort),
	)

	s.emit(ctx, position.ID, StageSubmitted, nil)

	outcomes := saga.Run(ctx)
	succeeded, failed := Partition(outcomes)

	// Fills may have settled by now; recording them must survive the caller
	// disconnecting mid-request, so the remaining work runs detached from the
	// request context.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	switch len(failed) {
	case 0:
		return s.finishClose(ctx, position, req, outcomes)
	case len(outcomes):
		return nil, s.revertClose(ctx, position, req, failed)
	default:
		return s.partialClose(ctx, position, req, succeeded[0], failed[0])
	}
}

// closeStep wires one leg's reduce-only close as a saga step
func (s *Service) closeStep(position *hedge.Position, side hedge.LegSide) *LegStep {
	exchange := position.Exchange(side)
	quantity := position.LongPositionSize
	orderID := position.LongOrderID
	if side == hedge.LegShort {
		quantity = position.ShortPositionSize
		orderID = position.ShortOrderID
	}

	return &LegStep{
		Side:     side,
		Exchange: exchange,
		Forward: func(ctx context.Context) (*exchanges.LegFill, error) {
			return s.executor.CloseLeg(ctx, exchange, position.Symbol, side, quantity, orderID)
		},
	}
}

// finishClose settles both legs: writes the trade, records exits, CLOSED
func (s *Service) finishClose(ctx context.Context, position *hedge.Position, req CloseRequest, outcomes []*LegOutcome) (*CloseResult, error) {
	now := time.Now()
	for _, o := range outcomes {
		applyExit(position, o.Step.Side, o.Fill)
	}
	position.ClosedAt = timePtr(now)
	position.CloseReason = strPtr(req.Reason)

	trade := s.buildTrade(position, hedge.TradeSuccess, now)

	if err := s.trades.Create(ctx, trade); err != nil {
		return nil, errors.Wrap(err, "failed to create trade")
	}

	if err := position.Transition(hedge.StatusClosed); err != nil {
		return nil, err
	}
	if err := s.positions.Update(ctx, position); err != nil {
		return nil, errors.Wrap(err, "failed to persist closed position")
	}

	metrics.HedgeCloses.WithLabelValues("success").Inc()
	s.record(ctx, audit.EventClosed, req.UserID, position.ID, req.IPAddress, map[string]string{
		"trade_id":  trade.ID.String(),
		"total_pnl": trade.TotalPnL.String(),
		"roi":       trade.ROI.String(),
	})
	s.emit(ctx, position.ID, StageSuccess, map[string]interface{}{
		"trade_id":  trade.ID.String(),
		"total_pnl": trade.TotalPnL.String(),
	})
	s.events.HedgeClosed(ctx, position, trade)

	s.log.Infow("Hedge closed",
		"position_id", position.ID,
		"trade_id", trade.ID,
		"total_pnl", trade.TotalPnL,
		"roi", trade.ROI,
	)

	return &CloseResult{Success: true, Position: position, Trade: trade}, nil
}

// partialClose settles the single closed leg and parks the position in
// PARTIAL. One-sided exposure remains live in the market, so the position is
// flagged for an operator and never retried automatically.
func (s *Service) partialClose(ctx context.Context, position *hedge.Position, req CloseRequest, closed, failedLeg *LegOutcome) (*CloseResult, error) {
	now := time.Now()
	applyExit(position, closed.Step.Side, closed.Fill)
	position.ClosedAt = timePtr(now)
	position.CloseReason = strPtr(req.Reason)
	position.FailureReason = strPtr(failedLeg.Err.Error())
	position.RequiresManualIntervention = true

	trade := s.buildTrade(position, hedge.TradePartial, now)

	if err := s.trades.Create(ctx, trade); err != nil {
		return nil, errors.Wrap(err, "failed to create trade")
	}

	if err := position.Transition(hedge.StatusPartial); err != nil {
		return nil, err
	}
	if err := s.positions.Update(ctx, position); err != nil {
		return nil, errors.Wrap(err, "failed to persist partial position")
	}

	metrics.HedgeCloses.WithLabelValues("partial").Inc()
	metrics.ManualInterventions.Inc()
	s.record(ctx, audit.EventPartialClose, req.UserID, position.ID, req.IPAddress, map[string]string{
		"closed_side":     closed.Step.Side.String(),
		"failed_side":     failedLeg.Step.Side.String(),
		"failed_exchange": failedLeg.Step.Exchange,
		"failed_error":    failedLeg.Err.Error(),
		"trade_id":        trade.ID.String(),
	})
	s.emit(ctx, position.ID, StagePartial, map[string]interface{}{
		"closed_side": closed.Step.Side.String(),
		"failed_side": failedLeg.Step.Side.String(),
	})
	s.events.HedgeClosed(ctx, position, trade)
	s.events.ManualIntervention(ctx, position, failedLeg.Err.Error())

	s.log.Errorw("Hedge partially closed, manual intervention required",
		"position_id", position.ID,
		"closed_side", closed.Step.Side,
		"failed_side", failedLeg.Step.Side,
		"failed_exchange", failedLeg.Step.Exchange,
		"error", failedLeg.Err,
	)

	return &CloseResult{
		Success:    false,
		Position:   position,
		Trade:      trade,
		ClosedSide: closed.Step.Side,
		FailedSide: failedLeg.Step.Side,
		FailedErr:  failedLeg.Err.Error(),
	}, nil
}

// revertClose handles both legs failing: no fill happened, so the position
// safely returns to OPEN and the close may be retried
func (s *Service) revertClose(ctx context.Context, position *hedge.Position, req CloseRequest, failed []*LegOutcome) error {
	cause := failed[0].Err
	for _, o := range failed[1:] {
		cause = pickLegError(cause, o.Err)
	}

	if err := position.Transition(hedge.StatusOpen); err != nil {
		return err
	}
	if err := s.positions.Update(ctx, position); err != nil {
		return errors.Wrap(err, "failed to revert position to open")
	}

	metrics.HedgeCloses.WithLabelValues("failed").Inc()
	s.record(ctx, audit.EventCloseFailed, req.UserID, position.ID, req.IPAddress, map[string]string{
		"reason": cause.Error(),
	})
	s.emit(ctx, position.ID, StageFailed, map[string]interface{}{
		"reason": cause.Error(),
	})

	s.log.Warnw("Hedge close failed on both legs, position remains open",
		"position_id", position.ID,
		"error", cause,
	)

	return errors.Wrapf(cause, "close failed, position %s remains open", position.ID)
}

// buildTrade computes settlement accounting for the closed legs.
//
// Price PnL sums what each settled leg realized:
//
//	long:  (exit - entry) * size
//	short: (entry - exit) * size
//
// Funding PnL is the accrual cached on the position while it was open. ROI is
// total PnL over the combined entry notional.
func (s *Service) buildTrade(position *hedge.Position, status hedge.TradeStatus, closedAt time.Time) *hedge.Trade {
	priceDiff := decimal.Zero
	if position.LongExitPrice.Valid {
		priceDiff = priceDiff.Add(
			position.LongExitPrice.Decimal.Sub(position.LongEntryPrice).Mul(position.LongPositionSize))
	}
	if position.ShortExitPrice.Valid {
		priceDiff = priceDiff.Add(
			position.ShortEntryPrice.Sub(position.ShortExitPrice.Decimal).Mul(position.ShortPositionSize))
	}

	funding := decimal.Zero
	if position.CachedFundingPnL.Valid {
		funding = position.CachedFundingPnL.Decimal
	}

	total := priceDiff.Add(funding)

	roi := decimal.Zero
	if notional := position.Notional(); !notional.IsZero() {
		roi = total.Div(notional)
	}

	openedAt := closedAt
	if position.OpenedAt != nil {
		openedAt = *position.OpenedAt
	}

	return &hedge.Trade{
		ID:         uuid.New(),
		PositionID: position.ID,
		UserID:     position.UserID,

		Symbol:        position.Symbol,
		LongExchange:  position.LongExchange,
		ShortExchange: position.ShortExchange,

		LongEntryPrice:  position.LongEntryPrice,
		LongExitPrice:   position.LongExitPrice,
		LongSize:        position.LongPositionSize,
		ShortEntryPrice: position.ShortEntryPrice,
		ShortExitPrice:  position.ShortExitPrice,
		ShortSize:       position.ShortPositionSize,

		OpenedAt:        openedAt,
		ClosedAt:        closedAt,
		HoldingDuration: int64(closedAt.Sub(openedAt).Seconds()),

		PriceDiffPnL:   priceDiff,
		FundingRatePnL: funding,
		TotalPnL:       total,
		ROI:            roi,

		Status: status,
	}
}

// applyExit writes one leg's close fill onto the position
func applyExit(position *hedge.Position, side hedge.LegSide, fill *exchanges.LegFill) {
	if side == hedge.LegLong {
		position.LongExitPrice = decimal.NullDecimal{Decimal: fill.Price, Valid: true}
		position.LongCloseOrderID = strPtr(fill.OrderID)
		return
	}
	position.ShortExitPrice = decimal.NullDecimal{Decimal: fill.Price, Valid: true}
	position.ShortCloseOrderID = strPtr(fill.OrderID)
}
