package workers

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"basis/internal/adapters/exchanges"
	"basis/internal/domain/hedge"
)

// fundingPeriod is the settlement interval perpetual venues pay funding on
const fundingPeriod = 8 * time.Hour

// FundingWorker refreshes the running PnL metrics of open positions.
// Funding PnL is accrued pro rata per sweep from the current rate spread;
// unrealized PnL is marked from last trade prices. Both are cached on the
// position so group aggregation stays a pure read.
type FundingWorker struct {
	*BaseWorker
	positions hedge.Repository
	registry  *exchanges.Registry
}

// NewFundingWorker creates a funding refresh worker
func NewFundingWorker(positions hedge.Repository, registry *exchanges.Registry, interval time.Duration, enabled bool) *FundingWorker {
	return &FundingWorker{
		BaseWorker: NewBaseWorker("funding", interval, enabled),
		positions:  positions,
		registry:   registry,
	}
}

// Run refreshes cached metrics for every open position
func (w *FundingWorker) Run(ctx context.Context) error {
	open, err := w.positions.GetOpen(ctx)
	if err != nil {
		return err
	}

	for _, position := range open {
		if err := w.refresh(ctx, position); err != nil {
			w.Log().Warnw("Failed to refresh position metrics",
				"position_id", position.ID,
				"symbol", position.Symbol,
				"error", err,
			)
			continue
		}

		if err := w.positions.Update(ctx, position); err != nil {
			w.Log().Errorw("Failed to persist refreshed metrics",
				"position_id", position.ID,
				"error", err,
			)
		}
	}

	return nil
}

// refresh accrues funding and re-marks unrealized PnL for one position
func (w *FundingWorker) refresh(ctx context.Context, position *hedge.Position) error {
	longVenue, err := w.registry.Get(position.LongExchange)
	if err != nil {
		return err
	}
	shortVenue, err := w.registry.Get(position.ShortExchange)
	if err != nil {
		return err
	}

	longRate, err := longVenue.GetFundingRate(ctx, position.Symbol)
	if err != nil {
		return err
	}
	shortRate, err := shortVenue.GetFundingRate(ctx, position.Symbol)
	if err != nil {
		return err
	}

	// Shorts receive funding at a positive rate, longs pay it. Accrue the
	// spread over the fraction of the funding period this sweep covers.
	fraction := decimal.NewFromFloat(w.Interval().Seconds() / fundingPeriod.Seconds())
	longNotional := position.LongEntryPrice.Mul(position.LongPositionSize)
	shortNotional := position.ShortEntryPrice.Mul(position.ShortPositionSize)

	accrual := shortRate.Rate.Mul(shortNotional).
		Sub(longRate.Rate.Mul(longNotional)).
		Mul(fraction)

	cached := decimal.Zero
	if position.CachedFundingPnL.Valid {
		cached = position.CachedFundingPnL.Decimal
	}
	position.CachedFundingPnL = decimal.NullDecimal{Decimal: cached.Add(accrual), Valid: true}

	longTicker, err := longVenue.GetTicker(ctx, position.Symbol)
	if err != nil {
		return err
	}
	shortTicker, err := shortVenue.GetTicker(ctx, position.Symbol)
	if err != nil {
		return err
	}

	unrealized := longTicker.LastPrice.Sub(position.LongEntryPrice).Mul(position.LongPositionSize).
		Add(position.ShortEntryPrice.Sub(shortTicker.LastPrice).Mul(position.ShortPositionSize))
	position.UnrealizedPnL = decimal.NullDecimal{Decimal: unrealized, Valid: true}

	return nil
}
