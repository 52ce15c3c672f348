package hedge

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Position represents one market-neutral hedge: a long leg on one exchange
// matched by a short leg of equal size on another, capturing the funding-rate
// spread between the venues. A position may also be one member of a split
// hedge group sharing a GroupID.
type Position struct {
	ID      uuid.UUID `db:"id"`
	GroupID uuid.UUID `db:"group_id"`
	UserID  uuid.UUID `db:"user_id"`

	Symbol        string `db:"symbol"`
	LongExchange  string `db:"long_exchange"`
	ShortExchange string `db:"short_exchange"`
	LongLeverage  int    `db:"long_leverage"`
	ShortLeverage int    `db:"short_leverage"`

	// Long leg
	LongOrderID      string              `db:"long_order_id"`
	LongEntryPrice   decimal.Decimal     `db:"long_entry_price"`
	LongPositionSize decimal.Decimal     `db:"long_position_size"`
	LongExitPrice    decimal.NullDecimal `db:"long_exit_price"`
	LongCloseOrderID *string             `db:"long_close_order_id"`

	// Short leg
	ShortOrderID      string              `db:"short_order_id"`
	ShortEntryPrice   decimal.Decimal     `db:"short_entry_price"`
	ShortPositionSize decimal.Decimal     `db:"short_position_size"`
	ShortExitPrice    decimal.NullDecimal `db:"short_exit_price"`
	ShortCloseOrderID *string             `db:"short_close_order_id"`

	// Funding rates captured at open time
	OpenFundingRateLong  decimal.NullDecimal `db:"open_funding_rate_long"`
	OpenFundingRateShort decimal.NullDecimal `db:"open_funding_rate_short"`

	// Risk configuration
	StopLossEnabled        bool                   `db:"stop_loss_enabled"`
	StopLossPercent        decimal.NullDecimal    `db:"stop_loss_percent"`
	TakeProfitEnabled      bool                   `db:"take_profit_enabled"`
	TakeProfitPercent      decimal.NullDecimal    `db:"take_profit_percent"`
	LongStopPrice          decimal.NullDecimal    `db:"long_stop_price"`
	ShortStopPrice         decimal.NullDecimal    `db:"short_stop_price"`
	LongTakeProfitPrice    decimal.NullDecimal    `db:"long_take_profit_price"`
	ShortTakeProfitPrice   decimal.NullDecimal    `db:"short_take_profit_price"`
	ConditionalOrderStatus ConditionalOrderStatus `db:"conditional_order_status"`
	ConditionalOrderError  *string                `db:"conditional_order_error"`

	// Running metrics
	CachedFundingPnL decimal.NullDecimal `db:"cached_funding_pnl"`
	UnrealizedPnL    decimal.NullDecimal `db:"unrealized_pnl"`

	// Lifecycle
	Status                     Status     `db:"status"`
	OpenedAt                   *time.Time `db:"opened_at"`
	ClosedAt                   *time.Time `db:"closed_at"`
	FailureReason              *string    `db:"failure_reason"`
	CloseReason                *string    `db:"close_reason"`
	RequiresManualIntervention bool       `db:"requires_manual_intervention"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// LegSide identifies one side of a hedge
type LegSide string

const (
	LegLong  LegSide = "long"
	LegShort LegSide = "short"
)

// String returns string representation
func (s LegSide) String() string {
	return string(s)
}

// Opposite returns the other side
func (s LegSide) Opposite() LegSide {
	if s == LegLong {
		return LegShort
	}
	return LegLong
}

// ConditionalOrderStatus tracks stop-loss/take-profit order placement
type ConditionalOrderStatus string

const (
	ConditionalNone    ConditionalOrderStatus = "none"
	ConditionalPending ConditionalOrderStatus = "pending"
	ConditionalPlaced  ConditionalOrderStatus = "placed"
	ConditionalFailed  ConditionalOrderStatus = "failed"
)

// Exchange returns the venue for the given leg
func (p *Position) Exchange(side LegSide) string {
	if side == LegLong {
		return p.LongExchange
	}
	return p.ShortExchange
}

// Notional returns the combined entry notional of both legs
func (p *Position) Notional() decimal.Decimal {
	long := p.LongEntryPrice.Mul(p.LongPositionSize)
	short := p.ShortEntryPrice.Mul(p.ShortPositionSize)
	return long.Add(short)
}

// ApplyRiskConfig derives per-leg trigger prices from the configured
// stop-loss/take-profit percents. Must be called after entry prices are set.
func (p *Position) ApplyRiskConfig() {
	hundred := decimal.NewFromInt(100)

	if p.StopLossEnabled && p.StopLossPercent.Valid {
		frac := p.StopLossPercent.Decimal.Div(hundred)
		p.LongStopPrice = decimal.NullDecimal{
			Decimal: p.LongEntryPrice.Mul(decimal.NewFromInt(1).Sub(frac)),
			Valid:   true,
		}
		p.ShortStopPrice = decimal.NullDecimal{
			Decimal: p.ShortEntryPrice.Mul(decimal.NewFromInt(1).Add(frac)),
			Valid:   true,
		}
	}

	if p.TakeProfitEnabled && p.TakeProfitPercent.Valid {
		frac := p.TakeProfitPercent.Decimal.Div(hundred)
		p.LongTakeProfitPrice = decimal.NullDecimal{
			Decimal: p.LongEntryPrice.Mul(decimal.NewFromInt(1).Add(frac)),
			Valid:   true,
		}
		p.ShortTakeProfitPrice = decimal.NullDecimal{
			Decimal: p.ShortEntryPrice.Mul(decimal.NewFromInt(1).Sub(frac)),
			Valid:   true,
		}
	}

	if p.StopLossEnabled || p.TakeProfitEnabled {
		p.ConditionalOrderStatus = ConditionalPending
	} else {
		p.ConditionalOrderStatus = ConditionalNone
	}
}
