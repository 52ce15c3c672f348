package hedge

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeStatus marks whether both legs or only one leg settled
type TradeStatus string

const (
	TradeSuccess TradeStatus = "success"
	TradePartial TradeStatus = "partial"
)

// Valid checks if trade status is valid
func (s TradeStatus) Valid() bool {
	return s == TradeSuccess || s == TradePartial
}

// String returns string representation
func (s TradeStatus) String() string {
	return string(s)
}

// Trade is the immutable settlement record written once a position fully or
// partially closes. It is created exactly once per close attempt that settled
// at least one leg and never mutated afterward.
type Trade struct {
	ID         uuid.UUID `db:"id"`
	PositionID uuid.UUID `db:"position_id"`
	UserID     uuid.UUID `db:"user_id"`

	Symbol        string `db:"symbol"`
	LongExchange  string `db:"long_exchange"`
	ShortExchange string `db:"short_exchange"`

	LongEntryPrice  decimal.Decimal     `db:"long_entry_price"`
	LongExitPrice   decimal.NullDecimal `db:"long_exit_price"`
	LongSize        decimal.Decimal     `db:"long_size"`
	ShortEntryPrice decimal.Decimal     `db:"short_entry_price"`
	ShortExitPrice  decimal.NullDecimal `db:"short_exit_price"`
	ShortSize       decimal.Decimal     `db:"short_size"`

	OpenedAt        time.Time `db:"opened_at"`
	ClosedAt        time.Time `db:"closed_at"`
	HoldingDuration int64     `db:"holding_duration"` // Duration in seconds

	PriceDiffPnL   decimal.Decimal `db:"price_diff_pnl"`
	FundingRatePnL decimal.Decimal `db:"funding_rate_pnl"`
	TotalPnL       decimal.Decimal `db:"total_pnl"`
	ROI            decimal.Decimal `db:"roi"`

	Status    TradeStatus `db:"status"`
	CreatedAt time.Time   `db:"created_at"`
}
