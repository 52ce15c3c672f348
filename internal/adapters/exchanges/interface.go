package exchanges

import (
	"context"
)

// Exchange defines the unified contract each venue adapter must satisfy.
// Implementations own transport and authentication; the hedge orchestrator
// only sees normalized types and classified errors.
type Exchange interface {
	Name() string

	// Market data
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetFundingRate(ctx context.Context, symbol string) (*FundingRate, error)

	// Account
	GetBalance(ctx context.Context) (*Balance, error)

	// Trading
	PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// Futures specific
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}
