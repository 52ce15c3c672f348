package exchanges

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide defines buy or sell direction.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType defines supported order execution types.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus enumerates exchange level order lifecycle.
type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "new"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusUnknown  OrderStatus = "unknown"
)

// OrderRequest is the unified payload for order placement.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	ReduceOnly    bool
	ClientOrderID string
}

// Order represents a normalized exchange order.
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Type          OrderType
	Side          OrderSide
	Status        OrderStatus
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Filled        decimal.Decimal
	AvgFillPrice  decimal.Decimal
	Fee           decimal.Decimal
	ReduceOnly    bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Ticker contains 24h stats for a symbol.
type Ticker struct {
	Symbol       string
	LastPrice    decimal.Decimal
	BidPrice     decimal.Decimal
	AskPrice     decimal.Decimal
	VolumeBase   decimal.Decimal
	Change24hPct decimal.Decimal
	Timestamp    time.Time
}

// FundingRate contains current funding information.
type FundingRate struct {
	Symbol    string
	Rate      decimal.Decimal
	NextTime  time.Time
	Timestamp time.Time
}

// Balance describes wallet balances.
type Balance struct {
	Total     decimal.Decimal
	Available decimal.Decimal
	Currency  string
}
