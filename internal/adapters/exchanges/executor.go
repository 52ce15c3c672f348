package exchanges

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"basis/internal/adapters/exchanges/ratelimit"
	"basis/internal/domain/hedge"
	"basis/internal/metrics"
	"basis/pkg/errors"
	"basis/pkg/logger"
)

// LegFill is the normalized result of one executed leg
type LegFill struct {
	OrderID  string
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Fee      decimal.Decimal
}

// LegExecutor places and closes single hedge legs on a venue. Each call is
// bounded by the configured per-leg timeout; a timed-out call is reported as
// an ordinary leg failure so the orchestrator's partial-failure handling
// applies. No retries happen here: blind retry of a financial order risks
// double execution.
type LegExecutor struct {
	registry *Registry
	limiters *ratelimit.MultiLimiter
	timeout  time.Duration
	log      *logger.Logger
}

// NewLegExecutor creates a leg executor over the venue registry
func NewLegExecutor(registry *Registry, limiters *ratelimit.MultiLimiter, timeout time.Duration) *LegExecutor {
	return &LegExecutor{
		registry: registry,
		limiters: limiters,
		timeout:  timeout,
		log:      logger.Get().With("component", "leg_executor"),
	}
}

// OpenLeg sets leverage and places a market order for one leg.
// Long legs buy, short legs sell.
func (e *LegExecutor) OpenLeg(ctx context.Context, exchange, symbol string, side hedge.LegSide, quantity decimal.Decimal, leverage int) (*LegFill, error) {
	venue, err := e.registry.Get(exchange)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.limiters.Wait(ctx, strings.ToLower(exchange)); err != nil {
		return nil, classifyVenueError(err)
	}

	if err := venue.SetLeverage(ctx, symbol, leverage); err != nil {
		return nil, errors.Wrapf(classifyVenueError(err), "set leverage on %s", exchange)
	}

	start := time.Now()
	order, err := venue.PlaceOrder(ctx, &OrderRequest{
		Symbol:   symbol,
		Side:     orderSideFor(side),
		Type:     OrderTypeMarket,
		Quantity: quantity,
	})
	metrics.LegLatency.WithLabelValues(exchange, "open").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LegFailures.WithLabelValues(exchange, "open").Inc()
		return nil, errors.Wrapf(classifyVenueError(err), "open %s leg on %s", side, exchange)
	}

	e.log.Infow("Leg opened",
		"exchange", exchange,
		"symbol", symbol,
		"side", side,
		"order_id", order.ID,
		"price", order.AvgFillPrice,
		"quantity", order.Filled,
	)

	return fillFromOrder(order), nil
}

// CloseLeg places a reduce-only market order unwinding one leg.
// Closing a long sells, closing a short buys.
func (e *LegExecutor) CloseLeg(ctx context.Context, exchange, symbol string, side hedge.LegSide, quantity decimal.Decimal, orderID string) (*LegFill, error) {
	venue, err := e.registry.Get(exchange)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.limiters.Wait(ctx, strings.ToLower(exchange)); err != nil {
		return nil, classifyVenueError(err)
	}

	start := time.Now()
	order, err := venue.PlaceOrder(ctx, &OrderRequest{
		Symbol:     symbol,
		Side:       orderSideFor(side.Opposite()),
		Type:       OrderTypeMarket,
		Quantity:   quantity,
		ReduceOnly: true,
	})
	metrics.LegLatency.WithLabelValues(exchange, "close").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LegFailures.WithLabelValues(exchange, "close").Inc()
		return nil, errors.Wrapf(classifyVenueError(err), "close %s leg on %s (entry order %s)", side, exchange, orderID)
	}

	e.log.Infow("Leg closed",
		"exchange", exchange,
		"symbol", symbol,
		"side", side,
		"order_id", order.ID,
		"price", order.AvgFillPrice,
		"quantity", order.Filled,
	)

	return fillFromOrder(order), nil
}

// FundingRate fetches the current funding rate on a venue
func (e *LegExecutor) FundingRate(ctx context.Context, exchange, symbol string) (decimal.Decimal, error) {
	venue, err := e.registry.Get(exchange)
	if err != nil {
		return decimal.Zero, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rate, err := venue.GetFundingRate(ctx, symbol)
	if err != nil {
		return decimal.Zero, errors.Wrapf(classifyVenueError(err), "funding rate on %s", exchange)
	}
	return rate.Rate, nil
}

func orderSideFor(side hedge.LegSide) OrderSide {
	if side == hedge.LegLong {
		return OrderSideBuy
	}
	return OrderSideSell
}

func fillFromOrder(order *Order) *LegFill {
	price := order.AvgFillPrice
	if price.IsZero() {
		price = order.Price
	}
	quantity := order.Filled
	if quantity.IsZero() {
		quantity = order.Quantity
	}

	return &LegFill{
		OrderID:  order.ID,
		Price:    price,
		Quantity: quantity,
		Fee:      order.Fee,
	}
}

// classifyVenueError maps transport-level failures into the domain taxonomy
// so orchestrators never see raw venue errors.
func classifyVenueError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(errors.ErrTimeout, "leg execution timed out")
	case errors.Is(err, ErrRateLimited):
		return errors.Wrap(errors.ErrRateLimitExceeded, err.Error())
	case errors.Is(err, errors.ErrInsufficientBalance),
		errors.Is(err, errors.ErrOrderRejected),
		errors.Is(err, errors.ErrInvalidSymbol),
		errors.Is(err, errors.ErrExchangeUnavailable):
		return err
	case strings.Contains(strings.ToLower(err.Error()), "insufficient"):
		return errors.Wrap(errors.ErrInsufficientBalance, err.Error())
	default:
		return errors.Wrap(errors.ErrExchangeUnavailable, err.Error())
	}
}
