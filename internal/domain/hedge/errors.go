package hedge

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RollbackFailedError is raised when a single leg filled, its counterpart
// failed, and the compensating close of the filled leg also failed. Real
// market exposure remains that the system could not unwind: the carried
// fields identify the order an operator must close on the exchange directly.
type RollbackFailedError struct {
	Exchange string
	OrderID  string
	Side     LegSide
	Quantity decimal.Decimal
	Cause    error
}

// Error implements the error interface
func (e *RollbackFailedError) Error() string {
	return fmt.Sprintf(
		"rollback failed: %s leg order %s on %s (qty %s) remains open in the market: %v",
		e.Side, e.OrderID, e.Exchange, e.Quantity, e.Cause,
	)
}

// Unwrap returns the underlying compensation error
func (e *RollbackFailedError) Unwrap() error {
	return e.Cause
}
