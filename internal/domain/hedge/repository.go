package hedge

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines position persistence. Implementations must provide
// read-your-writes consistency within a single orchestrator run.
type Repository interface {
	Create(ctx context.Context, p *Position) error
	GetByID(ctx context.Context, id uuid.UUID) (*Position, error)
	GetByUser(ctx context.Context, userID uuid.UUID, statuses ...Status) ([]*Position, error)
	Update(ctx context.Context, p *Position) error

	// GetOpen returns all OPEN positions across users, for background
	// metric refresh.
	GetOpen(ctx context.Context) ([]*Position, error)

	// GetStuckInTransition returns positions left in OPENING/CLOSING longer
	// than the lock lease allows, typically after a process crash mid-flight.
	GetStuckInTransition(ctx context.Context, olderThan time.Time) ([]*Position, error)
}

// TradeRepository persists immutable settlement records
type TradeRepository interface {
	Create(ctx context.Context, t *Trade) error
	GetByPosition(ctx context.Context, positionID uuid.UUID) (*Trade, error)
	GetByUser(ctx context.Context, userID uuid.UUID) ([]*Trade, error)
}
