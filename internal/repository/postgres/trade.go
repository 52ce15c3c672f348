package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"basis/internal/domain/hedge"
	"basis/pkg/errors"
)

// Compile-time check
var _ hedge.TradeRepository = (*TradeRepository)(nil)

// TradeRepository implements hedge.TradeRepository using sqlx.
// Trades are settlement records: inserted once, never updated.
type TradeRepository struct {
	db DBTX
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(db DBTX) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create inserts a new trade
func (r *TradeRepository) Create(ctx context.Context, t *hedge.Trade) error {
	query := `
		INSERT INTO trades (
			id, position_id, user_id,
			symbol, long_exchange, short_exchange,
			long_entry_price, long_exit_price, long_size,
			short_entry_price, short_exit_price, short_size,
			opened_at, closed_at, holding_duration,
			price_diff_pnl, funding_rate_pnl, total_pnl, roi,
			status, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, NOW()
		)`

	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.PositionID, t.UserID,
		t.Symbol, t.LongExchange, t.ShortExchange,
		t.LongEntryPrice, t.LongExitPrice, t.LongSize,
		t.ShortEntryPrice, t.ShortExitPrice, t.ShortSize,
		t.OpenedAt, t.ClosedAt, t.HoldingDuration,
		t.PriceDiffPnL, t.FundingRatePnL, t.TotalPnL, t.ROI,
		t.Status,
	)

	return err
}

// GetByPosition retrieves the trade settled for a position
func (r *TradeRepository) GetByPosition(ctx context.Context, positionID uuid.UUID) (*hedge.Trade, error) {
	var t hedge.Trade

	query := `SELECT * FROM trades WHERE position_id = $1`

	err := r.db.GetContext(ctx, &t, query, positionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "trade for position %s", positionID)
		}
		return nil, err
	}

	return &t, nil
}

// GetByUser retrieves all trades for a user
func (r *TradeRepository) GetByUser(ctx context.Context, userID uuid.UUID) ([]*hedge.Trade, error) {
	trades := make([]*hedge.Trade, 0)

	query := `
		SELECT * FROM trades
		WHERE user_id = $1
		ORDER BY closed_at DESC`

	if err := r.db.SelectContext(ctx, &trades, query, userID); err != nil {
		return nil, err
	}
	return trades, nil
}
