package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"basis/internal/domain/hedge"
	"basis/pkg/errors"
)

// Compile-time check
var _ hedge.Repository = (*PositionRepository)(nil)

// PositionRepository implements hedge.Repository using sqlx
type PositionRepository struct {
	db DBTX
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db DBTX) *PositionRepository {
	return &PositionRepository{db: db}
}

// Create inserts a new position
func (r *PositionRepository) Create(ctx context.Context, p *hedge.Position) error {
	query := `
		INSERT INTO positions (
			id, group_id, user_id,
			symbol, long_exchange, short_exchange, long_leverage, short_leverage,
			long_order_id, long_entry_price, long_position_size, long_exit_price, long_close_order_id,
			short_order_id, short_entry_price, short_position_size, short_exit_price, short_close_order_id,
			open_funding_rate_long, open_funding_rate_short,
			stop_loss_enabled, stop_loss_percent, take_profit_enabled, take_profit_percent,
			long_stop_price, short_stop_price, long_take_profit_price, short_take_profit_price,
			conditional_order_status, conditional_order_error,
			cached_funding_pnl, unrealized_pnl,
			status, opened_at, closed_at, failure_reason, close_reason, requires_manual_intervention,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33, $34, $35, $36, $37, $38, NOW(), NOW()
		)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.GroupID, p.UserID,
		p.Symbol, p.LongExchange, p.ShortExchange, p.LongLeverage, p.ShortLeverage,
		p.LongOrderID, p.LongEntryPrice, p.LongPositionSize, p.LongExitPrice, p.LongCloseOrderID,
		p.ShortOrderID, p.ShortEntryPrice, p.ShortPositionSize, p.ShortExitPrice, p.ShortCloseOrderID,
		p.OpenFundingRateLong, p.OpenFundingRateShort,
		p.StopLossEnabled, p.StopLossPercent, p.TakeProfitEnabled, p.TakeProfitPercent,
		p.LongStopPrice, p.ShortStopPrice, p.LongTakeProfitPrice, p.ShortTakeProfitPrice,
		p.ConditionalOrderStatus, p.ConditionalOrderError,
		p.CachedFundingPnL, p.UnrealizedPnL,
		p.Status, p.OpenedAt, p.ClosedAt, p.FailureReason, p.CloseReason, p.RequiresManualIntervention,
	)

	return err
}

// GetByID retrieves a position by ID
func (r *PositionRepository) GetByID(ctx context.Context, id uuid.UUID) (*hedge.Position, error) {
	var p hedge.Position

	query := `SELECT * FROM positions WHERE id = $1`

	err := r.db.GetContext(ctx, &p, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrPositionNotFound, "%s", id)
		}
		return nil, err
	}

	return &p, nil
}

// GetByUser retrieves a user's positions, optionally filtered by status
func (r *PositionRepository) GetByUser(ctx context.Context, userID uuid.UUID, statuses ...hedge.Status) ([]*hedge.Position, error) {
	positions := make([]*hedge.Position, 0)

	if len(statuses) == 0 {
		query := `
			SELECT * FROM positions
			WHERE user_id = $1
			ORDER BY created_at ASC`

		if err := r.db.SelectContext(ctx, &positions, query, userID); err != nil {
			return nil, err
		}
		return positions, nil
	}

	filter := make([]string, 0, len(statuses))
	for _, s := range statuses {
		filter = append(filter, s.String())
	}

	query := `
		SELECT * FROM positions
		WHERE user_id = $1 AND status = ANY($2)
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &positions, query, userID, pq.Array(filter)); err != nil {
		return nil, err
	}
	return positions, nil
}

// Update persists a position's mutable fields
func (r *PositionRepository) Update(ctx context.Context, p *hedge.Position) error {
	query := `
		UPDATE positions SET
			long_order_id = $2,
			long_entry_price = $3,
			long_position_size = $4,
			long_exit_price = $5,
			long_close_order_id = $6,
			short_order_id = $7,
			short_entry_price = $8,
			short_position_size = $9,
			short_exit_price = $10,
			short_close_order_id = $11,
			open_funding_rate_long = $12,
			open_funding_rate_short = $13,
			long_stop_price = $14,
			short_stop_price = $15,
			long_take_profit_price = $16,
			short_take_profit_price = $17,
			conditional_order_status = $18,
			conditional_order_error = $19,
			cached_funding_pnl = $20,
			unrealized_pnl = $21,
			status = $22,
			opened_at = $23,
			closed_at = $24,
			failure_reason = $25,
			close_reason = $26,
			requires_manual_intervention = $27,
			updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.LongOrderID, p.LongEntryPrice, p.LongPositionSize, p.LongExitPrice, p.LongCloseOrderID,
		p.ShortOrderID, p.ShortEntryPrice, p.ShortPositionSize, p.ShortExitPrice, p.ShortCloseOrderID,
		p.OpenFundingRateLong, p.OpenFundingRateShort,
		p.LongStopPrice, p.ShortStopPrice, p.LongTakeProfitPrice, p.ShortTakeProfitPrice,
		p.ConditionalOrderStatus, p.ConditionalOrderError,
		p.CachedFundingPnL, p.UnrealizedPnL,
		p.Status, p.OpenedAt, p.ClosedAt, p.FailureReason, p.CloseReason, p.RequiresManualIntervention,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrPositionNotFound, "%s", p.ID)
	}

	return nil
}

// GetOpen retrieves all open positions across users
func (r *PositionRepository) GetOpen(ctx context.Context) ([]*hedge.Position, error) {
	positions := make([]*hedge.Position, 0)

	query := `
		SELECT * FROM positions
		WHERE status = 'open'
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &positions, query); err != nil {
		return nil, err
	}
	return positions, nil
}

// GetStuckInTransition retrieves positions left in OPENING/CLOSING past the
// lock lease, typically after a crash mid-flight
func (r *PositionRepository) GetStuckInTransition(ctx context.Context, olderThan time.Time) ([]*hedge.Position, error) {
	positions := make([]*hedge.Position, 0)

	query := `
		SELECT * FROM positions
		WHERE status IN ('opening', 'closing')
		  AND updated_at < $1
		ORDER BY updated_at ASC`

	if err := r.db.SelectContext(ctx, &positions, query, olderThan); err != nil {
		return nil, err
	}
	return positions, nil
}
