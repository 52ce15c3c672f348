package hedge

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"basis/internal/adapters/exchanges"
	"basis/internal/domain/audit"
	"basis/internal/domain/hedge"
	"basis/internal/locks"
	"basis/pkg/errors"
)

// MockPositionRepository is a mock for hedge.Repository
type MockPositionRepository struct {
	mock.Mock
}

func (m *MockPositionRepository) Create(ctx context.Context, p *hedge.Position) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockPositionRepository) GetByID(ctx context.Context, id uuid.UUID) (*hedge.Position, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*hedge.Position), args.Error(1)
}

func (m *MockPositionRepository) GetByUser(ctx context.Context, userID uuid.UUID, statuses ...hedge.Status) ([]*hedge.Position, error) {
	args := m.Called(ctx, userID, statuses)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*hedge.Position), args.Error(1)
}

func (m *MockPositionRepository) Update(ctx context.Context, p *hedge.Position) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockPositionRepository) GetOpen(ctx context.Context) ([]*hedge.Position, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*hedge.Position), args.Error(1)
}

func (m *MockPositionRepository) GetStuckInTransition(ctx context.Context, olderThan time.Time) ([]*hedge.Position, error) {
	args := m.Called(ctx, olderThan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*hedge.Position), args.Error(1)
}

// MockTradeRepository is a mock for hedge.TradeRepository
type MockTradeRepository struct {
	mock.Mock
}

func (m *MockTradeRepository) Create(ctx context.Context, t *hedge.Trade) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockTradeRepository) GetByPosition(ctx context.Context, positionID uuid.UUID) (*hedge.Trade, error) {
	args := m.Called(ctx, positionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*hedge.Trade), args.Error(1)
}

func (m *MockTradeRepository) GetByUser(ctx context.Context, userID uuid.UUID) ([]*hedge.Trade, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*hedge.Trade), args.Error(1)
}

// MockLegExecutor is a mock for LegExecutor
type MockLegExecutor struct {
	mock.Mock
}

func (m *MockLegExecutor) OpenLeg(ctx context.Context, exchange, symbol string, side hedge.LegSide, quantity decimal.Decimal, leverage int) (*exchanges.LegFill, error) {
	args := m.Called(ctx, exchange, symbol, side, quantity, leverage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exchanges.LegFill), args.Error(1)
}

func (m *MockLegExecutor) CloseLeg(ctx context.Context, exchange, symbol string, side hedge.LegSide, quantity decimal.Decimal, orderID string) (*exchanges.LegFill, error) {
	args := m.Called(ctx, exchange, symbol, side, quantity, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exchanges.LegFill), args.Error(1)
}

func (m *MockLegExecutor) FundingRate(ctx context.Context, exchange, symbol string) (decimal.Decimal, error) {
	args := m.Called(ctx, exchange, symbol)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// MockAuditLogger is a mock for audit.Logger
type MockAuditLogger struct {
	mock.Mock
}

func (m *MockAuditLogger) Log(ctx context.Context, entry audit.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

type testDeps struct {
	positions *MockPositionRepository
	trades    *MockTradeRepository
	executor  *MockLegExecutor
	auditor   *MockAuditLogger
	locks     *locks.MemoryManager
	reporter  *ChannelReporter
	service   *Service
}

func newTestService(t *testing.T) *testDeps {
	t.Helper()

	d := &testDeps{
		positions: new(MockPositionRepository),
		trades:    new(MockTradeRepository),
		executor:  new(MockLegExecutor),
		auditor:   new(MockAuditLogger),
		locks:     locks.NewMemoryManager(time.Minute),
		reporter:  NewChannelReporter(64),
	}
	t.Cleanup(d.locks.Close)

	d.auditor.On("Log", mock.Anything, mock.Anything).Return(nil).Maybe()
	d.service = NewService(d.positions, d.trades, d.locks, d.executor, d.auditor, d.reporter, nil)
	return d
}

func (d *testDeps) stages() []Stage {
	stages := make([]Stage, 0)
	for {
		select {
		case ev := <-d.reporter.Events():
			stages = append(stages, ev.Stage)
		default:
			return stages
		}
	}
}

func validOpenRequest() OpenRequest {
	return OpenRequest{
		UserID:        uuid.New(),
		Symbol:        "BTCUSDT",
		LongExchange:  "binance",
		ShortExchange: "bybit",
		Quantity:      decimal.NewFromFloat(0.1),
		LongLeverage:  3,
		ShortLeverage: 3,
	}
}

func legFill(orderID, price string) *exchanges.LegFill {
	return &exchanges.LegFill{
		OrderID:  orderID,
		Price:    mustDec(price),
		Quantity: decimal.NewFromFloat(0.1),
	}
}

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func openPosition(userID uuid.UUID) *hedge.Position {
	openedAt := time.Now().Add(-2 * time.Hour)
	return &hedge.Position{
		ID:                uuid.New(),
		GroupID:           uuid.New(),
		UserID:            userID,
		Symbol:            "BTCUSDT",
		LongExchange:      "binance",
		ShortExchange:     "bybit",
		LongOrderID:       "lo-1",
		LongEntryPrice:    mustDec("50000"),
		LongPositionSize:  mustDec("0.1"),
		ShortOrderID:      "so-1",
		ShortEntryPrice:   mustDec("50100"),
		ShortPositionSize: mustDec("0.1"),
		CachedFundingPnL:  decimal.NullDecimal{Decimal: mustDec("2"), Valid: true},
		Status:            hedge.StatusOpen,
		OpenedAt:          &openedAt,
	}
}

func TestOpenPositionSuccess(t *testing.T) {
	d := newTestService(t)
	req := validOpenRequest()
	req.StopLossEnabled = true
	req.StopLossPercent = decimal.NullDecimal{Decimal: mustDec("2"), Valid: true}

	d.positions.On("Create", mock.Anything, mock.Anything).Return(nil)
	d.positions.On("Update", mock.Anything, mock.Anything).Return(nil)
	d.executor.On("FundingRate", mock.Anything, "binance", "BTCUSDT").Return(mustDec("0.0001"), nil)
	d.executor.On("FundingRate", mock.Anything, "bybit", "BTCUSDT").Return(mustDec("0.0004"), nil)
	d.executor.On("OpenLeg", mock.Anything, "binance", "BTCUSDT", hedge.LegLong, mock.Anything, 3).
		Return(legFill("long-1", "50000"), nil)
	d.executor.On("OpenLeg", mock.Anything, "bybit", "BTCUSDT", hedge.LegShort, mock.Anything, 3).
		Return(legFill("short-1", "50100"), nil)

	position, err := d.service.OpenPosition(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, hedge.StatusOpen, position.Status)
	assert.Equal(t, "long-1", position.LongOrderID)
	assert.Equal(t, "short-1", position.ShortOrderID)
	assert.True(t, position.LongEntryPrice.Equal(mustDec("50000")))
	assert.True(t, position.ShortEntryPrice.Equal(mustDec("50100")))
	require.NotNil(t, position.OpenedAt)
	assert.True(t, position.OpenFundingRateLong.Valid)
	assert.True(t, position.OpenFundingRateShort.Valid)
	// Risk config derived from fills
	require.True(t, position.LongStopPrice.Valid)
	assert.True(t, position.LongStopPrice.Decimal.Equal(mustDec("49000")))

	assert.Equal(t, []Stage{StageValidating, StageSubmitted, StageSuccess}, d.stages())
	d.trades.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestOpenPositionValidation(t *testing.T) {
	d := newTestService(t)

	req := validOpenRequest()
	req.ShortExchange = req.LongExchange

	_, err := d.service.OpenPosition(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
	d.positions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)

	req = validOpenRequest()
	req.Quantity = decimal.Zero
	_, err = d.service.OpenPosition(context.Background(), req)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestOpenPositionLockConflict(t *testing.T) {
	d := newTestService(t)
	req := validOpenRequest()

	_, err := d.locks.Acquire(context.Background(), locks.OpenKey(req.UserID, req.Symbol))
	require.NoError(t, err)

	_, err = d.service.OpenPosition(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLockConflict))
	d.positions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestOpenPositionLockReleasedAfterFailure(t *testing.T) {
	d := newTestService(t)
	req := validOpenRequest()

	d.positions.On("Create", mock.Anything, mock.Anything).Return(nil)
	d.positions.On("Update", mock.Anything, mock.Anything).Return(nil)
	d.executor.On("FundingRate", mock.Anything, mock.Anything, mock.Anything).Return(decimal.Zero, errors.ErrExchangeUnavailable)
	d.executor.On("OpenLeg", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.ErrExchangeUnavailable)

	_, err := d.service.OpenPosition(context.Background(), req)
	require.Error(t, err)

	// The open key must be free again after the failed attempt
	lease, err := d.locks.Acquire(context.Background(), locks.OpenKey(req.UserID, req.Symbol))
	require.NoError(t, err)
	require.NotNil(t, lease)
}

func TestOpenPositionBothLegsFail(t *testing.T) {
	d := newTestService(t)
	req := validOpenRequest()

	d.positions.On("Create", mock.Anything, mock.Anything).Return(nil)
	d.positions.On("Update", mock.Anything, mock.Anything).Return(nil)
	d.executor.On("FundingRate", mock.Anything, mock.Anything, mock.Anything).Return(decimal.Zero, errors.ErrExchangeUnavailable)
	d.executor.On("OpenLeg", mock.Anything, "binance", "BTCUSDT", hedge.LegLong, mock.Anything, 3).
		Return(nil, errors.Wrap(errors.ErrExchangeUnavailable, "binance down"))
	d.executor.On("OpenLeg", mock.Anything, "bybit", "BTCUSDT", hedge.LegShort, mock.Anything, 3).
		Return(nil, errors.Wrap(errors.ErrInsufficientBalance, "bybit wallet"))

	_, err := d.service.OpenPosition(context.Background(), req)

	require.Error(t, err)
	// The more actionable error wins
	assert.True(t, errors.Is(err, errors.ErrInsufficientBalance))
	d.executor.AssertNotCalled(t, "CloseLeg", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	d.trades.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	assert.Equal(t, []Stage{StageValidating, StageSubmitted, StageFailed}, d.stages())
}

func TestOpenPositionRollbackSuccess(t *testing.T) {
	d := newTestService(t)
	req := validOpenRequest()

	var persisted *hedge.Position
	d.positions.On("Create", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		persisted = args.Get(1).(*hedge.Position)
	})
	d.positions.On("Update", mock.Anything, mock.Anything).Return(nil)
	d.executor.On("FundingRate", mock.Anything, mock.Anything, mock.Anything).Return(decimal.Zero, errors.ErrExchangeUnavailable)
	d.executor.On("OpenLeg", mock.Anything, "binance", "BTCUSDT", hedge.LegLong, mock.Anything, 3).
		Return(legFill("long-1", "50000"), nil)
	d.executor.On("OpenLeg", mock.Anything, "bybit", "BTCUSDT", hedge.LegShort, mock.Anything, 3).
		Return(nil, errors.Wrap(errors.ErrOrderRejected, "reduce only"))
	d.executor.On("CloseLeg", mock.Anything, "binance", "BTCUSDT", hedge.LegLong, mock.Anything, "long-1").
		Return(legFill("close-1", "50001"), nil)

	_, err := d.service.OpenPosition(context.Background(), req)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrOrderRejected))

	var rollback *hedge.RollbackFailedError
	assert.False(t, errors.As(err, &rollback))

	require.NotNil(t, persisted)
	assert.Equal(t, hedge.StatusFailed, persisted.Status)
	assert.False(t, persisted.RequiresManualIntervention)
	d.executor.AssertCalled(t, "CloseLeg", mock.Anything, "binance", "BTCUSDT", hedge.LegLong, mock.Anything, "long-1")
	d.trades.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestOpenPositionRollbackFailure(t *testing.T) {
	d := newTestService(t)
	req := validOpenRequest()

	var persisted *hedge.Position
	d.positions.On("Create", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		persisted = args.Get(1).(*hedge.Position)
	})
	d.positions.On("Update", mock.Anything, mock.Anything).Return(nil)
	d.executor.On("FundingRate", mock.Anything, mock.Anything, mock.Anything).Return(decimal.Zero, errors.ErrExchangeUnavailable)
	d.executor.On("OpenLeg", mock.Anything, "binance", "BTCUSDT", hedge.LegLong, mock.Anything, 3).
		Return(nil, errors.Wrap(errors.ErrTimeout, "binance slow"))
	d.executor.On("OpenLeg", mock.Anything, "bybit", "BTCUSDT", hedge.LegShort, mock.Anything, 3).
		Return(legFill("short-1", "50100"), nil)
	d.executor.On("CloseLeg", mock.Anything, "bybit", "BTCUSDT", hedge.LegShort, mock.Anything, "short-1").
		Return(nil, errors.Wrap(errors.ErrExchangeUnavailable, "bybit down"))

	_, err := d.service.OpenPosition(context.Background(), req)

	require.Error(t, err)
	var rollback *hedge.RollbackFailedError
	require.True(t, errors.As(err, &rollback))
	assert.Equal(t, "bybit", rollback.Exchange)
	assert.Equal(t, "short-1", rollback.OrderID)
	assert.Equal(t, hedge.LegShort, rollback.Side)
	assert.True(t, rollback.Quantity.Equal(mustDec("0.1")))

	require.NotNil(t, persisted)
	assert.Equal(t, hedge.StatusFailed, persisted.Status)
	assert.True(t, persisted.RequiresManualIntervention)
	assert.Equal(t, []Stage{StageValidating, StageSubmitted, StageRollbackFailed}, d.stages())
}

func TestOpenPositionCompensatesAfterCallerDisconnect(t *testing.T) {
	d := newTestService(t)
	req := validOpenRequest()

	reqCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var persisted *hedge.Position
	d.positions.On("Create", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		persisted = args.Get(1).(*hedge.Position)
	})
	d.positions.On("Update", mock.Anything, mock.Anything).Return(nil)
	d.executor.On("FundingRate", mock.Anything, mock.Anything, mock.Anything).Return(decimal.Zero, errors.ErrExchangeUnavailable)
	d.executor.On("OpenLeg", mock.Anything, "binance", "BTCUSDT", hedge.LegLong, mock.Anything, 3).
		Return(legFill("long-1", "50000"), nil)
	// The caller goes away exactly as the short leg fails
	d.executor.On("OpenLeg", mock.Anything, "bybit", "BTCUSDT", hedge.LegShort, mock.Anything, 3).
		Return(nil, errors.Wrap(errors.ErrTimeout, "bybit slow")).
		Run(func(mock.Arguments) { cancel() })

	var closeCtxErr error
	d.executor.On("CloseLeg", mock.Anything, "binance", "BTCUSDT", hedge.LegLong, mock.Anything, "long-1").
		Return(legFill("close-1", "50001"), nil).
		Run(func(args mock.Arguments) {
			closeCtxErr = args.Get(0).(context.Context).Err()
		})

	_, err := d.service.OpenPosition(reqCtx, req)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTimeout))
	// A healthy leg was unwound cleanly; no manual intervention
	var rollback *hedge.RollbackFailedError
	assert.False(t, errors.As(err, &rollback))

	d.executor.AssertCalled(t, "CloseLeg", mock.Anything, "binance", "BTCUSDT", hedge.LegLong, mock.Anything, "long-1")
	assert.NoError(t, closeCtxErr, "compensating close ran on the dead request context")

	require.NotNil(t, persisted)
	assert.Equal(t, hedge.StatusFailed, persisted.Status)
	assert.False(t, persisted.RequiresManualIntervention)
}

func TestClosePositionSuccess(t *testing.T) {
	d := newTestService(t)
	userID := uuid.New()
	position := openPosition(userID)

	var createdTrade *hedge.Trade
	d.positions.On("GetByID", mock.Anything, position.ID).Return(position, nil)
	d.positions.On("Update", mock.Anything, mock.Anything).Return(nil)
	d.trades.On("Create", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		createdTrade = args.Get(1).(*hedge.Trade)
	})
	d.executor.On("CloseLeg", mock.Anything, "binance", "BTCUSDT", hedge.LegLong, mock.Anything, "lo-1").
		Return(legFill("lc-1", "50500"), nil)
	d.executor.On("CloseLeg", mock.Anything, "bybit", "BTCUSDT", hedge.LegShort, mock.Anything, "so-1").
		Return(legFill("sc-1", "50400"), nil)

	result, err := d.service.ClosePosition(context.Background(), CloseRequest{
		UserID:     userID,
		PositionID: position.ID,
		Reason:     "take profit",
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, hedge.StatusClosed, position.Status)

	require.NotNil(t, createdTrade)
	assert.Equal(t, hedge.TradeSuccess, createdTrade.Status)
	// long: (50500-50000)*0.1 = 50, short: (50100-50400)*0.1 = -30
	assert.True(t, createdTrade.PriceDiffPnL.Equal(mustDec("20")), "got %s", createdTrade.PriceDiffPnL)
	assert.True(t, createdTrade.FundingRatePnL.Equal(mustDec("2")))
	assert.True(t, createdTrade.TotalPnL.Equal(mustDec("22")))
	// roi = 22 / (50000*0.1 + 50100*0.1)
	assert.True(t, createdTrade.ROI.Equal(mustDec("22").Div(mustDec("10010"))))
	assert.GreaterOrEqual(t, createdTrade.HoldingDuration, int64(7000))

	assert.Equal(t, []Stage{StageValidating, StageSubmitted, StageSuccess}, d.stages())
}

func TestClosePositionPartial(t *testing.T) {
	d := newTestService(t)
	userID := uuid.New()
	position := openPosition(userID)

	var createdTrade *hedge.Trade
	d.positions.On("GetByID", mock.Anything, position.ID).Return(position, nil)
	d.positions.On("Update", mock.Anything, mock.Anything).Return(nil)
	d.trades.On("Create", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		createdTrade = args.Get(1).(*hedge.Trade)
	})
	d.executor.On("CloseLeg", mock.Anything, "binance", "BTCUSDT", hedge.LegLong, mock.Anything, "lo-1").
		Return(legFill("lc-1", "50500"), nil)
	d.executor.On("CloseLeg", mock.Anything, "bybit", "BTCUSDT", hedge.LegShort, mock.Anything, "so-1").
		Return(nil, errors.Wrap(errors.ErrExchangeUnavailable, "bybit down"))

	result, err := d.service.ClosePosition(context.Background(), CloseRequest{
		UserID:     userID,
		PositionID: position.ID,
		Reason:     "manual",
	})

	// Partial is a result, not an error
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, hedge.LegLong, result.ClosedSide)
	assert.Equal(t, hedge.LegShort, result.FailedSide)

	assert.Equal(t, hedge.StatusPartial, position.Status)
	assert.True(t, position.RequiresManualIntervention)
	assert.True(t, position.LongExitPrice.Valid)
	assert.False(t, position.ShortExitPrice.Valid)

	require.NotNil(t, createdTrade)
	assert.Equal(t, hedge.TradePartial, createdTrade.Status)
	// Only the settled long leg contributes price PnL
	assert.True(t, createdTrade.PriceDiffPnL.Equal(mustDec("50")))

	assert.Equal(t, []Stage{StageValidating, StageSubmitted, StagePartial}, d.stages())
}

func TestClosePositionSettlesAfterCallerDisconnect(t *testing.T) {
	d := newTestService(t)
	userID := uuid.New()
	position := openPosition(userID)

	reqCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var tradeCtxErr error
	d.positions.On("GetByID", mock.Anything, position.ID).Return(position, nil)
	d.positions.On("Update", mock.Anything, mock.Anything).Return(nil)
	d.trades.On("Create", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		tradeCtxErr = args.Get(0).(context.Context).Err()
	})
	d.executor.On("CloseLeg", mock.Anything, "binance", "BTCUSDT", hedge.LegLong, mock.Anything, "lo-1").
		Return(legFill("lc-1", "50500"), nil).
		Run(func(mock.Arguments) { cancel() })
	d.executor.On("CloseLeg", mock.Anything, "bybit", "BTCUSDT", hedge.LegShort, mock.Anything, "so-1").
		Return(legFill("sc-1", "50400"), nil)

	result, err := d.service.ClosePosition(reqCtx, CloseRequest{
		UserID:     userID,
		PositionID: position.ID,
		Reason:     "take profit",
	})

	// Both legs settled; the disconnect must not lose the trade record
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, hedge.StatusClosed, position.Status)
	d.trades.AssertCalled(t, "Create", mock.Anything, mock.Anything)
	assert.NoError(t, tradeCtxErr, "trade was persisted on the dead request context")
}

func TestClosePositionBothLegsFailRemainsOpen(t *testing.T) {
	d := newTestService(t)
	userID := uuid.New()
	position := openPosition(userID)

	d.positions.On("GetByID", mock.Anything, position.ID).Return(position, nil)
	d.positions.On("Update", mock.Anything, mock.Anything).Return(nil)
	d.executor.On("CloseLeg", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.Wrap(errors.ErrExchangeUnavailable, "both down"))

	_, err := d.service.ClosePosition(context.Background(), CloseRequest{
		UserID:     userID,
		PositionID: position.ID,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrExchangeUnavailable))
	// Retriable: position reverted to OPEN, nothing settled
	assert.Equal(t, hedge.StatusOpen, position.Status)
	assert.False(t, position.RequiresManualIntervention)
	d.trades.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)

	// A retry acquires the lock cleanly
	lease, lockErr := d.locks.Acquire(context.Background(), locks.CloseKey(position.ID))
	require.NoError(t, lockErr)
	require.NotNil(t, lease)
}

func TestClosePositionPartialIsTerminal(t *testing.T) {
	d := newTestService(t)
	userID := uuid.New()
	position := openPosition(userID)
	position.Status = hedge.StatusPartial

	d.positions.On("GetByID", mock.Anything, position.ID).Return(position, nil)

	_, err := d.service.ClosePosition(context.Background(), CloseRequest{
		UserID:     userID,
		PositionID: position.ID,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPartialTerminal))
	d.executor.AssertNotCalled(t, "CloseLeg", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestClosePositionNotOpen(t *testing.T) {
	d := newTestService(t)
	userID := uuid.New()
	position := openPosition(userID)
	position.Status = hedge.StatusFailed

	d.positions.On("GetByID", mock.Anything, position.ID).Return(position, nil)

	_, err := d.service.ClosePosition(context.Background(), CloseRequest{
		UserID:     userID,
		PositionID: position.ID,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPositionNotOpen))
}

func TestClosePositionOwnership(t *testing.T) {
	d := newTestService(t)
	position := openPosition(uuid.New())

	d.positions.On("GetByID", mock.Anything, position.ID).Return(position, nil)

	_, err := d.service.ClosePosition(context.Background(), CloseRequest{
		UserID:     uuid.New(),
		PositionID: position.ID,
	})

	require.Error(t, err)
	// Foreign positions look like missing ones
	assert.True(t, errors.Is(err, errors.ErrPositionNotFound))
}

func TestClosePositionLockConflict(t *testing.T) {
	d := newTestService(t)
	userID := uuid.New()
	position := openPosition(userID)

	_, err := d.locks.Acquire(context.Background(), locks.CloseKey(position.ID))
	require.NoError(t, err)

	_, err = d.service.ClosePosition(context.Background(), CloseRequest{
		UserID:     userID,
		PositionID: position.ID,
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLockConflict))
	d.positions.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestGetGroupedPositions(t *testing.T) {
	d := newTestService(t)
	userID := uuid.New()

	groupID := uuid.New()
	a := openPosition(userID)
	a.GroupID = groupID
	b := openPosition(userID)
	b.GroupID = groupID

	d.positions.On("GetByUser", mock.Anything, userID, []hedge.Status{hedge.StatusOpen}).
		Return([]*hedge.Position{a, b}, nil)

	groups, err := d.service.GetGroupedPositions(context.Background(), userID, hedge.StatusOpen)

	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, groupID, groups[0].GroupID)
	assert.True(t, groups[0].Aggregate.TotalQuantity.Equal(mustDec("0.2")))
}

func TestPickLegError(t *testing.T) {
	unavailable := errors.Wrap(errors.ErrExchangeUnavailable, "down")
	insufficient := errors.Wrap(errors.ErrInsufficientBalance, "wallet")

	assert.True(t, errors.Is(pickLegError(unavailable, insufficient), errors.ErrInsufficientBalance))
	assert.True(t, errors.Is(pickLegError(insufficient, unavailable), errors.ErrInsufficientBalance))
	assert.True(t, errors.Is(pickLegError(nil, unavailable), errors.ErrExchangeUnavailable))
	assert.True(t, errors.Is(pickLegError(unavailable, nil), errors.ErrExchangeUnavailable))
}
