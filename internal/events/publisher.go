package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"basis/internal/adapters/kafka"
	"basis/internal/domain/hedge"
	hedgesvc "basis/internal/services/hedge"
	"basis/pkg/logger"
)

// publishTimeout bounds each broker write so a slow broker cannot hold up the
// caller's request path
const publishTimeout = 5 * time.Second

// HedgeOpenedEvent is published when both legs of a hedge fill
type HedgeOpenedEvent struct {
	PositionID      uuid.UUID       `json:"position_id"`
	GroupID         uuid.UUID       `json:"group_id"`
	UserID          uuid.UUID       `json:"user_id"`
	Symbol          string          `json:"symbol"`
	LongExchange    string          `json:"long_exchange"`
	ShortExchange   string          `json:"short_exchange"`
	LongEntryPrice  decimal.Decimal `json:"long_entry_price"`
	ShortEntryPrice decimal.Decimal `json:"short_entry_price"`
	Quantity        decimal.Decimal `json:"quantity"`
	OpenedAt        time.Time       `json:"opened_at"`
}

// HedgeClosedEvent is published when a close settles at least one leg
type HedgeClosedEvent struct {
	PositionID uuid.UUID       `json:"position_id"`
	UserID     uuid.UUID       `json:"user_id"`
	TradeID    uuid.UUID       `json:"trade_id"`
	Symbol     string          `json:"symbol"`
	Status     string          `json:"status"`
	TotalPnL   decimal.Decimal `json:"total_pnl"`
	ROI        decimal.Decimal `json:"roi"`
	ClosedAt   time.Time       `json:"closed_at"`
}

// HedgeFailedEvent is published when an open attempt ends FAILED
type HedgeFailedEvent struct {
	PositionID uuid.UUID `json:"position_id"`
	UserID     uuid.UUID `json:"user_id"`
	Symbol     string    `json:"symbol"`
	Reason     string    `json:"reason"`
	FailedAt   time.Time `json:"failed_at"`
}

// ManualInterventionEvent alerts operators to positions holding live exposure
// the system could not unwind
type ManualInterventionEvent struct {
	PositionID uuid.UUID `json:"position_id"`
	UserID     uuid.UUID `json:"user_id"`
	Symbol     string    `json:"symbol"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason"`
	RaisedAt   time.Time `json:"raised_at"`
}

// Publisher broadcasts hedge lifecycle and progress events to Kafka.
// Publishing is fire-and-forget from the caller's perspective: broker errors
// are logged and never propagated into the trading path.
type Publisher struct {
	producer *kafka.Producer
	log      *logger.Logger
}

// NewPublisher creates a new event publisher
func NewPublisher(producer *kafka.Producer) *Publisher {
	return &Publisher{
		producer: producer,
		log:      logger.Get().With("component", "event_publisher"),
	}
}

// Emit publishes one step-level progress event. Implements the hedge
// service's ProgressReporter.
func (p *Publisher) Emit(ctx context.Context, event hedgesvc.ProgressEvent) {
	p.publish(ctx, kafka.TopicHedgeProgress, event.PositionID.String(), event)
}

// HedgeOpened publishes the opened lifecycle event
func (p *Publisher) HedgeOpened(ctx context.Context, position *hedge.Position) {
	openedAt := time.Now()
	if position.OpenedAt != nil {
		openedAt = *position.OpenedAt
	}

	p.publish(ctx, kafka.TopicHedgeOpened, position.ID.String(), HedgeOpenedEvent{
		PositionID:      position.ID,
		GroupID:         position.GroupID,
		UserID:          position.UserID,
		Symbol:          position.Symbol,
		LongExchange:    position.LongExchange,
		ShortExchange:   position.ShortExchange,
		LongEntryPrice:  position.LongEntryPrice,
		ShortEntryPrice: position.ShortEntryPrice,
		Quantity:        position.LongPositionSize,
		OpenedAt:        openedAt,
	})
}

// HedgeClosed publishes the closed lifecycle event
func (p *Publisher) HedgeClosed(ctx context.Context, position *hedge.Position, trade *hedge.Trade) {
	p.publish(ctx, kafka.TopicHedgeClosed, position.ID.String(), HedgeClosedEvent{
		PositionID: position.ID,
		UserID:     position.UserID,
		TradeID:    trade.ID,
		Symbol:     position.Symbol,
		Status:     trade.Status.String(),
		TotalPnL:   trade.TotalPnL,
		ROI:        trade.ROI,
		ClosedAt:   trade.ClosedAt,
	})
}

// HedgeFailed publishes the failed lifecycle event
func (p *Publisher) HedgeFailed(ctx context.Context, position *hedge.Position) {
	reason := ""
	if position.FailureReason != nil {
		reason = *position.FailureReason
	}

	p.publish(ctx, kafka.TopicHedgeFailed, position.ID.String(), HedgeFailedEvent{
		PositionID: position.ID,
		UserID:     position.UserID,
		Symbol:     position.Symbol,
		Reason:     reason,
		FailedAt:   time.Now(),
	})
}

// ManualIntervention publishes an operator alert
func (p *Publisher) ManualIntervention(ctx context.Context, position *hedge.Position, reason string) {
	p.publish(ctx, kafka.TopicManualIntervention, position.ID.String(), ManualInterventionEvent{
		PositionID: position.ID,
		UserID:     position.UserID,
		Symbol:     position.Symbol,
		Status:     position.Status.String(),
		Reason:     reason,
		RaisedAt:   time.Now(),
	})
}

func (p *Publisher) publish(ctx context.Context, topic, key string, event interface{}) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.producer.Publish(ctx, topic, key, event); err != nil {
		p.log.Errorw("Failed to publish event",
			"topic", topic,
			"key", key,
			"error", err,
		)
	}
}
