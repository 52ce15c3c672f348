package hedge

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Group is a view over positions sharing a GroupID. Split entries open
// several positions under one group; singletons form a group of one.
type Group struct {
	GroupID       uuid.UUID
	Symbol        string
	LongExchange  string
	ShortExchange string
	Positions     []*Position
	Aggregate     GroupAggregate
}

// GroupAggregate holds derived metrics over group members. Pointer fields are
// nil when members disagree or any member lacks the metric: partial data must
// not silently zero-fill.
type GroupAggregate struct {
	TotalQuantity      decimal.Decimal
	AvgLongEntryPrice  decimal.Decimal
	AvgShortEntryPrice decimal.Decimal
	FundingPnL         *decimal.Decimal
	UnrealizedPnL      *decimal.Decimal
	OpenedAt           *time.Time
	StopLossPercent    *decimal.Decimal
	TakeProfitPercent  *decimal.Decimal
}

// GroupPositions partitions positions by GroupID, preserving first-seen
// order, and computes each group's aggregate.
func GroupPositions(positions []*Position) []*Group {
	groups := make([]*Group, 0)
	index := make(map[uuid.UUID]*Group)

	for _, p := range positions {
		g, ok := index[p.GroupID]
		if !ok {
			g = &Group{
				GroupID:       p.GroupID,
				Symbol:        p.Symbol,
				LongExchange:  p.LongExchange,
				ShortExchange: p.ShortExchange,
			}
			index[p.GroupID] = g
			groups = append(groups, g)
		}
		g.Positions = append(g.Positions, p)
	}

	for _, g := range groups {
		g.Aggregate = AggregatePositions(g.Positions)
	}

	return groups
}

// AggregatePositions computes group metrics over members:
// total quantity, size-weighted average entry price per leg (zero when the
// total weight is zero), summed funding/unrealized PnL only when every member
// reports the metric, earliest openedAt, and a stop-loss/take-profit percent
// only when identical across all members.
func AggregatePositions(members []*Position) GroupAggregate {
	agg := GroupAggregate{
		TotalQuantity:      decimal.Zero,
		AvgLongEntryPrice:  decimal.Zero,
		AvgShortEntryPrice: decimal.Zero,
	}
	if len(members) == 0 {
		return agg
	}

	var (
		longWeighted  = decimal.Zero
		longWeight    = decimal.Zero
		shortWeighted = decimal.Zero
		shortWeight   = decimal.Zero

		fundingSum    = decimal.Zero
		fundingOK     = true
		unrealizedSum = decimal.Zero
		unrealizedOK  = true
	)

	for _, p := range members {
		agg.TotalQuantity = agg.TotalQuantity.Add(p.LongPositionSize)

		longWeighted = longWeighted.Add(p.LongEntryPrice.Mul(p.LongPositionSize))
		longWeight = longWeight.Add(p.LongPositionSize)
		shortWeighted = shortWeighted.Add(p.ShortEntryPrice.Mul(p.ShortPositionSize))
		shortWeight = shortWeight.Add(p.ShortPositionSize)

		if p.CachedFundingPnL.Valid {
			fundingSum = fundingSum.Add(p.CachedFundingPnL.Decimal)
		} else {
			fundingOK = false
		}
		if p.UnrealizedPnL.Valid {
			unrealizedSum = unrealizedSum.Add(p.UnrealizedPnL.Decimal)
		} else {
			unrealizedOK = false
		}

		if p.OpenedAt != nil && (agg.OpenedAt == nil || p.OpenedAt.Before(*agg.OpenedAt)) {
			t := *p.OpenedAt
			agg.OpenedAt = &t
		}
	}

	if !longWeight.IsZero() {
		agg.AvgLongEntryPrice = longWeighted.Div(longWeight)
	}
	if !shortWeight.IsZero() {
		agg.AvgShortEntryPrice = shortWeighted.Div(shortWeight)
	}

	if fundingOK {
		agg.FundingPnL = &fundingSum
	}
	if unrealizedOK {
		agg.UnrealizedPnL = &unrealizedSum
	}

	agg.StopLossPercent = consistentPercent(members, func(p *Position) (bool, decimal.NullDecimal) {
		return p.StopLossEnabled, p.StopLossPercent
	})
	agg.TakeProfitPercent = consistentPercent(members, func(p *Position) (bool, decimal.NullDecimal) {
		return p.TakeProfitEnabled, p.TakeProfitPercent
	})

	return agg
}

// consistentPercent returns the shared risk percent only if every member's
// setting, including "not set", is identical. Mixed configurations yield nil
// so a group never displays a single misleading risk number.
func consistentPercent(members []*Position, get func(*Position) (bool, decimal.NullDecimal)) *decimal.Decimal {
	firstEnabled, firstVal := get(members[0])

	for _, p := range members[1:] {
		enabled, val := get(p)
		if enabled != firstEnabled || val.Valid != firstVal.Valid {
			return nil
		}
		if val.Valid && !val.Decimal.Equal(firstVal.Decimal) {
			return nil
		}
	}

	if !firstEnabled || !firstVal.Valid {
		return nil
	}
	v := firstVal.Decimal
	return &v
}
