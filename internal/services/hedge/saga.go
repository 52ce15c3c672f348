package hedge

import (
	"context"
	"sync"

	"basis/internal/adapters/exchanges"
	"basis/internal/domain/hedge"
)

// LegStep is one leg of a hedge expressed as a compensable saga step: the
// forward action places the leg, the backward action unwinds it. Steps carry
// their side so outcomes can be mapped back onto the position.
type LegStep struct {
	Side     hedge.LegSide
	Exchange string
	Forward  func(ctx context.Context) (*exchanges.LegFill, error)
	Backward func(ctx context.Context, fill *exchanges.LegFill) error
}

// LegOutcome is the result of one step's forward action
type LegOutcome struct {
	Step *LegStep
	Fill *exchanges.LegFill
	Err  error
}

// OK reports whether the forward action succeeded
func (o *LegOutcome) OK() bool {
	return o.Err == nil
}

// Saga runs a set of leg steps. Forward actions run concurrently because leg
// latency is dominated by venue round-trips and sequential submission would
// widen the window in which the hedge is one-sided.
type Saga struct {
	steps []*LegStep
}

// NewSaga creates a saga over the given steps
func NewSaga(steps ...*LegStep) *Saga {
	return &Saga{steps: steps}
}

// Run executes all forward actions in parallel and waits for every one to
// settle. Outcomes preserve step order regardless of completion order.
func (s *Saga) Run(ctx context.Context) []*LegOutcome {
	outcomes := make([]*LegOutcome, len(s.steps))

	var wg sync.WaitGroup
	for i, step := range s.steps {
		wg.Add(1)
		go func(i int, step *LegStep) {
			defer wg.Done()
			fill, err := step.Forward(ctx)
			outcomes[i] = &LegOutcome{Step: step, Fill: fill, Err: err}
		}(i, step)
	}
	wg.Wait()

	return outcomes
}

// Compensate runs the backward action for every outcome that succeeded,
// returning the first compensation failure. Steps without a backward action
// are skipped.
func (s *Saga) Compensate(ctx context.Context, outcomes []*LegOutcome) error {
	for _, o := range outcomes {
		if !o.OK() || o.Step.Backward == nil {
			continue
		}
		if err := o.Step.Backward(ctx, o.Fill); err != nil {
			return err
		}
	}
	return nil
}

// Partition splits outcomes into succeeded and failed
func Partition(outcomes []*LegOutcome) (succeeded, failed []*LegOutcome) {
	for _, o := range outcomes {
		if o.OK() {
			succeeded = append(succeeded, o)
		} else {
			failed = append(failed, o)
		}
	}
	return succeeded, failed
}
