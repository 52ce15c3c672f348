package workers

import (
	"context"
	"time"

	"basis/internal/domain/audit"
	"basis/internal/domain/hedge"
	"basis/internal/metrics"
)

// InterventionNotifier raises operator alerts for positions the system
// cannot resolve on its own
type InterventionNotifier interface {
	ManualIntervention(ctx context.Context, position *hedge.Position, reason string)
}

// ReconcilerWorker sweeps for positions stranded in OPENING or CLOSING past
// the lock lease, which happens when the process crashes mid-flight. Stranded
// positions may hold unknown exposure, so the worker only flags them for an
// operator; it never retries or unwinds legs on its own.
type ReconcilerWorker struct {
	*BaseWorker
	positions hedge.Repository
	auditor   audit.Logger
	notifier  InterventionNotifier
	staleness time.Duration
}

// NewReconcilerWorker creates a reconciler sweeping at the given interval.
// Staleness should be at least the lock TTL so in-flight operations are
// never flagged.
func NewReconcilerWorker(
	positions hedge.Repository,
	auditor audit.Logger,
	notifier InterventionNotifier,
	interval time.Duration,
	staleness time.Duration,
	enabled bool,
) *ReconcilerWorker {
	return &ReconcilerWorker{
		BaseWorker: NewBaseWorker("reconciler", interval, enabled),
		positions:  positions,
		auditor:    auditor,
		notifier:   notifier,
		staleness:  staleness,
	}
}

// Run flags stranded positions for manual intervention
func (w *ReconcilerWorker) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-w.staleness)

	stuck, err := w.positions.GetStuckInTransition(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, position := range stuck {
		if position.RequiresManualIntervention {
			continue
		}

		position.RequiresManualIntervention = true
		if err := w.positions.Update(ctx, position); err != nil {
			w.Log().Errorw("Failed to flag stuck position",
				"position_id", position.ID,
				"error", err,
			)
			continue
		}

		metrics.ManualInterventions.Inc()

		if err := w.auditor.Log(ctx, audit.Entry{
			UserID:     position.UserID,
			PositionID: position.ID,
			EventKind:  audit.EventStuckPosition,
			Details: map[string]string{
				"status":     position.Status.String(),
				"updated_at": position.UpdatedAt.Format(time.RFC3339),
			},
		}); err != nil {
			w.Log().Errorw("Failed to audit stuck position",
				"position_id", position.ID,
				"error", err,
			)
		}

		if w.notifier != nil {
			w.notifier.ManualIntervention(ctx, position,
				"position stuck in "+position.Status.String()+" past lock lease")
		}

		w.Log().Warnw("Flagged stuck position for manual intervention",
			"position_id", position.ID,
			"status", position.Status,
			"updated_at", position.UpdatedAt,
		)
	}

	return nil
}
