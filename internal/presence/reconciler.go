// reconciler.go
//
// Scheduled presence maintenance, independent of request handling.
package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Reconciler runs Tracker.Reconcile on a fixed interval until its context ends.
type Reconciler struct {
	tracker  *Tracker
	interval time.Duration
	ids      uuid.Generator
}

// NewReconciler returns a Reconciler. interval must be positive.
func NewReconciler(t *Tracker, interval time.Duration) *Reconciler {
	return &Reconciler{tracker: t, interval: interval, ids: uuid.DefaultGenerator}
}

// Run blocks, reconciling every interval, and returns ctx.Err() once ctx is done.
// A failed pass is logged and retried on the next tick.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("presence reconciler started", "interval", r.interval.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("presence reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single logged pass.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileResult, error) {
	runID := r.runID()
	start := time.Now()
	res, err := r.tracker.Reconcile(ctx)
	if err != nil {
		slog.Error("presence reconcile failed", "run", runID, "error", err, "rooms", res.Rooms)
		return res, err
	}
	slog.Info("presence reconciled",
		"run", runID,
		"rooms", res.Rooms,
		"scanned", res.Scanned,
		"removed", res.Removed,
		"took", time.Since(start).String(),
	)
	return res, nil
}

// runID tags one pass in the logs. A generator failure costs the tag, not the pass.
func (r *Reconciler) runID() string {
	id, err := r.ids.NewV7()
	if err != nil {
		slog.Warn("presence reconcile run id unavailable", "error", err)
		return ""
	}
	return id.String()
}
