package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/cartprobe/internal/reconcile"
	"github.com/xkilldash9x/cartprobe/internal/reporting"
)

// RunStore persists completed runs.
type RunStore interface {
	SaveRun(ctx context.Context, run *reporting.Run) error
}

// AuditOptions configures one audit.
type AuditOptions struct {
	// Name labels the run in reports and storage.
	Name      string
	Reconcile []reconcile.Option
	Now       func() time.Time
}

// PersistError reports that a run was reconciled but could not be fully recorded.
type PersistError struct {
	RunID string
	Err   error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("run %s reconciled but not persisted: %v", e.RunID, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Audit reads the cart from src, reconciles it and hands the run to rep and, when set,
// store. The two sinks are written concurrently and each runs to completion. A mismatch
// is not an error: callers inspect run.Result.Matched. When persistence fails the run is
// still returned, together with a *PersistError joining every sink failure.
func Audit(ctx context.Context, src Source, rep reporting.Reporter, store RunStore, opts AuditOptions, logger *zap.Logger) (*reporting.Run, error) {
	log := logger.Named("audit")
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	started := now()

	snap, err := src.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}

	res, err := reconcile.Reconcile(snap.Items, snap.ObservedTotal, opts.Reconcile...)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile cart: %w", err)
	}

	run := &reporting.Run{
		ID:        uuid.NewString(),
		Name:      opts.Name,
		URL:       snap.URL,
		StartedAt: started,
		Items:     snap.Items,
		Result:    res,
	}

	fields := []zap.Field{
		zap.String("run_id", run.ID),
		zap.Int("items", len(run.Items)),
		zap.Float64("computed_total", res.ComputedTotal),
		zap.Float64("observed_total", res.ObservedTotal),
		zap.String("policy", string(res.Policy)),
	}
	if res.Matched {
		log.Info("Cart total matches.", fields...)
	} else {
		log.Warn("Cart total mismatch.", append(fields, zap.Float64("difference", res.Difference()), zap.Bool("alternate_matched", res.AlternateMatched))...)
	}

	// The sinks are independent: one failing must not cancel the other.
	var g errgroup.Group
	var repErr, storeErr error
	if rep != nil {
		g.Go(func() error {
			if err := rep.Write(run); err != nil {
				repErr = fmt.Errorf("report: %w", err)
			}
			return nil
		})
	}
	if store != nil {
		g.Go(func() error {
			if err := store.SaveRun(ctx, run); err != nil {
				storeErr = fmt.Errorf("store: %w", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := errors.Join(repErr, storeErr); err != nil {
		log.Error("Failed to persist run.", zap.String("run_id", run.ID), zap.Error(err))
		return run, &PersistError{RunID: run.ID, Err: err}
	}
	return run, nil
}
