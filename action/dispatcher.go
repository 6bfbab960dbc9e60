package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/boyangli/homesense/metrics"
	"github.com/boyangli/homesense/models"
)

// ErrActionDispatch is the sentinel behind every ActionDispatchError
var ErrActionDispatch = errors.New("action dispatch failed")

// ActionDispatchError reports one device action that failed. The remaining
// actions of the sequence are still attempted.
type ActionDispatchError struct {
	Action models.ActionID
	Err    error
}

func (e *ActionDispatchError) Error() string {
	return fmt.Sprintf("action %s failed: %v", e.Action, e.Err)
}

func (e *ActionDispatchError) Unwrap() []error { return []error{ErrActionDispatch, e.Err} }

// Dispatcher runs an outcome's action sequence against a Sink, in order,
// pausing between actions. It holds no per-reading state.
type Dispatcher struct {
	sink    Sink
	wait    Waiter
	log     *slog.Logger
	metrics *metrics.Collector
}

// NewDispatcher creates a dispatcher. A nil waiter means no pacing.
func NewDispatcher(sink Sink, wait Waiter, logger *slog.Logger, m *metrics.Collector) *Dispatcher {
	if wait == nil {
		wait = NoPause{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sink: sink, wait: wait, log: logger, metrics: m}
}

// Dispatch invokes the outcome's actions and returns those that succeeded.
// Failures are logged and joined into the returned error; they never stop
// the sequence.
func (d *Dispatcher) Dispatch(ctx context.Context, target Target, outcome models.Outcome) ([]models.ActionID, error) {
	if len(outcome.Actions) == 0 {
		return nil, nil
	}
	if target.Reason == "" {
		target.Reason = outcome.Remark
	}

	var (
		invoked []models.ActionID
		errs    []error
	)
	for i, id := range outcome.Actions {
		if err := invoke(ctx, d.sink, id, target); err != nil {
			d.log.Error("action failed", "action", id, "sensor", target.SensorID, "label", outcome.Label, "error", err)
			d.metrics.Action(string(id), false)
			errs = append(errs, &ActionDispatchError{Action: id, Err: err})
		} else {
			d.log.Info("action invoked", "action", id, "sensor", target.SensorID, "label", outcome.Label)
			d.metrics.Action(string(id), true)
			invoked = append(invoked, id)
		}
		if i < len(outcome.Actions)-1 {
			d.wait.Wait(ctx)
		}
	}
	return invoked, errors.Join(errs...)
}
