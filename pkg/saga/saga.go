// Package saga implements a sequential saga orchestrator: an ordered list of
// steps where each completed step may register a compensating action, and a
// failure unwinds every registered compensation in reverse order.
//
// A Saga is single-use. Build one per business operation, call Execute once,
// and let it go.
package saga

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"
)

// ActionFunc performs the forward work of a step. The returned value is
// recorded under the step name and handed to the step's compensation.
type ActionFunc[C any] func(ctx context.Context, state *C) (any, error)

// CompensateFunc semantically undoes a step that completed. result is the
// value the step's action returned.
type CompensateFunc[C any] func(ctx context.Context, state *C, result any) error

// Step is a named unit of work. Compensate is optional; steps without one
// (pure reads) are skipped during rollback.
type Step[C any] struct {
	Name       string
	Action     ActionFunc[C]
	Compensate CompensateFunc[C]
}

type compensation[C any] struct {
	name       string
	compensate CompensateFunc[C]
	result     any
}

// Saga executes steps strictly one after another over a shared execution
// state of type C.
type Saga[C any] struct {
	name          string
	correlationID string
	logger        *slog.Logger
	opts          options

	steps         []Step[C]
	names         map[string]struct{}
	results       map[string]any
	executed      []string
	compensations []compensation[C]
	started       bool
}

// New creates an empty saga. name identifies the saga kind in logs and
// metrics (e.g. "create_order"); correlationID ties it to the request.
func New[C any](name, correlationID string, logger *slog.Logger, opts ...Option) *Saga[C] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Saga[C]{
		name:          name,
		correlationID: correlationID,
		logger: logger.With(
			slog.String("saga", name),
			slog.String("correlation_id", correlationID),
		),
		opts:    o,
		names:   make(map[string]struct{}),
		results: make(map[string]any),
	}
}

// Name returns the saga kind.
func (s *Saga[C]) Name() string { return s.name }

// CorrelationID returns the correlation id the saga was created with.
func (s *Saga[C]) CorrelationID() string { return s.correlationID }

// AddStep appends a step. The order of addition is the order of execution.
func (s *Saga[C]) AddStep(step Step[C]) error {
	if s.started {
		return ErrAlreadyExecuted
	}
	if step.Name == "" {
		return fmt.Errorf("%w: step name is required", ErrInvalidStep)
	}
	if step.Action == nil {
		return fmt.Errorf("%w: step %q has no action", ErrInvalidStep, step.Name)
	}
	if _, dup := s.names[step.Name]; dup {
		return fmt.Errorf("%w: duplicate step name %q", ErrInvalidStep, step.Name)
	}
	s.names[step.Name] = struct{}{}
	s.steps = append(s.steps, step)
	return nil
}

// Execute runs every step in order. On the first failure it rolls back the
// completed steps and returns a *StepFailure wrapping the step's original
// error; compensation failures never replace it.
//
// The returned map holds the results of the steps that completed.
func (s *Saga[C]) Execute(ctx context.Context, state *C) (map[string]any, error) {
	if s.started {
		return nil, ErrAlreadyExecuted
	}
	s.started = true

	run := s.opts.tracker.Begin(s.name, s.correlationID)
	defer run.Finish()

	ev := Event{Saga: s.name, CorrelationID: s.correlationID}
	ctx = s.opts.observers.sagaStarted(ctx, ev)
	sagaStart := time.Now()

	for _, step := range s.steps {
		run.Advance(step.Name)

		stepEv := ev
		stepEv.Step = step.Name
		s.opts.observers.stepStarted(ctx, stepEv)
		s.logger.DebugContext(ctx, "saga step started", slog.String("step", step.Name))

		start := time.Now()
		result, err := callAction(ctx, step.Action, state)
		stepEv.Duration = time.Since(start)

		if err != nil {
			stepEv.Err = err
			s.opts.observers.stepFailed(ctx, stepEv)
			s.logger.ErrorContext(ctx, "saga step failed",
				slog.String("step", step.Name),
				slog.String("error", err.Error()),
			)

			failure := &StepFailure{Saga: s.name, Step: step.Name, Cause: err}
			failure.Compensations = s.rollback(context.WithoutCancel(ctx), state)

			ev.Duration = time.Since(sagaStart)
			ev.Step = step.Name
			ev.Err = failure
			s.opts.observers.sagaFinished(ctx, ev)
			return maps.Clone(s.results), failure
		}

		s.results[step.Name] = result
		s.executed = append(s.executed, step.Name)
		if step.Compensate != nil {
			// Push to the front so the stack is already in reverse order.
			s.compensations = append([]compensation[C]{{
				name:       step.Name,
				compensate: step.Compensate,
				result:     result,
			}}, s.compensations...)
		}

		s.opts.observers.stepSucceeded(ctx, stepEv)
		s.logger.InfoContext(ctx, "saga step succeeded",
			slog.String("step", step.Name),
			slog.Duration("duration", stepEv.Duration),
		)
	}

	ev.Duration = time.Since(sagaStart)
	s.opts.observers.sagaFinished(ctx, ev)
	return maps.Clone(s.results), nil
}

// rollback runs every registered compensation, most recent first. A failing
// compensation is logged and reported but the remaining ones still run.
func (s *Saga[C]) rollback(ctx context.Context, state *C) []*CompensationFailure {
	if len(s.compensations) == 0 {
		return nil
	}

	s.logger.WarnContext(ctx, "executing saga rollback",
		slog.Int("compensations", len(s.compensations)),
	)

	var failures []*CompensationFailure
	for _, c := range s.compensations {
		ev := Event{Saga: s.name, CorrelationID: s.correlationID, Step: c.name}

		start := time.Now()
		err := callCompensation(ctx, c.compensate, state, c.result)
		ev.Duration = time.Since(start)

		if err != nil {
			cf := &CompensationFailure{Saga: s.name, Step: c.name, Cause: err}
			failures = append(failures, cf)
			ev.Err = cf
			s.opts.observers.compensationFailed(ctx, ev)
			s.logger.ErrorContext(ctx, "compensation failed",
				slog.String("step", c.name),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.opts.observers.compensationSucceeded(ctx, ev)
		s.logger.InfoContext(ctx, "compensation succeeded", slog.String("step", c.name))
	}
	return failures
}

// Result returns the value recorded for an executed step.
func (s *Saga[C]) Result(name string) (any, bool) {
	r, ok := s.results[name]
	return r, ok
}

// Executed returns the names of the steps that completed, in order.
func (s *Saga[C]) Executed() []string {
	out := make([]string, len(s.executed))
	copy(out, s.executed)
	return out
}

func callAction[C any](ctx context.Context, fn ActionFunc[C], state *C) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn(ctx, state)
}

func callCompensation[C any](ctx context.Context, fn CompensateFunc[C], state *C, result any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn(ctx, state, result)
}
