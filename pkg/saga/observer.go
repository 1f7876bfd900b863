package saga

import (
	"context"
	"time"
)

// Event describes a point in a saga's lifecycle.
type Event struct {
	Saga          string
	CorrelationID string
	Step          string
	Duration      time.Duration
	Err           error
}

// Observer receives lifecycle callbacks from a running saga. Callbacks are
// invoked synchronously on the saga's goroutine and must not block.
type Observer interface {
	// SagaStarted may return a derived context that the steps then run with.
	SagaStarted(ctx context.Context, ev Event) context.Context
	StepStarted(ctx context.Context, ev Event)
	StepSucceeded(ctx context.Context, ev Event)
	StepFailed(ctx context.Context, ev Event)
	CompensationSucceeded(ctx context.Context, ev Event)
	CompensationFailed(ctx context.Context, ev Event)
	SagaFinished(ctx context.Context, ev Event)
}

// NopObserver implements Observer with no-ops. Embed it to implement only
// the callbacks you need.
type NopObserver struct{}

func (NopObserver) SagaStarted(ctx context.Context, _ Event) context.Context { return ctx }
func (NopObserver) StepStarted(context.Context, Event)                         {}
func (NopObserver) StepSucceeded(context.Context, Event)                       {}
func (NopObserver) StepFailed(context.Context, Event)                          {}
func (NopObserver) CompensationSucceeded(context.Context, Event)               {}
func (NopObserver) CompensationFailed(context.Context, Event)                  {}
func (NopObserver) SagaFinished(context.Context, Event)                        {}

type observers []Observer

func (o observers) sagaStarted(ctx context.Context, ev Event) context.Context {
	for _, obs := range o {
		ctx = obs.SagaStarted(ctx, ev)
	}
	return ctx
}

func (o observers) stepStarted(ctx context.Context, ev Event) {
	for _, obs := range o {
		obs.StepStarted(ctx, ev)
	}
}

func (o observers) stepSucceeded(ctx context.Context, ev Event) {
	for _, obs := range o {
		obs.StepSucceeded(ctx, ev)
	}
}

func (o observers) stepFailed(ctx context.Context, ev Event) {
	for _, obs := range o {
		obs.StepFailed(ctx, ev)
	}
}

func (o observers) compensationSucceeded(ctx context.Context, ev Event) {
	for _, obs := range o {
		obs.CompensationSucceeded(ctx, ev)
	}
}

func (o observers) compensationFailed(ctx context.Context, ev Event) {
	for _, obs := range o {
		obs.CompensationFailed(ctx, ev)
	}
}

func (o observers) sagaFinished(ctx context.Context, ev Event) {
	for _, obs := range o {
		obs.SagaFinished(ctx, ev)
	}
}

type options struct {
	observers observers
	tracker   *Tracker
}

// Option configures a Saga.
type Option func(*options)

// WithObserver registers lifecycle observers. They are called in the order
// given.
func WithObserver(obs ...Observer) Option {
	return func(o *options) {
		for _, ob := range obs {
			if ob != nil {
				o.observers = append(o.observers, ob)
			}
		}
	}
}

// WithTracker registers the saga in t while it executes.
func WithTracker(t *Tracker) Option {
	return func(o *options) {
		o.tracker = t
	}
}
