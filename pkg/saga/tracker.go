package saga

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// InFlightSaga is a snapshot of a saga that is currently executing.
type InFlightSaga struct {
	Name          string    `json:"name"`
	CorrelationID string    `json:"correlation_id"`
	Step          string    `json:"step"`
	StartedAt     time.Time `json:"started_at"`
}

// Tracker keeps a registry of executing sagas. Saga progress is not
// persisted, so the tracker is what lets a shutting-down process wait for
// running sagas and report the ones it had to abandon.
type Tracker struct {
	runs *xsync.MapOf[uint64, *Run]
	seq  atomic.Uint64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{runs: xsync.NewMapOf[uint64, *Run]()}
}

// Run is the tracker's handle on one executing saga. All methods are safe on
// a nil *Run.
type Run struct {
	tracker       *Tracker
	id            uint64
	name          string
	correlationID string
	startedAt     time.Time
	step          atomic.Pointer[string]
}

// Begin registers an executing saga. Calling Begin on a nil tracker returns
// a nil *Run.
func (t *Tracker) Begin(name, correlationID string) *Run {
	if t == nil {
		return nil
	}
	r := &Run{
		tracker:       t,
		id:            t.seq.Add(1),
		name:          name,
		correlationID: correlationID,
		startedAt:     time.Now().UTC(),
	}
	t.runs.Store(r.id, r)
	return r
}

// Advance records the step the saga is about to execute.
func (r *Run) Advance(step string) {
	if r == nil {
		return
	}
	r.step.Store(&step)
}

// Finish removes the saga from the registry.
func (r *Run) Finish() {
	if r == nil {
		return
	}
	r.tracker.runs.Delete(r.id)
}

// Len returns the number of executing sagas.
func (t *Tracker) Len() int {
	return t.runs.Size()
}

// InFlight returns a snapshot of executing sagas, oldest first.
func (t *Tracker) InFlight() []InFlightSaga {
	var out []InFlightSaga
	t.runs.Range(func(_ uint64, r *Run) bool {
		snap := InFlightSaga{
			Name:          r.name,
			CorrelationID: r.correlationID,
			StartedAt:     r.startedAt,
		}
		if step := r.step.Load(); step != nil {
			snap.Step = *step
		}
		out = append(out, snap)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Wait blocks until no saga is executing or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for t.runs.Size() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
