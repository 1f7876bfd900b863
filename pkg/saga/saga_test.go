package saga

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testState struct {
	calls []string
	value int
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recordingStep(name string, compensate bool, failAction, failCompensate error) Step[testState] {
	step := Step[testState]{
		Name: name,
		Action: func(_ context.Context, s *testState) (any, error) {
			s.calls = append(s.calls, "do:"+name)
			if failAction != nil {
				return nil, failAction
			}
			return name + "-result", nil
		},
	}
	if compensate {
		step.Compensate = func(_ context.Context, s *testState, result any) error {
			s.calls = append(s.calls, "undo:"+name+":"+result.(string))
			return failCompensate
		}
	}
	return step
}

func buildSaga(t *testing.T, steps ...Step[testState]) *Saga[testState] {
	t.Helper()
	s := New[testState]("test", "corr-1", newTestLogger())
	for _, step := range steps {
		require.NoError(t, s.AddStep(step))
	}
	return s
}

// ---------------------------------------------------------------------------
// Execute
// ---------------------------------------------------------------------------

func TestExecute_RunsStepsInOrder(t *testing.T) {
	s := buildSaga(t,
		recordingStep("a", true, nil, nil),
		recordingStep("b", false, nil, nil),
		recordingStep("c", true, nil, nil),
	)

	state := &testState{}
	results, err := s.Execute(context.Background(), state)

	require.NoError(t, err)
	assert.Equal(t, []string{"do:a", "do:b", "do:c"}, state.calls)
	assert.Equal(t, "a-result", results["a"])
	assert.Equal(t, "c-result", results["c"])
	assert.Equal(t, []string{"a", "b", "c"}, s.Executed())
}

func TestExecute_LaterStepReadsEarlierState(t *testing.T) {
	s := New[testState]("test", "corr-1", newTestLogger())
	require.NoError(t, s.AddStep(Step[testState]{
		Name: "produce",
		Action: func(_ context.Context, st *testState) (any, error) {
			st.value = 41
			return nil, nil
		},
	}))
	require.NoError(t, s.AddStep(Step[testState]{
		Name: "consume",
		Action: func(_ context.Context, st *testState) (any, error) {
			return st.value + 1, nil
		},
	}))

	results, err := s.Execute(context.Background(), &testState{})
	require.NoError(t, err)
	assert.Equal(t, 42, results["consume"])
}

func TestExecute_FailureRollsBackInReverseOrder(t *testing.T) {
	boom := errors.New("payment declined")
	s := buildSaga(t,
		recordingStep("reserve", true, nil, nil),
		recordingStep("check", false, nil, nil),
		recordingStep("create", true, nil, nil),
		recordingStep("pay", true, boom, nil),
		recordingStep("confirm", true, nil, nil),
	)

	state := &testState{}
	_, err := s.Execute(context.Background(), state)

	require.Error(t, err)
	assert.Equal(t, []string{
		"do:reserve", "do:check", "do:create", "do:pay",
		"undo:create:create-result",
		"undo:reserve:reserve-result",
	}, state.calls)
}

func TestExecute_ReturnsOriginalFailure(t *testing.T) {
	boom := errors.New("insufficient stock")
	s := buildSaga(t,
		recordingStep("a", true, nil, errors.New("release failed")),
		recordingStep("b", true, boom, nil),
	)

	_, err := s.Execute(context.Background(), &testState{})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var sf *StepFailure
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, "b", sf.Step)
	assert.Equal(t, "test", sf.Saga)
	assert.False(t, sf.RolledBackCleanly())
	require.Len(t, sf.Compensations, 1)
	assert.Equal(t, "a", sf.Compensations[0].Step)

	step, ok := FailedStep(err)
	assert.True(t, ok)
	assert.Equal(t, "b", step)
}

func TestExecute_CompensationFailureDoesNotStopRollback(t *testing.T) {
	s := buildSaga(t,
		recordingStep("first", true, nil, nil),
		recordingStep("second", true, nil, errors.New("refund failed")),
		recordingStep("third", true, nil, nil),
		recordingStep("fourth", false, errors.New("boom"), nil),
	)

	state := &testState{}
	_, err := s.Execute(context.Background(), state)

	require.Error(t, err)
	assert.Equal(t, []string{
		"do:first", "do:second", "do:third", "do:fourth",
		"undo:third:third-result",
		"undo:second:second-result",
		"undo:first:first-result",
	}, state.calls)
}

func TestExecute_FirstStepFailureHasNothingToUndo(t *testing.T) {
	s := buildSaga(t,
		recordingStep("a", true, errors.New("down"), nil),
		recordingStep("b", true, nil, nil),
	)

	state := &testState{}
	results, err := s.Execute(context.Background(), state)

	require.Error(t, err)
	assert.Empty(t, results)
	assert.Equal(t, []string{"do:a"}, state.calls)

	var sf *StepFailure
	require.ErrorAs(t, err, &sf)
	assert.True(t, sf.RolledBackCleanly())
}

func TestExecute_PanicIsTreatedAsFailure(t *testing.T) {
	s := buildSaga(t, recordingStep("a", true, nil, nil))
	require.NoError(t, s.AddStep(Step[testState]{
		Name: "explode",
		Action: func(context.Context, *testState) (any, error) {
			panic("nil map")
		},
	}))

	state := &testState{}
	_, err := s.Execute(context.Background(), state)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPanic)
	assert.Contains(t, state.calls, "undo:a:a-result")
}

func TestExecute_RollbackSurvivesCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var compensateCtxErr error
	s := New[testState]("test", "corr-1", newTestLogger())
	require.NoError(t, s.AddStep(Step[testState]{
		Name:   "reserve",
		Action: func(context.Context, *testState) (any, error) { return nil, nil },
		Compensate: func(ctx context.Context, _ *testState, _ any) error {
			compensateCtxErr = ctx.Err()
			return nil
		},
	}))
	require.NoError(t, s.AddStep(Step[testState]{
		Name: "pay",
		Action: func(ctx context.Context, _ *testState) (any, error) {
			cancel()
			return nil, ctx.Err()
		},
	}))

	_, err := s.Execute(ctx, &testState{})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, compensateCtxErr)
}

func TestExecute_IsSingleUse(t *testing.T) {
	s := buildSaga(t, recordingStep("a", true, nil, nil))

	state := &testState{}
	_, err := s.Execute(context.Background(), state)
	require.NoError(t, err)

	_, err = s.Execute(context.Background(), state)
	assert.ErrorIs(t, err, ErrAlreadyExecuted)
	assert.Equal(t, []string{"do:a"}, state.calls)

	err = s.AddStep(recordingStep("b", false, nil, nil))
	assert.ErrorIs(t, err, ErrAlreadyExecuted)
}

func TestResult(t *testing.T) {
	s := buildSaga(t, recordingStep("a", false, nil, nil))
	_, err := s.Execute(context.Background(), &testState{})
	require.NoError(t, err)

	r, ok := s.Result("a")
	assert.True(t, ok)
	assert.Equal(t, "a-result", r)

	_, ok = s.Result("missing")
	assert.False(t, ok)
}

// ---------------------------------------------------------------------------
// AddStep
// ---------------------------------------------------------------------------

func TestAddStep_Validation(t *testing.T) {
	tests := []struct {
		name string
		step Step[testState]
	}{
		{name: "empty name", step: Step[testState]{Action: func(context.Context, *testState) (any, error) { return nil, nil }}},
		{name: "nil action", step: Step[testState]{Name: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New[testState]("test", "corr-1", newTestLogger())
			assert.ErrorIs(t, s.AddStep(tt.step), ErrInvalidStep)
		})
	}
}

func TestAddStep_RejectsDuplicateName(t *testing.T) {
	s := buildSaga(t, recordingStep("a", false, nil, nil))
	err := s.AddStep(recordingStep("a", true, nil, nil))
	assert.ErrorIs(t, err, ErrInvalidStep)
}

// ---------------------------------------------------------------------------
// Observers
// ---------------------------------------------------------------------------

type recordingObserver struct {
	NopObserver
	events []string
}

func (r *recordingObserver) StepSucceeded(_ context.Context, ev Event) {
	r.events = append(r.events, "ok:"+ev.Step)
}

func (r *recordingObserver) StepFailed(_ context.Context, ev Event) {
	r.events = append(r.events, "fail:"+ev.Step)
}

func (r *recordingObserver) CompensationSucceeded(_ context.Context, ev Event) {
	r.events = append(r.events, "undo-ok:"+ev.Step)
}

func (r *recordingObserver) CompensationFailed(_ context.Context, ev Event) {
	r.events = append(r.events, "undo-fail:"+ev.Step)
}

func (r *recordingObserver) SagaFinished(_ context.Context, ev Event) {
	if ev.Err != nil {
		r.events = append(r.events, "finished:error")
		return
	}
	r.events = append(r.events, "finished:ok")
}

func TestObserver_ReceivesLifecycle(t *testing.T) {
	obs := &recordingObserver{}
	s := New[testState]("test", "corr-1", newTestLogger(), WithObserver(obs, nil))
	require.NoError(t, s.AddStep(recordingStep("a", true, nil, errors.New("x"))))
	require.NoError(t, s.AddStep(recordingStep("b", true, nil, nil)))
	require.NoError(t, s.AddStep(recordingStep("c", false, errors.New("boom"), nil)))

	_, err := s.Execute(context.Background(), &testState{})
	require.Error(t, err)

	assert.Equal(t, []string{
		"ok:a", "ok:b", "fail:c",
		"undo-ok:b", "undo-fail:a",
		"finished:error",
	}, obs.events)
}

func TestTracker_RegistersDuringExecution(t *testing.T) {
	tracker := NewTracker()
	s := New[testState]("create_order", "corr-9", newTestLogger(), WithTracker(tracker))

	var seen []InFlightSaga
	require.NoError(t, s.AddStep(Step[testState]{
		Name: "inspect",
		Action: func(context.Context, *testState) (any, error) {
			seen = tracker.InFlight()
			return nil, nil
		},
	}))

	_, err := s.Execute(context.Background(), &testState{})
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, "create_order", seen[0].Name)
	assert.Equal(t, "corr-9", seen[0].CorrelationID)
	assert.Equal(t, "inspect", seen[0].Step)
	assert.Equal(t, 0, tracker.Len())
}
