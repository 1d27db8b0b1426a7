package reindexer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/reindexer/internal/clock"
	"github.com/syntrixbase/reindexer/internal/coordination"
	"github.com/syntrixbase/reindexer/internal/coordination/memory"
)

type loopFixture struct {
	store  *memory.Store
	clock  *clock.Fake
	worker *recordingWorker
	loop   *Loop
	gate   *Gate
}

func newLoopFixture(t *testing.T, ready map[string]int64, worker *recordingWorker, policy CheckpointPolicy) *loopFixture {
	t.Helper()
	var types []string
	for name := range ready {
		types = append(types, name)
	}
	store := memory.NewStore("h1", nil)
	clk := clock.NewFake(time.UnixMilli(1_000_000))
	loop := NewLoop(store, worker, clk, LoopConfig{
		Tenant:  testTenant,
		Cluster: testCluster(types...),
		Ready:   readyAt(ready),
		Policy:  policy,
	}, discardLogger())
	return &loopFixture{
		store:  store,
		clock:  clk,
		worker: worker,
		loop:   loop,
		gate:   NewGate(store, 0, discardLogger()),
	}
}

func (f *loopFixture) run(ctx context.Context) error {
	return f.gate.TryRun(ctx, testTenant, f.loop.Reindex)
}

func TestLoop_SingleTypeDone(t *testing.T) {
	f := newLoopFixture(t, map[string]int64{"music": 0}, doneWorker(), DefaultCheckpointPolicy())

	require.NoError(t, f.run(context.Background()))

	p := persisted(t, f.store).Progress("content", "music")
	require.NotNil(t, p)
	assert.Equal(t, StateSuccessful, p.State)
	require.NotNil(t, p.EndedAt)
	assert.Equal(t, int64(1_000_000), p.EndedAt.UnixMilli())
	assert.Equal(t, int64(1_000_000), p.StartedAt.UnixMilli())
	assert.Empty(t, p.Cursor)

	// a successful type is not visited again in the same cycle
	require.NoError(t, f.run(context.Background()))
	assert.Len(t, f.worker.Calls(), 1)
}

func TestLoop_ResumesFromPersistedCursor(t *testing.T) {
	w := doneWorker()
	f := newLoopFixture(t, map[string]int64{"music": 0}, w, DefaultCheckpointPolicy())

	// a previous leader persisted cursor X and crashed
	prev := NewState()
	prev.SetProgress("content", "music", running(500, "X"))
	seed(t, f.store, prev)

	require.NoError(t, f.run(context.Background()))
	assert.Equal(t, []workerCall{{Type: "music", Cursor: "X"}}, w.Calls())

	p := persisted(t, f.store).Progress("content", "music")
	assert.Equal(t, StateSuccessful, p.State)
	assert.Equal(t, int64(500), p.StartedAt.UnixMilli())
}

func TestLoop_OrdersByReadyThenName(t *testing.T) {
	w := doneWorker()
	f := newLoopFixture(t, map[string]int64{"a": 100, "b": 50, "c": 100, "later": 5_000_000}, w, DefaultCheckpointPolicy())

	require.NoError(t, f.run(context.Background()))
	assert.Equal(t, []workerCall{{"b", ""}, {"a", ""}, {"c", ""}}, w.Calls())
	assert.Nil(t, persisted(t, f.store).Progress("content", "later"))
}

func TestLoop_WorkerFailureIsIsolated(t *testing.T) {
	w := &recordingWorker{answer: func(_ context.Context, typ, _ string) (Outcome, error) {
		if typ == "a" {
			return Failed("boom"), nil
		}
		return Done(), nil
	}}
	f := newLoopFixture(t, map[string]int64{"a": 0, "b": 0}, w, DefaultCheckpointPolicy())

	require.NoError(t, f.run(context.Background()))

	state := persisted(t, f.store)
	a := state.Progress("content", "a")
	assert.Equal(t, StateFailed, a.State)
	require.NotNil(t, a.Message)
	assert.Equal(t, "boom", *a.Message)
	assert.NotNil(t, a.EndedAt)
	assert.Equal(t, StateSuccessful, state.Progress("content", "b").State)

	// FAILED stays terminal until the ready instant moves
	require.NoError(t, f.run(context.Background()))
	assert.Len(t, w.Calls(), 2)
}

func TestLoop_InterruptedPersistsCursor(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	w := &recordingWorker{answer: func(ctx context.Context, _, cursor string) (Outcome, error) {
		if cursor == "" {
			return Progressed("cursor41"), nil
		}
		cancel(ErrInterrupted)
		<-ctx.Done()
		return Interrupted("cursor42"), nil
	}}
	f := newLoopFixture(t, map[string]int64{"a": 0, "b": 0}, w, CheckpointPolicy{EveryN: 1000, Interval: time.Hour})

	err := f.run(ctx)
	assert.ErrorIs(t, err, ErrInterrupted)

	state := persisted(t, f.store)
	a := state.Progress("content", "a")
	assert.Equal(t, StateRunning, a.State)
	assert.Equal(t, "cursor42", a.Cursor)
	assert.Nil(t, a.EndedAt)
	assert.Nil(t, state.Progress("content", "b"), "loop must stop at the interrupted type")

	// the next leader resumes from the saved cursor
	next := doneWorker()
	f2 := &loopFixture{store: f.store, loop: NewLoop(f.store.Shared("h2"), next, f.clock, LoopConfig{
		Tenant: testTenant, Cluster: testCluster("a", "b"), Ready: readyAt(map[string]int64{"a": 0, "b": 0}),
		Policy: DefaultCheckpointPolicy(),
	}, discardLogger()), gate: NewGate(f.store.Shared("h2"), 0, discardLogger())}
	require.NoError(t, f2.run(context.Background()))
	assert.Equal(t, []workerCall{{"a", "cursor42"}, {"b", ""}}, next.Calls())
}

func TestLoop_InterruptCheckpointIsCounted(t *testing.T) {
	const typ = "interrupt_counted"
	ctx, cancel := context.WithCancelCause(context.Background())
	w := &recordingWorker{answer: func(ctx context.Context, _, cursor string) (Outcome, error) {
		cancel(ErrInterrupted)
		return Interrupted("c1"), nil
	}}
	f := newLoopFixture(t, map[string]int64{typ: 0}, w, CheckpointPolicy{EveryN: 1000, Interval: time.Hour})
	before := testutil.ToFloat64(CheckpointsSaved.WithLabelValues(typ))

	assert.ErrorIs(t, f.run(ctx), ErrInterrupted)

	// one write when the type starts, one when it stops
	assert.Equal(t, before+2, testutil.ToFloat64(CheckpointsSaved.WithLabelValues(typ)))
	assert.Equal(t, "c1", persisted(t, f.store).Progress("content", typ).Cursor)
}

func TestLoop_CancelledBeforeWorkerCall(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(ErrInterrupted)
	w := doneWorker()
	f := newLoopFixture(t, map[string]int64{"a": 0}, w, DefaultCheckpointPolicy())

	assert.ErrorIs(t, f.run(ctx), ErrInterrupted)
	assert.Empty(t, w.Calls())
}

func TestLoop_CheckpointsEveryN(t *testing.T) {
	calls := 0
	w := &recordingWorker{answer: func(_ context.Context, _, _ string) (Outcome, error) {
		calls++
		if calls > 7 {
			return Done(), nil
		}
		return Progressed(fmt.Sprintf("c%d", calls)), nil
	}}
	f := newLoopFixture(t, map[string]int64{"a": 0}, w, CheckpointPolicy{EveryN: 3, Interval: time.Hour})

	writes := 0
	var cursors []string
	counting := &writeSpy{Store: f.store, onWrite: func(data []byte) {
		writes++
		s, err := DecodeState(data)
		require.NoError(t, err)
		cursors = append(cursors, s.Progress("content", "a").Cursor)
	}}
	f.loop.store = counting

	require.NoError(t, f.run(context.Background()))
	// start, c3, c6, done
	assert.Equal(t, 4, writes)
	assert.Equal(t, []string{"", "c3", "c6", ""}, cursors)
}

func TestLoop_CheckpointsOnInterval(t *testing.T) {
	var f *loopFixture
	calls := 0
	w := &recordingWorker{answer: func(_ context.Context, _, _ string) (Outcome, error) {
		calls++
		f.clock.Advance(4 * time.Second)
		if calls > 5 {
			return Done(), nil
		}
		return Progressed(fmt.Sprintf("c%d", calls)), nil
	}}
	f = newLoopFixture(t, map[string]int64{"a": 0}, w, CheckpointPolicy{EveryN: 1000, Interval: 10 * time.Second})

	var cursors []string
	f.loop.store = &writeSpy{Store: f.store, onWrite: func(data []byte) {
		s, _ := DecodeState(data)
		cursors = append(cursors, s.Progress("content", "a").Cursor)
	}}

	require.NoError(t, f.run(context.Background()))
	// 4s per call: the 12s mark falls on c3
	assert.Equal(t, []string{"", "c3", ""}, cursors)
}

func TestLoop_WorkerErrorSavesCursorAndKeepsRunning(t *testing.T) {
	calls := 0
	w := &recordingWorker{answer: func(_ context.Context, _, _ string) (Outcome, error) {
		calls++
		if calls == 1 {
			return Progressed("c1"), nil
		}
		return Outcome{}, errors.New("source unavailable")
	}}
	f := newLoopFixture(t, map[string]int64{"a": 0, "b": 0}, w, CheckpointPolicy{EveryN: 1000, Interval: time.Hour})

	err := f.run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source unavailable")

	state := persisted(t, f.store)
	a := state.Progress("content", "a")
	assert.Equal(t, StateRunning, a.State)
	assert.Equal(t, "c1", a.Cursor)
	assert.Nil(t, state.Progress("content", "b"))
}

func TestLoop_NewCycleResetsTerminalState(t *testing.T) {
	w := doneWorker()
	f := newLoopFixture(t, map[string]int64{"a": 900_000}, w, DefaultCheckpointPolicy())

	prev := NewState()
	old := running(100, "")
	require.NoError(t, old.Succeed(time.UnixMilli(200)))
	prev.SetProgress("content", "a", old)
	seed(t, f.store, prev)

	require.NoError(t, f.run(context.Background()))
	require.Len(t, w.Calls(), 1)

	p := persisted(t, f.store).Progress("content", "a")
	assert.Equal(t, StateSuccessful, p.State)
	assert.Equal(t, int64(1_000_000), p.StartedAt.UnixMilli())
}

func TestLoop_SuccessfulStaysWithoutNewerReady(t *testing.T) {
	w := doneWorker()
	f := newLoopFixture(t, map[string]int64{"a": 100}, w, DefaultCheckpointPolicy())

	prev := NewState()
	old := running(100, "")
	require.NoError(t, old.Succeed(time.UnixMilli(200)))
	prev.SetProgress("content", "a", old)
	seed(t, f.store, prev)

	require.NoError(t, f.run(context.Background()))
	assert.Empty(t, w.Calls())
}

func TestLoop_StaleRunningRestartsFromScratch(t *testing.T) {
	w := doneWorker()
	f := newLoopFixture(t, map[string]int64{"a": 900_000}, w, DefaultCheckpointPolicy())

	prev := NewState()
	prev.SetProgress("content", "a", running(100, "old-cursor"))
	seed(t, f.store, prev)

	require.NoError(t, f.run(context.Background()))
	assert.Equal(t, []workerCall{{"a", ""}}, w.Calls())
}

func TestLoop_LeavesUnreadyAndUnknownTypesAlone(t *testing.T) {
	w := doneWorker()
	f := newLoopFixture(t, map[string]int64{"a": 0}, w, DefaultCheckpointPolicy())

	prev := NewState()
	prev.SetProgress("content", "retired", running(5, "r"))
	prev.SetProgress("other", "a", running(6, "o"))
	seed(t, f.store, prev)

	require.NoError(t, f.run(context.Background()))

	state := persisted(t, f.store)
	assert.Equal(t, "r", state.Progress("content", "retired").Cursor)
	assert.Equal(t, "o", state.Progress("other", "a").Cursor)
	assert.Equal(t, StateSuccessful, state.Progress("content", "a").State)
}

func TestLoop_ReadErrorEndsTick(t *testing.T) {
	w := doneWorker()
	f := newLoopFixture(t, map[string]int64{"a": 0}, w, DefaultCheckpointPolicy())
	f.store.InjectFault("read", errors.New("timeout"))

	err := f.run(context.Background())
	var ce *coordination.Error
	require.ErrorAs(t, err, &ce)
	assert.Empty(t, w.Calls())
}

func TestLoop_CorruptStateEndsTick(t *testing.T) {
	w := doneWorker()
	f := newLoopFixture(t, map[string]int64{"a": 0}, w, DefaultCheckpointPolicy())
	require.NoError(t, f.store.Write(context.Background(), StateKey(testTenant), []byte("not json")))

	assert.Error(t, f.run(context.Background()))
	assert.Empty(t, w.Calls())
}

func TestLoop_WriteErrorEndsTick(t *testing.T) {
	w := doneWorker()
	f := newLoopFixture(t, map[string]int64{"a": 0, "b": 0}, w, DefaultCheckpointPolicy())
	f.store.InjectFault("write", errors.New("disk full"))

	err := f.run(context.Background())
	var ce *coordination.Error
	require.ErrorAs(t, err, &ce)
	assert.Empty(t, w.Calls(), "worker must not run before RUNNING is persisted")
}

func TestLoop_LeaseLostStopsWithoutWriting(t *testing.T) {
	var f *loopFixture
	w := &recordingWorker{answer: func(ctx context.Context, _, cursor string) (Outcome, error) {
		if cursor == "" {
			return Progressed("c1"), nil
		}
		f.store.Locks().Expire(LockName(testTenant))
		<-ctx.Done()
		return Interrupted("c2"), nil
	}}
	f = newLoopFixture(t, map[string]int64{"a": 0}, w, CheckpointPolicy{EveryN: 1000, Interval: time.Hour})

	writes := 0
	f.loop.store = &writeSpy{Store: f.store, onWrite: func([]byte) { writes++ }}

	err := f.run(context.Background())
	assert.True(t, coordination.IsLeaseLost(err))
	assert.Equal(t, 1, writes, "only the RUNNING mark is written")
	assert.Equal(t, "", persisted(t, f.store).Progress("content", "a").Cursor)
}

func TestLoop_UnknownOutcome(t *testing.T) {
	w := &recordingWorker{answer: func(context.Context, string, string) (Outcome, error) {
		return Outcome{Kind: 99}, nil
	}}
	f := newLoopFixture(t, map[string]int64{"a": 0}, w, DefaultCheckpointPolicy())
	err := f.run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown outcome")
}

// writeSpy observes writes to the wrapped store.
type writeSpy struct {
	*memory.Store
	onWrite func(data []byte)
}

func (s *writeSpy) Write(ctx context.Context, key string, data []byte) error {
	if err := s.Store.Write(ctx, key, data); err != nil {
		return err
	}
	s.onWrite(data)
	return nil
}
