package watcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simpin/internal/affinity"
	"simpin/internal/procsnap"
)

type fakeSnapshotter struct {
	procs []procsnap.Proc
	err   error
	calls int
}

func (f *fakeSnapshotter) Snapshot(ctx context.Context) ([]procsnap.Proc, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]procsnap.Proc, len(f.procs))
	copy(out, f.procs)
	return out, nil
}

type fakeLoader struct {
	rules map[string]affinity.Mask
	err   error
}

func (f *fakeLoader) LoadRules(ctx context.Context) (map[string]affinity.Mask, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rules, nil
}

type applyCall struct {
	pid  int32
	mask affinity.Mask
}

type fakeApplier struct {
	calls []applyCall
	fail  map[int32]error
}

func (f *fakeApplier) Apply(pid int32, mask affinity.Mask) error {
	f.calls = append(f.calls, applyCall{pid: pid, mask: mask})
	if err, ok := f.fail[pid]; ok {
		return err
	}
	return nil
}

func (f *fakeApplier) Current(pid int32) (affinity.Mask, error) {
	return affinity.Mask{}, errors.New("not implemented")
}

func mustMask(t *testing.T, cpus ...int) affinity.Mask {
	t.Helper()
	mask, err := affinity.NewMask(cpus)
	require.NoError(t, err)
	return mask
}

func simRules(t *testing.T) *fakeLoader {
	return &fakeLoader{rules: map[string]affinity.Mask{
		"iRacingSim64DX11.exe": mustMask(t, 0, 1, 2, 3),
	}}
}

func newTestWatcher(snap *fakeSnapshotter, loader *fakeLoader, applier *fakeApplier) *Watcher {
	return New(Config{Interval: time.Millisecond, FailureThreshold: 3}, snap, loader, applier)
}

func TestCycleAppliesMatchOnce(t *testing.T) {
	snap := &fakeSnapshotter{procs: []procsnap.Proc{
		{PID: 100, Name: "iRacingSim64DX11.exe"},
		{PID: 200, Name: "unrelated"},
	}}
	applier := &fakeApplier{}
	w := newTestWatcher(snap, simRules(t), applier)

	require.NoError(t, w.RunCycle(context.Background()))

	require.Len(t, applier.calls, 1)
	assert.Equal(t, int32(100), applier.calls[0].pid)
	assert.Equal(t, []int{0, 1, 2, 3}, applier.calls[0].mask.CPUs())
	assert.Contains(t, w.handled, int32(100))
	assert.NotContains(t, w.handled, int32(200))

	status := w.Status()
	assert.True(t, status.Synced)
	assert.Equal(t, 1, status.Matched)
}

func TestSecondCycleIsIdempotent(t *testing.T) {
	snap := &fakeSnapshotter{procs: []procsnap.Proc{{PID: 100, Name: "iRacingSim64DX11.exe"}}}
	applier := &fakeApplier{}
	w := newTestWatcher(snap, simRules(t), applier)

	require.NoError(t, w.RunCycle(context.Background()))
	require.NoError(t, w.RunCycle(context.Background()))

	assert.Len(t, applier.calls, 1)
	assert.Equal(t, 1, w.Status().Matched)
}

func TestPidReuseIsReevaluated(t *testing.T) {
	snap := &fakeSnapshotter{procs: []procsnap.Proc{{PID: 100, Name: "iRacingSim64DX11.exe"}}}
	applier := &fakeApplier{}
	w := newTestWatcher(snap, simRules(t), applier)
	ctx := context.Background()

	require.NoError(t, w.RunCycle(ctx))
	require.Contains(t, w.handled, int32(100))

	// Cycle 2: the pid vanished; it must be forgotten.
	snap.procs = nil
	require.NoError(t, w.RunCycle(ctx))
	assert.NotContains(t, w.handled, int32(100))

	// Cycle 3: the OS recycled pid 100 for an unrelated process. It is
	// evaluated against rules but not pinned.
	snap.procs = []procsnap.Proc{{PID: 100, Name: "notepad.exe"}}
	require.NoError(t, w.RunCycle(ctx))
	assert.Len(t, applier.calls, 1)
	assert.NotContains(t, w.handled, int32(100))
}

func TestSnapshotFailureThresholdStopsLoop(t *testing.T) {
	snap := &fakeSnapshotter{err: fmt.Errorf("%w: boom", procsnap.ErrSnapshotUnavailable)}
	w := newTestWatcher(snap, simRules(t), &fakeApplier{})
	ctx := context.Background()

	require.NoError(t, w.RunCycle(ctx))
	require.NoError(t, w.RunCycle(ctx))
	err := w.RunCycle(ctx)
	assert.ErrorIs(t, err, ErrTooManyFailures)
}

func TestSnapshotSuccessResetsFailureCounter(t *testing.T) {
	snapErr := fmt.Errorf("%w: boom", procsnap.ErrSnapshotUnavailable)
	snap := &fakeSnapshotter{err: snapErr}
	w := newTestWatcher(snap, simRules(t), &fakeApplier{})
	ctx := context.Background()

	require.NoError(t, w.RunCycle(ctx))
	require.NoError(t, w.RunCycle(ctx))

	snap.err = nil
	require.NoError(t, w.RunCycle(ctx))

	// The counter restarted: two more failures stay below the threshold.
	snap.err = snapErr
	require.NoError(t, w.RunCycle(ctx))
	require.NoError(t, w.RunCycle(ctx))
	assert.ErrorIs(t, w.RunCycle(ctx), ErrTooManyFailures)
}

func TestProcessNotFoundIsRetried(t *testing.T) {
	snap := &fakeSnapshotter{procs: []procsnap.Proc{{PID: 100, Name: "iRacingSim64DX11.exe"}}}
	applier := &fakeApplier{fail: map[int32]error{
		100: fmt.Errorf("%w: pid 100", affinity.ErrProcessNotFound),
	}}
	w := newTestWatcher(snap, simRules(t), applier)
	ctx := context.Background()

	require.NoError(t, w.RunCycle(ctx))
	assert.NotContains(t, w.handled, int32(100))

	// Still live and still failing: retried every cycle.
	require.NoError(t, w.RunCycle(ctx))
	assert.Len(t, applier.calls, 2)

	// The race resolved; the pin lands.
	applier.fail = nil
	require.NoError(t, w.RunCycle(ctx))
	assert.Len(t, applier.calls, 3)
	assert.Contains(t, w.handled, int32(100))
}

func TestPermissionDeniedIsNotHandledAndWarnedOnce(t *testing.T) {
	snap := &fakeSnapshotter{procs: []procsnap.Proc{{PID: 100, Name: "iRacingSim64DX11.exe"}}}
	applier := &fakeApplier{fail: map[int32]error{
		100: fmt.Errorf("%w: pid 100", affinity.ErrPermissionDenied),
	}}
	w := newTestWatcher(snap, simRules(t), applier)
	ctx := context.Background()

	require.NoError(t, w.RunCycle(ctx))
	require.NoError(t, w.RunCycle(ctx))

	// Retried both cycles, never handled, warned only on the first.
	assert.Len(t, applier.calls, 2)
	assert.NotContains(t, w.handled, int32(100))
	assert.Contains(t, w.warned, int32(100))
	assert.False(t, w.Status().Synced)

	// Warn suppression clears when the pid goes away.
	snap.procs = nil
	require.NoError(t, w.RunCycle(ctx))
	assert.NotContains(t, w.warned, int32(100))
}

func TestRuleLoadFailureSkipsCycle(t *testing.T) {
	snap := &fakeSnapshotter{procs: []procsnap.Proc{{PID: 100, Name: "iRacingSim64DX11.exe"}}}
	loader := &fakeLoader{err: errors.New("database is locked")}
	applier := &fakeApplier{}
	w := newTestWatcher(snap, loader, applier)
	ctx := context.Background()

	require.NoError(t, w.RunCycle(ctx))
	assert.Empty(t, applier.calls)

	// Rules come back; the process is picked up on the next cycle.
	loader.err = nil
	loader.rules = simRules(t).rules
	require.NoError(t, w.RunCycle(ctx))
	assert.Len(t, applier.calls, 1)
}

func TestRulesReloadedEveryCycle(t *testing.T) {
	snap := &fakeSnapshotter{procs: []procsnap.Proc{{PID: 50, Name: "late.exe"}}}
	loader := &fakeLoader{rules: map[string]affinity.Mask{}}
	applier := &fakeApplier{}
	w := newTestWatcher(snap, loader, applier)
	ctx := context.Background()

	require.NoError(t, w.RunCycle(ctx))
	assert.Empty(t, applier.calls)

	// The user added a rule while the watcher was running.
	loader.rules = map[string]affinity.Mask{"late.exe": mustMask(t, 2)}
	require.NoError(t, w.RunCycle(ctx))
	require.Len(t, applier.calls, 1)
	assert.Equal(t, int32(50), applier.calls[0].pid)
}

func TestCaseSensitivityIsConfigurable(t *testing.T) {
	snap := &fakeSnapshotter{procs: []procsnap.Proc{{PID: 100, Name: "IRACINGSIM64DX11.EXE"}}}

	applier := &fakeApplier{}
	w := newTestWatcher(snap, simRules(t), applier)
	require.NoError(t, w.RunCycle(context.Background()))
	assert.Empty(t, applier.calls, "default matching is case-sensitive")

	applier = &fakeApplier{}
	w = New(Config{Interval: time.Millisecond, FailureThreshold: 3, CaseInsensitive: true},
		snap, simRules(t), applier)
	require.NoError(t, w.RunCycle(context.Background()))
	assert.Len(t, applier.calls, 1)
}

func TestMatchesProcessedInSnapshotOrder(t *testing.T) {
	snap := &fakeSnapshotter{procs: []procsnap.Proc{
		{PID: 300, Name: "iRacingSim64DX11.exe"},
		{PID: 100, Name: "iRacingSim64DX11.exe"},
		{PID: 200, Name: "iRacingSim64DX11.exe"},
	}}
	applier := &fakeApplier{}
	w := newTestWatcher(snap, simRules(t), applier)

	require.NoError(t, w.RunCycle(context.Background()))
	require.Len(t, applier.calls, 3)
	assert.Equal(t, int32(300), applier.calls[0].pid)
	assert.Equal(t, int32(100), applier.calls[1].pid)
	assert.Equal(t, int32(200), applier.calls[2].pid)
}

func TestRunStopsOnCancel(t *testing.T) {
	snap := &fakeSnapshotter{}
	w := newTestWatcher(snap, &fakeLoader{rules: map[string]affinity.Mask{}}, &fakeApplier{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Let at least one cycle complete before asking for shutdown.
	require.Eventually(t, func() bool { return !w.Status().At.IsZero() },
		time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after cancellation")
	}
	assert.Greater(t, snap.calls, 0)
}

func TestHeartbeatStaleness(t *testing.T) {
	var h Heartbeat
	assert.True(t, h.Stale(time.Second), "no heartbeat yet is stale")

	h = Heartbeat{At: time.Now()}
	assert.False(t, h.Stale(time.Second))

	h = Heartbeat{At: time.Now().Add(-3 * time.Second)}
	assert.True(t, h.Stale(time.Second))
}
