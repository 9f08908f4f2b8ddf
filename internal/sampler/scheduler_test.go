package sampler

import (
	"math"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/stacksampler/internal/sys/timeres"
	"github.com/coral-mesh/stacksampler/internal/testutil"
)

type countingPlatform struct {
	mu     sync.Mutex
	begins []uint32
	ends   []uint32
}

func (p *countingPlatform) BeginPeriod(ms uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.begins = append(p.begins, ms)
	return nil
}

func (p *countingPlatform) EndPeriod(ms uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ends = append(p.ends, ms)
	return nil
}

func (p *countingPlatform) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.begins), len(p.ends)
}

// newTestScheduler builds a scheduler without starting its loop so tests
// can drive passes directly.
func newTestScheduler(t *testing.T, state *fakeState, opts ...Option) *Scheduler {
	t.Helper()

	platform := &countingPlatform{}
	opts = append([]Option{WithTimerManager(timeres.NewManager(platform, testutil.NewTestLogger(t)))}, opts...)

	s, err := newScheduler(state, state.generation, 1, testutil.NewTestLogger(t), opts...)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func TestRoundInterval(t *testing.T) {
	tests := []struct {
		in      float64
		want    int
		wantErr bool
	}{
		{in: 1, want: 1},
		{in: 0.2, want: 1},
		{in: 0, want: 1},
		{in: 1.49, want: 1},
		{in: 1.5, want: 2},
		{in: 9.6, want: 10},
		{in: 50, want: 50},
		{in: -1, wantErr: true},
		{in: math.NaN(), wantErr: true},
		{in: math.Inf(1), wantErr: true},
	}

	for _, tt := range tests {
		got, err := RoundInterval(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidInterval, "input %v", tt.in)
			continue
		}
		require.NoError(t, err, "input %v", tt.in)
		assert.Equal(t, tt.want, got, "input %v", tt.in)
	}
}

func TestNew_RequiresState(t *testing.T) {
	_, err := New(nil, 0, 1, testutil.NewTestLogger(t))
	require.Error(t, err)

	_, err = New(newFakeState(), 0, math.NaN(), testutil.NewTestLogger(t))
	require.ErrorIs(t, err, ErrInvalidInterval)
}

func TestPass_EligibleThreadsOnly(t *testing.T) {
	a := newFakeThread(1)
	disabled := newFakeThread(2)
	disabled.profiled = false
	deleting := newFakeThread(3)
	deleting.pendingDelete = true
	b := newFakeThread(4)

	state := newFakeState(threadInfos(a, disabled, deleting, b)...)
	s := newTestScheduler(t, state)

	require.True(t, s.pass())

	buf := state.buffer
	require.Len(t, buf.samples, 2)
	assert.Equal(t, 1, buf.samples[0].Thread.ID(), "registration order is kept")
	assert.Equal(t, 4, buf.samples[1].Thread.ID())
	assert.Zero(t, buf.samplesFor(2))
	assert.Zero(t, buf.samplesFor(3))
	assert.Zero(t, disabled.handle.suspends)
	assert.Zero(t, deleting.handle.suspends)

	assert.Equal(t, uintptr(0x1001), buf.samples[0].PC)
	assert.Equal(t, uintptr(0x7000), buf.samples[0].SP)
	assert.Equal(t, uintptr(0x7100), buf.samples[0].FP)
	assert.Len(t, a.responsive, 1)
	assert.Equal(t, 1, buf.expireCalls)
}

func TestPass_SampleRecordedWhileSuspended(t *testing.T) {
	a := newFakeThread(1)
	state := newFakeState(threadInfos(a)...)
	s := newTestScheduler(t, state)

	require.True(t, s.pass())

	require.Equal(t, []bool{true}, state.buffer.frozen)
	assert.False(t, a.handle.suspended)
	assert.Equal(t, 1, a.handle.suspends)
	assert.Equal(t, 1, a.handle.resumes)
}

func TestPass_ContextFailureResumes(t *testing.T) {
	bad := newFakeThread(1)
	bad.handle.contextErr = errInjected
	good := newFakeThread(2)

	state := newFakeState(threadInfos(bad, good)...)
	metrics := NewMetrics(nil)
	s := newTestScheduler(t, state, WithMetrics(metrics))

	for range 3 {
		require.True(t, s.pass())
	}

	assert.Equal(t, 3, bad.handle.suspends)
	assert.Equal(t, 3, bad.handle.resumes, "every successful suspend is resumed")
	assert.False(t, bad.handle.suspended)
	assert.Zero(t, state.buffer.samplesFor(1))
	assert.Equal(t, 3, state.buffer.samplesFor(2))
	assert.Equal(t, float64(3), promtest.ToFloat64(metrics.ContextFailures))
	assert.Equal(t, float64(3), promtest.ToFloat64(metrics.Samples))
}

func TestPass_SuspendFailureIsolated(t *testing.T) {
	bad := newFakeThread(1)
	bad.handle.suspendErr = errInjected
	good := newFakeThread(2)

	state := newFakeState(threadInfos(bad, good)...)
	metrics := NewMetrics(nil)
	s := newTestScheduler(t, state, WithMetrics(metrics))

	require.True(t, s.pass())

	assert.Zero(t, bad.handle.resumes, "nothing to resume when suspend failed")
	assert.Zero(t, bad.handle.contextReads)
	assert.Equal(t, 1, state.buffer.samplesFor(2))
	assert.Equal(t, 1, good.handle.resumes)
	assert.Equal(t, float64(1), promtest.ToFloat64(metrics.SuspendFailures))
}

func TestPass_MemoryOnFirstThread(t *testing.T) {
	tests := []struct {
		name     string
		enabled  bool
		wantCall int
		wantRSS  int
	}{
		{name: "enabled", enabled: true, wantCall: 1, wantRSS: 1},
		{name: "disabled", enabled: false, wantCall: 0, wantRSS: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := newFakeState(threadInfos(newFakeThread(1), newFakeThread(2), newFakeThread(3))...)
			state.memory = tt.enabled
			mem := &fakeMemory{rss: 4096}
			s := newTestScheduler(t, state, WithMemoryReporter(mem))

			require.True(t, s.pass())

			withRSS := 0
			for _, sample := range state.buffer.samples {
				if sample.RSS != 0 {
					withRSS++
				}
			}
			assert.Equal(t, tt.wantCall, mem.calls)
			assert.Equal(t, tt.wantRSS, withRSS)
			if tt.enabled {
				assert.Equal(t, uint64(4096), state.buffer.samples[0].RSS)
			}
		})
	}
}

func TestPass_MemoryOnlyForFirstEligibleThread(t *testing.T) {
	disabled := newFakeThread(1)
	disabled.profiled = false
	first := newFakeThread(2)
	second := newFakeThread(3)

	state := newFakeState(threadInfos(disabled, first, second)...)
	state.memory = true
	mem := &fakeMemory{rss: 1 << 20}
	s := newTestScheduler(t, state, WithMemoryReporter(mem))

	require.True(t, s.pass())

	require.Len(t, state.buffer.samples, 2)
	assert.Equal(t, 2, state.buffer.samples[0].Thread.ID())
	assert.Equal(t, uint64(1<<20), state.buffer.samples[0].RSS)
	assert.Zero(t, state.buffer.samples[1].RSS)
	assert.Equal(t, 1, mem.calls)
}

func TestPass_EmptyHandleUsesUpMemorySlot(t *testing.T) {
	empty := newFakeThread(1)
	empty.handle.empty = true
	sampled := newFakeThread(2)

	state := newFakeState(threadInfos(empty, sampled)...)
	state.memory = true
	mem := &fakeMemory{rss: 1 << 20}
	s := newTestScheduler(t, state, WithMemoryReporter(mem))

	require.True(t, s.pass())

	require.Len(t, state.buffer.samples, 1)
	assert.Equal(t, 2, state.buffer.samples[0].Thread.ID())
	assert.Zero(t, state.buffer.samples[0].RSS)
	assert.Zero(t, mem.calls)
}

func TestPass_DuplicateWhenSleeping(t *testing.T) {
	sleeper := newFakeThread(1)
	state := newFakeState(threadInfos(sleeper)...)
	metrics := NewMetrics(nil)
	s := newTestScheduler(t, state, WithMetrics(metrics))

	// First pass takes a real sample so there is something to duplicate.
	require.True(t, s.pass())
	require.Equal(t, 1, sleeper.handle.suspends)

	sleeper.sleeping = true
	require.True(t, s.pass())

	assert.Equal(t, []int{1}, state.buffer.duplicates)
	assert.Equal(t, 1, sleeper.handle.suspends, "no suspension for a duplicated sample")
	assert.Equal(t, 1, sleeper.handle.resumes)
	assert.Len(t, sleeper.responsive, 1)
	assert.Equal(t, float64(1), promtest.ToFloat64(metrics.Duplicated))
}

func TestPass_DuplicateWithoutPriorSampleFallsThrough(t *testing.T) {
	sleeper := newFakeThread(1)
	sleeper.sleeping = true
	state := newFakeState(threadInfos(sleeper)...)
	s := newTestScheduler(t, state)

	require.True(t, s.pass())

	assert.Empty(t, state.buffer.duplicates)
	assert.Equal(t, 1, sleeper.handle.suspends)
	assert.Equal(t, 1, state.buffer.samplesFor(1))
}

func TestPass_EmptyHandleNeverSampled(t *testing.T) {
	empty := newFakeThread(1)
	empty.handle.empty = true
	missing := newFakeThread(2)
	missing.handle = nil

	state := newFakeState(threadInfos(empty, missing)...)
	s := newTestScheduler(t, state)

	for range 5 {
		require.True(t, s.pass())
	}

	assert.Empty(t, state.buffer.samples)
	assert.Zero(t, empty.handle.suspends)
}

func TestPass_Paused(t *testing.T) {
	a := newFakeThread(1)
	state := newFakeState(threadInfos(a)...)
	state.paused = true
	s := newTestScheduler(t, state)

	require.True(t, s.pass(), "pausing does not stop the loop")

	assert.Empty(t, state.buffer.samples)
	assert.Zero(t, a.handle.suspends)
	assert.Equal(t, 1, state.buffer.expireCalls)
}

func TestPass_SkipsSamplerThread(t *testing.T) {
	self := newFakeThread(77)
	other := newFakeThread(78)
	state := newFakeState(threadInfos(self, other)...)
	s := newTestScheduler(t, state)
	s.selfID = 77

	require.True(t, s.pass())

	assert.Zero(t, self.handle.suspends)
	assert.Equal(t, 1, state.buffer.samplesFor(78))
}

func TestPass_GenerationMismatch(t *testing.T) {
	a := newFakeThread(1)
	state := newFakeState(threadInfos(a)...)
	s := newTestScheduler(t, state)

	state.bumpGeneration()

	assert.False(t, s.pass())
	assert.Empty(t, state.buffer.samples)
	assert.Zero(t, state.buffer.expireCalls)
}

func TestScheduler_StopsAfterGenerationBump(t *testing.T) {
	state := newFakeState(threadInfos(newFakeThread(1))...)
	platform := &countingPlatform{}
	timers := timeres.NewManager(platform, testutil.NewTestLogger(t))

	s, err := New(state, 0, 2, testutil.NewTestLogger(t), WithTimerManager(timers))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return state.passCount() >= 3
	}, 5*time.Second, time.Millisecond)

	state.mu.Lock()
	state.generation++
	s.Stop()
	state.mu.Unlock()

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not exit after the generation changed")
	}
	s.Join()

	passes := state.passCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, passes, state.passCount(), "no passes after exit")

	begins, ends := platform.counts()
	assert.Equal(t, 1, begins)
	assert.Equal(t, 1, ends)
}

func TestScheduler_TimerResolution(t *testing.T) {
	tests := []struct {
		name       string
		intervalMs float64
		wantPeriod []uint32
	}{
		{name: "fine interval", intervalMs: 5, wantPeriod: []uint32{5}},
		{name: "coarse interval", intervalMs: 50, wantPeriod: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			platform := &countingPlatform{}
			timers := timeres.NewManager(platform, testutil.NewTestLogger(t))
			state := newFakeState()

			s, err := New(state, 0, tt.intervalMs, testutil.NewTestLogger(t), WithTimerManager(timers))
			require.NoError(t, err)
			assert.Equal(t, tt.wantPeriod, platform.begins)

			state.mu.Lock()
			state.generation++
			s.Stop()
			s.Stop()
			state.mu.Unlock()
			s.Join()

			assert.Equal(t, tt.wantPeriod, platform.ends)
			assert.Zero(t, timers.Outstanding())
		})
	}
}
