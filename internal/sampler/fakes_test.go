package sampler

import (
	"errors"
	"sync"
	"time"

	"github.com/coral-mesh/stacksampler/internal/sys/regs"
)

type fakeState struct {
	mu         sync.Mutex
	generation uint32
	paused     bool
	memory     bool
	threads    []ThreadInfo
	buffer     *fakeBuffer
	passes     int
}

func newFakeState(threads ...ThreadInfo) *fakeState {
	return &fakeState{threads: threads, buffer: newFakeBuffer()}
}

func (s *fakeState) Do(fn func(Locked)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passes++
	fn(fakeLocked{s})
}

func (s *fakeState) bumpGeneration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
}

func (s *fakeState) passCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passes
}

type fakeLocked struct {
	s *fakeState
}

func (l fakeLocked) ActivityGeneration() uint32 { return l.s.generation }
func (l fakeLocked) Paused() bool { return l.s.paused }
func (l fakeLocked) Threads() []ThreadInfo { return l.s.threads }
func (l fakeLocked) Buffer() Buffer { return l.s.buffer }
func (l fakeLocked) MemoryEnabled() bool { return l.s.memory }

type fakeBuffer struct {
	samples     []Sample
	frozen      []bool
	last        map[int]bool
	duplicates  []int
	expireCalls int
}

func newFakeBuffer() *fakeBuffer {
	return &fakeBuffer{last: make(map[int]bool)}
}

func (b *fakeBuffer) DeleteExpiredStoredMarkers() { b.expireCalls++ }

func (b *fakeBuffer) DuplicateLastSample(threadID int, _ time.Time) bool {
	if !b.last[threadID] {
		return false
	}
	b.duplicates = append(b.duplicates, threadID)
	return true
}

func (b *fakeBuffer) AddSample(s *Sample) {
	cp := *s
	cp.Context = nil
	b.samples = append(b.samples, cp)
	if t, ok := s.Thread.(*fakeThread); ok && t.handle != nil {
		b.frozen = append(b.frozen, t.handle.suspended)
	}
	b.last[s.Thread.ID()] = true
}

func (b *fakeBuffer) samplesFor(id int) int {
	n := 0
	for _, s := range b.samples {
		if s.Thread.ID() == id {
			n++
		}
	}
	return n
}

type fakeThread struct {
	id            int
	profiled      bool
	pendingDelete bool
	sleeping      bool
	handle        *fakeHandle
	responsive    []time.Time
}

func newFakeThread(id int) *fakeThread {
	return &fakeThread{id: id, profiled: true, handle: &fakeHandle{pc: uintptr(0x1000 + id)}}
}

func (t *fakeThread) ID() int { return t.id }
func (t *fakeThread) HasProfile() bool { return t.profiled }
func (t *fakeThread) IsPendingDelete() bool { return t.pendingDelete }
func (t *fakeThread) CanDuplicateLastSampleDueToSleep() bool { return t.sleeping }

func (t *fakeThread) UpdateResponsiveness(now time.Time) {
	t.responsive = append(t.responsive, now)
}

func (t *fakeThread) Handle() ThreadHandle {
	if t.handle == nil {
		return nil
	}
	return t.handle
}

var errInjected = errors.New("injected failure")

type fakeHandle struct {
	empty      bool
	suspendErr error
	contextErr error
	pc         uintptr

	suspends     int
	resumes      int
	suspended    bool
	contextReads int
}

func (h *fakeHandle) Empty() bool { return h.empty }

func (h *fakeHandle) Suspend() error {
	if h.suspendErr != nil {
		return h.suspendErr
	}
	h.suspends++
	h.suspended = true
	return nil
}

func (h *fakeHandle) GetContext() (regs.Snapshot, error) {
	h.contextReads++
	if h.contextErr != nil {
		return nil, h.contextErr
	}
	return fakeSnapshot{regs.Registers{PC: h.pc, SP: 0x7000, FP: 0x7100}}, nil
}

func (h *fakeHandle) Resume() error {
	h.resumes++
	h.suspended = false
	return nil
}

type fakeSnapshot struct {
	r regs.Registers
}

func (s fakeSnapshot) Registers() regs.Registers { return s.r }

type fakeMemory struct {
	calls int
	rss   uint64
	err   error
}

func (m *fakeMemory) ResidentFast() (uint64, error) {
	m.calls++
	return m.rss, m.err
}

func threadInfos(threads ...*fakeThread) []ThreadInfo {
	out := make([]ThreadInfo, len(threads))
	for i, t := range threads {
		out[i] = t
	}
	return out
}
