package sampler

import (
	"time"

	"github.com/coral-mesh/stacksampler/internal/sys/regs"
)

// Sample is one capture of a thread's execution state.
type Sample struct {
	Timestamp time.Time
	Thread    ThreadInfo

	PC uintptr
	SP uintptr
	FP uintptr

	// RSS is the process resident set size in bytes. Only the first sampled
	// thread of a pass carries it, and only when memory sampling is on.
	RSS uint64

	// Context is the raw register context, owned by the thread handle.
	Context regs.Snapshot
}

// sampleContext suspends one thread, reads its registers and records a
// sample while the thread is still stopped. Every successful Suspend is
// paired with exactly one Resume.
func (s *Scheduler) sampleContext(l Locked, info ThreadInfo, isFirst bool) {
	h := info.Handle()
	if h == nil || h.Empty() {
		return
	}

	// Taken before suspending so the target's state cannot skew it.
	sample := Sample{
		Timestamp: time.Now(),
		Thread:    info,
	}

	if isFirst && s.memory != nil && l.MemoryEnabled() {
		rss, err := s.memory.ResidentFast()
		if err != nil {
			s.logger.Trace().Err(err).Msg("Failed to read resident memory")
		} else {
			sample.RSS = rss
		}
	}

	if err := h.Suspend(); err != nil {
		s.metrics.SuspendFailures.Inc()
		s.logger.Trace().Err(err).Int("tid", info.ID()).Msg("Failed to suspend thread")
		return
	}

	suspendedAt := time.Now()
	defer func() {
		if err := h.Resume(); err != nil {
			s.logger.Warn().Err(err).Int("tid", info.ID()).Msg("Failed to resume thread")
		}
		s.metrics.SuspendWindow.Observe(time.Since(suspendedAt).Seconds())
	}()

	// Suspension is asynchronous; a successful context read is what
	// confirms the thread actually stopped.
	ctx, err := h.GetContext()
	if err != nil {
		s.metrics.ContextFailures.Inc()
		s.logger.Trace().Err(err).Int("tid", info.ID()).Msg("Failed to read thread context")
		return
	}

	r := ctx.Registers()
	sample.PC = r.PC
	sample.SP = r.SP
	sample.FP = r.FP
	sample.Context = ctx

	l.Buffer().AddSample(&sample)
	s.metrics.Samples.Inc()
}
