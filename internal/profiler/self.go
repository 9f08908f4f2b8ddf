package profiler

import (
	"fmt"
	"time"

	"github.com/coral-mesh/stacksampler/internal/sampler"
	"github.com/coral-mesh/stacksampler/internal/sys/regs"
	"github.com/coral-mesh/stacksampler/internal/sys/thread"
)

// SampleCurrentThread records a sample of the calling OS thread without
// suspending it, together with a marker called name. The thread must be
// registered, and the caller must keep its goroutine on that thread with
// runtime.LockOSThread. It works whether or not a session is active.
func (p *Profiler) SampleCurrentThread(name string) error {
	tid := thread.CurrentID()
	r := regs.CaptureSelf()
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	var record *ThreadRecord
	for _, rec := range p.records {
		if rec.id == tid && !rec.pendingDelete {
			record = rec
			break
		}
	}
	if record == nil {
		return fmt.Errorf("%w: %d", ErrThreadNotFound, tid)
	}

	p.buffer.AddSample(&sampler.Sample{
		Timestamp: now,
		Thread:    record,
		PC:        r.PC,
		SP:        r.SP,
		FP:        r.FP,
	})
	p.buffer.AddMarker(tid, name, now)

	return nil
}
