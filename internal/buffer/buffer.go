// Package buffer implements the fixed-capacity ring the sampler records
// samples into.
//
// The ring keeps the most recent entries. Stored markers are tied to the
// ring position at which they were added and expire once that position has
// been overwritten. Buffer is not safe for concurrent use; the profiler
// guards it with its state lock.
package buffer

import (
	"fmt"
	"time"

	"github.com/coral-mesh/stacksampler/internal/sampler"
)

// Entry is one recorded sample.
type Entry struct {
	ThreadID   int
	ThreadName string
	Timestamp  time.Time
	PC         uintptr
	SP         uintptr
	FP         uintptr
	RSS        uint64
	Duplicate  bool
}

// Marker is an out-of-band event stored alongside samples.
type Marker struct {
	ThreadID  int
	Name      string
	Timestamp time.Time

	pos uint64
}

// Batch is what Drain hands to the persistence layer.
type Batch struct {
	Entries []Entry
	Markers []Marker
	// Lost counts entries overwritten before they could be drained.
	Lost uint64
}

// Buffer is a ring of sample entries.
type Buffer struct {
	entries []Entry
	write   uint64
	read    uint64
	lost    uint64

	// lastByThread maps a thread to the position of its latest entry.
	lastByThread map[int]uint64

	markers        []Marker
	markersDrained int
}

var _ sampler.Buffer = (*Buffer)(nil)

// New creates a Buffer holding up to capacity entries.
func New(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("buffer capacity must be positive, got %d", capacity)
	}
	return &Buffer{
		entries:      make([]Entry, capacity),
		lastByThread: make(map[int]uint64),
	}, nil
}

// Capacity returns the maximum number of entries kept.
func (b *Buffer) Capacity() int {
	return len(b.entries)
}

// Len returns the number of entries not yet drained.
func (b *Buffer) Len() int {
	return int(b.write - b.read)
}

// Written returns the total number of entries ever recorded.
func (b *Buffer) Written() uint64 {
	return b.write
}

// AddSample records a freshly captured sample.
func (b *Buffer) AddSample(s *sampler.Sample) {
	e := Entry{
		ThreadID:  s.Thread.ID(),
		Timestamp: s.Timestamp,
		PC:        s.PC,
		SP:        s.SP,
		FP:        s.FP,
		RSS:       s.RSS,
	}
	if named, ok := s.Thread.(interface{ Name() string }); ok {
		e.ThreadName = named.Name()
	}
	b.push(e)
}

// DuplicateLastSample copies the latest entry of threadID, stamped with ts.
// It returns false when the thread has no entry left in the ring.
func (b *Buffer) DuplicateLastSample(threadID int, ts time.Time) bool {
	pos, ok := b.lastByThread[threadID]
	if !ok || !b.live(pos) {
		return false
	}

	e := b.entries[pos%uint64(len(b.entries))]
	e.Timestamp = ts
	e.Duplicate = true
	e.RSS = 0
	b.push(e)
	return true
}

// AddMarker stores a marker at the current ring position.
func (b *Buffer) AddMarker(threadID int, name string, ts time.Time) {
	b.markers = append(b.markers, Marker{
		ThreadID:  threadID,
		Name:      name,
		Timestamp: ts,
		pos:       b.write,
	})
}

// Markers returns the number of stored markers.
func (b *Buffer) Markers() int {
	return len(b.markers)
}

// DeleteExpiredStoredMarkers drops markers whose ring position has been
// overwritten.
func (b *Buffer) DeleteExpiredStoredMarkers() {
	oldest := b.oldest()
	n := 0
	for n < len(b.markers) && b.markers[n].pos < oldest {
		n++
	}
	if n == 0 {
		return
	}

	b.markers = append(b.markers[:0], b.markers[n:]...)
	b.markersDrained -= n
	if b.markersDrained < 0 {
		b.markersDrained = 0
	}
}

// Drain returns the entries and markers recorded since the previous Drain.
func (b *Buffer) Drain() Batch {
	batch := Batch{Lost: b.lost}

	if n := b.write - b.read; n > 0 {
		batch.Entries = make([]Entry, 0, n)
		for pos := b.read; pos < b.write; pos++ {
			batch.Entries = append(batch.Entries, b.entries[pos%uint64(len(b.entries))])
		}
	}
	if b.markersDrained < len(b.markers) {
		batch.Markers = append([]Marker(nil), b.markers[b.markersDrained:]...)
	}

	b.read = b.write
	b.lost = 0
	b.markersDrained = len(b.markers)
	return batch
}

// ForgetThread drops the duplicate bookkeeping for a thread that is gone.
func (b *Buffer) ForgetThread(threadID int) {
	delete(b.lastByThread, threadID)
}

func (b *Buffer) push(e Entry) {
	capacity := uint64(len(b.entries))
	if b.write-b.read >= capacity {
		b.read++
		b.lost++
	}
	b.entries[b.write%capacity] = e
	b.lastByThread[e.ThreadID] = b.write
	b.write++
}

// oldest returns the first position still held by the ring.
func (b *Buffer) oldest() uint64 {
	capacity := uint64(len(b.entries))
	if b.write <= capacity {
		return 0
	}
	return b.write - capacity
}

func (b *Buffer) live(pos uint64) bool {
	return pos >= b.oldest() && pos < b.write
}
