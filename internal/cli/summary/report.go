// Package summary renders recorded sampling sessions.
package summary

import (
	"fmt"
	"io"
	"time"

	"github.com/coral-mesh/stacksampler/internal/cli/helpers"
	"github.com/coral-mesh/stacksampler/internal/profiler"
)

type sessionRow struct {
	ID         string     `header:"Session" json:"session_id"`
	PID        int        `header:"PID" json:"pid"`
	Binary     string     `header:"Binary" json:"binary_path"`
	IntervalMs float64    `header:"Interval (ms)" json:"interval_ms"`
	Memory     bool       `header:"Memory" json:"memory"`
	StartedAt  time.Time  `header:"Started" json:"started_at"`
	StoppedAt  *time.Time `header:"Stopped" json:"stopped_at,omitempty"`
	Lost       int64      `header:"Lost" json:"lost_samples"`
}

type threadRow struct {
	TID        int       `header:"TID" json:"tid"`
	Name       string    `header:"Name" json:"name"`
	Samples    int64     `header:"Samples" json:"samples"`
	Duplicates int64     `header:"Duplicates" json:"duplicates"`
	Locations  int64     `header:"Locations" json:"distinct_locations"`
	First      time.Time `header:"First" json:"first_sample"`
	Last       time.Time `header:"Last" json:"last_sample"`
}

type sampleRow struct {
	Timestamp time.Time `header:"Time" json:"timestamp"`
	TID       int       `header:"TID" json:"tid"`
	Name      string    `header:"Name" json:"name"`
	PC        uint64    `header:"PC" fmt:"hex" json:"pc"`
	SP        uint64    `header:"SP" fmt:"hex" json:"sp"`
	FP        uint64    `header:"FP" fmt:"hex" json:"fp"`
	RSS       uint64    `header:"RSS" json:"rss_bytes,omitempty"`
	Duplicate bool      `header:"Dup" json:"duplicate"`
}

// WriteSessions renders sessions in the given format.
func WriteSessions(w io.Writer, format helpers.OutputFormat, sessions []profiler.SessionInfo) error {
	rows := make([]sessionRow, len(sessions))
	for i, s := range sessions {
		rows[i] = sessionRow{
			ID:         s.ID,
			PID:        s.PID,
			Binary:     s.BinaryPath,
			IntervalMs: s.IntervalMs,
			Memory:     s.Memory,
			StartedAt:  s.StartedAt,
			StoppedAt:  s.StoppedAt,
			Lost:       s.LostSamples,
		}
	}
	return write(w, format, rows, "No sessions recorded.")
}

// WriteThreads renders per-thread summaries in the given format.
func WriteThreads(w io.Writer, format helpers.OutputFormat, summaries []profiler.ThreadSummary) error {
	rows := make([]threadRow, len(summaries))
	for i, s := range summaries {
		rows[i] = threadRow{
			TID:        s.ThreadID,
			Name:       s.ThreadName,
			Samples:    s.Samples,
			Duplicates: s.Duplicates,
			Locations:  s.DistinctLocations,
			First:      s.FirstSample,
			Last:       s.LastSample,
		}
	}
	return write(w, format, rows, "No samples recorded.")
}

// WriteSamples renders raw samples in the given format.
func WriteSamples(w io.Writer, format helpers.OutputFormat, samples []profiler.StoredSample) error {
	rows := make([]sampleRow, len(samples))
	for i, s := range samples {
		rows[i] = sampleRow{
			Timestamp: s.Timestamp,
			TID:       s.ThreadID,
			Name:      s.ThreadName,
			PC:        s.PC,
			SP:        s.SP,
			FP:        s.FP,
			RSS:       s.RSS,
			Duplicate: s.Duplicate,
		}
	}
	return write(w, format, rows, "No samples in range.")
}

func write[T any](w io.Writer, format helpers.OutputFormat, rows []T, empty string) error {
	if len(rows) == 0 && format == helpers.FormatTable {
		_, err := fmt.Fprintln(w, empty)
		return err
	}

	f, err := helpers.NewFormatter(format)
	if err != nil {
		return err
	}
	return f.Format(rows, w)
}
