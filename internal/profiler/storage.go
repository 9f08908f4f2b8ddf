package profiler

import (
	"context"
	"database/sql"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/coral-mesh/stacksampler/internal/buffer"
	"github.com/coral-mesh/stacksampler/internal/duckdb"
	"github.com/coral-mesh/stacksampler/internal/errors"
	"github.com/coral-mesh/stacksampler/internal/retry"
	"github.com/coral-mesh/stacksampler/internal/safe"
)

// Storage persists sampling sessions and their samples in DuckDB.
type Storage struct {
	db     *sql.DB
	logger zerolog.Logger
	mu     sync.RWMutex
}

// SessionInfo is one row of sampling_sessions.
type SessionInfo struct {
	ID          string
	PID         int
	BinaryPath  string
	IntervalMs  float64
	Memory      bool
	StartedAt   time.Time
	StoppedAt   *time.Time
	LostSamples int64
}

// StoredSample is one row of thread_samples.
type StoredSample struct {
	ThreadID     int
	ThreadName   string
	Timestamp    time.Time
	PC           uint64
	SP           uint64
	FP           uint64
	RSS          uint64
	Duplicate    bool
	LocationHash uint64
}

// ThreadSummary aggregates the samples of one thread in a session.
type ThreadSummary struct {
	ThreadID          int
	ThreadName        string
	Samples           int64
	Duplicates        int64
	DistinctLocations int64
	FirstSample       time.Time
	LastSample        time.Time
}

// flushAttempts bounds how often one drained batch is offered to the
// database before it is dropped.
const flushAttempts = 3

func (s *Storage) flushRetry() retry.Config {
	return retry.Config{
		MaxRetries:     flushAttempts,
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		Jitter:         0.2,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			s.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying sample flush")
		},
	}
}

// withFlushRetry runs store until it succeeds, fails with a context error
// or flushAttempts is reached.
func (s *Storage) withFlushRetry(ctx context.Context, store func() error) error {
	return retry.Do(ctx, s.flushRetry(), store, isTransient)
}

// isTransient reports whether a failed write may succeed when repeated.
func isTransient(err error) bool {
	return !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, context.DeadlineExceeded)
}

// Drainer is the source RunFlushLoop empties.
type Drainer interface {
	Drain() buffer.Batch
}

// NewStorage creates the sample tables in db if needed.
func NewStorage(db *sql.DB, logger zerolog.Logger) (*Storage, error) {
	s := &Storage{
		db:     db,
		logger: logger.With().Str("component", "sample_storage").Logger(),
	}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Storage) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sampling_sessions (
			session_id   TEXT PRIMARY KEY,
			pid          INTEGER   NOT NULL,
			binary_path  TEXT      NOT NULL,
			interval_ms  DOUBLE    NOT NULL,
			memory       BOOLEAN   NOT NULL,
			started_at   TIMESTAMP NOT NULL,
			stopped_at   TIMESTAMP,
			lost_samples BIGINT    NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS thread_samples (
			session_id    TEXT      NOT NULL,
			thread_id     INTEGER   NOT NULL,
			thread_name   TEXT      NOT NULL,
			timestamp     TIMESTAMP NOT NULL,
			pc            UBIGINT   NOT NULL,
			sp            UBIGINT   NOT NULL,
			fp            UBIGINT   NOT NULL,
			rss_bytes     UBIGINT   NOT NULL,
			duplicate     BOOLEAN   NOT NULL,
			location_hash UBIGINT   NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_thread_samples_session
			ON thread_samples (session_id);
		CREATE INDEX IF NOT EXISTS idx_thread_samples_timestamp
			ON thread_samples (timestamp);

		CREATE TABLE IF NOT EXISTS thread_markers (
			session_id TEXT      NOT NULL,
			thread_id  INTEGER   NOT NULL,
			name       TEXT      NOT NULL,
			timestamp  TIMESTAMP NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Sample storage schema initialized")

	return nil
}

// LocationHash identifies a sampled code location.
func LocationHash(pc uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], pc)
	return xxh3.Hash(b[:])
}

// StoreSession records the start of a session.
func (s *Storage) StoreSession(ctx context.Context, info SessionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sampling_sessions (
			session_id, pid, binary_path, interval_ms, memory, started_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`,
		info.ID,
		info.PID,
		info.BinaryPath,
		info.IntervalMs,
		info.Memory,
		info.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store session %s: %w", info.ID, err)
	}

	return nil
}

// FinishSession records the stop time of a session.
func (s *Storage) FinishSession(ctx context.Context, sessionID string, stoppedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE sampling_sessions SET stopped_at = ? WHERE session_id = ?`,
		stoppedAt, sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish session %s: %w", sessionID, err)
	}

	return nil
}

// StoreBatch writes a drained batch in a single transaction.
func (s *Storage) StoreBatch(ctx context.Context, sessionID string, batch buffer.Batch) error {
	if len(batch.Entries) == 0 && len(batch.Markers) == 0 && batch.Lost == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer errors.DeferRollback(s.logger, tx)

	if len(batch.Entries) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO thread_samples (
				session_id, thread_id, thread_name, timestamp,
				pc, sp, fp, rss_bytes, duplicate, location_hash
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare sample insert: %w", err)
		}
		defer errors.DeferClose(s.logger, stmt, "failed to close sample insert statement")

		for _, e := range batch.Entries {
			pc := uint64(e.PC)
			_, err := stmt.ExecContext(ctx,
				sessionID,
				e.ThreadID,
				e.ThreadName,
				e.Timestamp,
				pc,
				uint64(e.SP),
				uint64(e.FP),
				e.RSS,
				e.Duplicate,
				LocationHash(pc),
			)
			if err != nil {
				return fmt.Errorf("failed to store sample: %w", err)
			}
		}
	}

	for _, m := range batch.Markers {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO thread_markers (session_id, thread_id, name, timestamp) VALUES (?, ?, ?, ?)`,
			sessionID, m.ThreadID, m.Name, m.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to store marker: %w", err)
		}
	}

	if batch.Lost > 0 {
		lost, clamped := safe.Uint64ToInt64(batch.Lost)
		if clamped {
			s.logger.Warn().Uint64("lost", batch.Lost).Msg("Lost sample count clamped")
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE sampling_sessions SET lost_samples = lost_samples + ? WHERE session_id = ?`,
			lost, sessionID,
		)
		if err != nil {
			return fmt.Errorf("failed to record lost samples: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Sessions lists sessions, most recent first.
func (s *Storage) Sessions(ctx context.Context) ([]SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, args, err := duckdb.NewQueryBuilder("sampling_sessions").
		Select("session_id", "pid", "binary_path", "interval_ms", "memory", "started_at", "stopped_at", "lost_samples").
		OrderBy("-started_at").
		Build()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer errors.DeferClose(s.logger, rows, "failed to close session rows")

	var sessions []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var stopped sql.NullTime
		if err := rows.Scan(
			&info.ID,
			&info.PID,
			&info.BinaryPath,
			&info.IntervalMs,
			&info.Memory,
			&info.StartedAt,
			&stopped,
			&info.LostSamples,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if stopped.Valid {
			t := stopped.Time
			info.StoppedAt = &t
		}
		sessions = append(sessions, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// QuerySamples returns the samples of a session within [start, end]. Zero
// times leave that side of the range open; an empty sessionID matches all
// sessions.
func (s *Storage) QuerySamples(ctx context.Context, sessionID string, start, end time.Time, limit int) ([]StoredSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, args, err := duckdb.NewQueryBuilder("thread_samples").
		Select("thread_id", "thread_name", "timestamp", "pc", "sp", "fp", "rss_bytes", "duplicate", "location_hash").
		Eq("session_id", sessionID).
		TimeRange("timestamp", start, end).
		OrderBy("timestamp").
		Limit(limit).
		Build()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer errors.DeferClose(s.logger, rows, "failed to close sample rows")

	var samples []StoredSample
	for rows.Next() {
		var sample StoredSample
		if err := rows.Scan(
			&sample.ThreadID,
			&sample.ThreadName,
			&sample.Timestamp,
			&sample.PC,
			&sample.SP,
			&sample.FP,
			&sample.RSS,
			&sample.Duplicate,
			&sample.LocationHash,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		samples = append(samples, sample)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating samples: %w", err)
	}

	return samples, nil
}

// ThreadSummaries aggregates samples per thread, busiest thread first.
func (s *Storage) ThreadSummaries(ctx context.Context, sessionID string) ([]ThreadSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, args, err := duckdb.NewQueryBuilder("thread_samples").
		Select(
			"thread_id",
			"MAX(thread_name)",
			"COUNT(*) AS samples",
			"COUNT(*) FILTER (WHERE duplicate)",
			"COUNT(DISTINCT location_hash)",
			"MIN(timestamp)",
			"MAX(timestamp)",
		).
		Eq("session_id", sessionID).
		GroupBy("thread_id").
		OrderBy("-samples", "thread_id").
		Build()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query thread summaries: %w", err)
	}
	defer errors.DeferClose(s.logger, rows, "failed to close summary rows")

	var summaries []ThreadSummary
	for rows.Next() {
		var ts ThreadSummary
		if err := rows.Scan(
			&ts.ThreadID,
			&ts.ThreadName,
			&ts.Samples,
			&ts.Duplicates,
			&ts.DistinctLocations,
			&ts.FirstSample,
			&ts.LastSample,
		); err != nil {
			return nil, fmt.Errorf("failed to scan thread summary: %w", err)
		}
		summaries = append(summaries, ts)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating thread summaries: %w", err)
	}

	return summaries, nil
}

// CleanupOldSamples removes samples and markers older than retention.
func (s *Storage) CleanupOldSamples(ctx context.Context, retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retention)

	result, err := s.db.ExecContext(ctx, `DELETE FROM thread_samples WHERE timestamp < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup old samples: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM thread_markers WHERE timestamp < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to cleanup old markers: %w", err)
	}

	rowsDeleted, _ := result.RowsAffected()
	if rowsDeleted > 0 {
		s.logger.Debug().
			Int64("rows_deleted", rowsDeleted).
			Time("cutoff", cutoff).
			Msg("Cleaned up old samples")
	}

	return nil
}

// RunCleanupLoop deletes samples older than retention every interval until
// ctx is cancelled.
func (s *Storage) RunCleanupLoop(ctx context.Context, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Debug().
		Dur("retention", retention).
		Dur("interval", interval).
		Msg("Starting sample cleanup loop")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.CleanupOldSamples(ctx, retention); err != nil {
				s.logger.Error().Err(err).Msg("Failed to cleanup old samples")
			}
		}
	}
}

// RunFlushLoop drains src into the session every interval. A final flush
// runs after ctx is cancelled so samples recorded up to that point are kept.
func (s *Storage) RunFlushLoop(ctx context.Context, src Drainer, sessionID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	flush := func(ctx context.Context) {
		batch := src.Drain()
		err := s.withFlushRetry(ctx, func() error {
			return s.StoreBatch(ctx, sessionID, batch)
		})
		if err != nil {
			s.logger.Error().
				Err(err).
				Int("entries", len(batch.Entries)).
				Msg("Failed to flush samples")
			return
		}
		if len(batch.Entries) > 0 {
			s.logger.Debug().
				Int("entries", len(batch.Entries)).
				Int("markers", len(batch.Markers)).
				Uint64("lost", batch.Lost).
				Msg("Flushed samples")
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			flush(ctx)
		}
	}
}
