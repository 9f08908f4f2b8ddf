package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errBusy  = errors.New("database is busy")
	errFatal = errors.New("schema mismatch")
)

// script returns a function that fails with errs in order and then
// succeeds, counting its calls.
func script(calls *int, errs ...error) func() error {
	return func() error {
		*calls++
		if *calls <= len(errs) {
			return errs[*calls-1]
		}
		return nil
	}
}

func TestDo(t *testing.T) {
	tests := []struct {
		name        string
		attempts    int
		errs        []error
		shouldRetry ShouldRetryFunc
		wantCalls   int
		wantErr     error
		wantMsg     string
	}{
		{
			name:      "first attempt succeeds",
			attempts:  3,
			wantCalls: 1,
		},
		{
			name:      "recovers from busy database",
			attempts:  3,
			errs:      []error{errBusy, errBusy},
			wantCalls: 3,
		},
		{
			name:      "gives up after the last attempt",
			attempts:  3,
			errs:      []error{errBusy, errBusy, errBusy, errBusy},
			wantCalls: 3,
			wantErr:   errBusy,
			wantMsg:   "failed after 3 retries",
		},
		{
			name:        "rejected error is returned as is",
			attempts:    5,
			errs:        []error{errBusy, errFatal, errBusy},
			shouldRetry: func(err error) bool { return !errors.Is(err, errFatal) },
			wantCalls:   2,
			wantErr:     errFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{MaxRetries: tt.attempts, InitialBackoff: time.Millisecond}

			calls := 0
			err := Do(context.Background(), cfg, script(&calls, tt.errs...), tt.shouldRetry)

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			} else {
				assert.Equal(t, tt.wantErr, err)
			}
		})
	}
}

func TestDo_ContextDoneDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := Config{
		MaxRetries:     3,
		InitialBackoff: time.Hour,
		OnRetry:        func(int, error, time.Duration) { cancel() },
	}

	calls := 0
	start := time.Now()
	err := Do(ctx, cfg, script(&calls, errBusy, errBusy), nil)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestDo_InvalidConfig(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{}, script(&calls), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "MaxRetries")
	assert.Zero(t, calls)
}

func TestDo_OnRetry(t *testing.T) {
	var attempts []int
	var backoffs []time.Duration
	cfg := Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			assert.ErrorIs(t, err, errBusy)
			attempts = append(attempts, attempt)
			backoffs = append(backoffs, backoff)
		},
	}

	calls := 0
	require.Error(t, Do(context.Background(), cfg, script(&calls, errBusy, errBusy, errBusy), nil))

	assert.Equal(t, []int{1, 2}, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, backoffs)
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		attempt int
		want    time.Duration
	}{
		{
			name:    "first retry waits the initial backoff",
			cfg:     Config{MaxRetries: 3, InitialBackoff: 20 * time.Millisecond},
			attempt: 1,
			want:    20 * time.Millisecond,
		},
		{
			name:    "doubles per attempt",
			cfg:     Config{MaxRetries: 5, InitialBackoff: 20 * time.Millisecond},
			attempt: 4,
			want:    160 * time.Millisecond,
		},
		{
			name:    "capped",
			cfg:     Config{MaxRetries: 10, InitialBackoff: 20 * time.Millisecond, MaxBackoff: 500 * time.Millisecond},
			attempt: 9,
			want:    500 * time.Millisecond,
		},
		{
			name:    "jitter grows with the attempt",
			cfg:     Config{MaxRetries: 4, InitialBackoff: 100 * time.Millisecond, Jitter: 0.2},
			attempt: 2,
			// 200ms + 200ms * 0.2 * 2/4
			want: 220 * time.Millisecond,
		},
		{
			name:    "huge attempt does not overflow",
			cfg:     Config{MaxRetries: 100, InitialBackoff: time.Second},
			attempt: 90,
			want:    time.Second << 33,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, calculateBackoff(tt.cfg, tt.attempt))
		})
	}
}
