package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeFlags_Parse(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		flags     TimeFlags
		wantStart time.Time
		wantEnd   time.Time
		wantErr   bool
	}{
		{name: "unbounded"},
		{name: "since", flags: TimeFlags{Since: "5m"}, wantStart: now.Add(-5 * time.Minute)},
		{name: "since invalid", flags: TimeFlags{Since: "five"}, wantErr: true},
		{name: "since negative", flags: TimeFlags{Since: "-1m"}, wantErr: true},
		{
			name:      "from and to",
			flags:     TimeFlags{From: "2026-03-01T10:00:00Z", To: "2026-03-01T11:00:00Z"},
			wantStart: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
		},
		{
			name:      "from overrides since",
			flags:     TimeFlags{Since: "1h", From: "2026-03-01"},
			wantStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{name: "to only", flags: TimeFlags{To: "now"}, wantEnd: now},
		{name: "end before start", flags: TimeFlags{From: "2026-03-02", To: "2026-03-01"}, wantErr: true},
		{name: "bad from", flags: TimeFlags{From: "yesterday"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.flags.parseAt(now)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.wantStart.Equal(got.Start), "start = %s, want %s", got.Start, tt.wantStart)
			assert.True(t, tt.wantEnd.Equal(got.End), "end = %s, want %s", got.End, tt.wantEnd)
		})
	}
}
