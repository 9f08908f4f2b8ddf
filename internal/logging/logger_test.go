package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level   string
		visible []string
		hidden  []string
	}{
		{level: "trace", visible: []string{"trace message", "debug message", "info message"}},
		{level: "debug", visible: []string{"debug message", "info message"}, hidden: []string{"trace message"}},
		{level: "INFO", visible: []string{"info message"}, hidden: []string{"trace message", "debug message"}},
		{level: "warn", visible: []string{"warn message"}, hidden: []string{"info message"}},
		{level: "bogus", visible: []string{"info message"}, hidden: []string{"debug message"}},
		{level: "", visible: []string{"info message"}, hidden: []string{"debug message"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Level: tt.level, Format: FormatJSON, Output: &buf})

			logger.Trace().Msg("trace message")
			logger.Debug().Msg("debug message")
			logger.Info().Msg("info message")
			logger.Warn().Msg("warn message")

			output := buf.String()
			for _, msg := range tt.visible {
				assert.Contains(t, output, msg)
			}
			for _, msg := range tt.hidden {
				assert.NotContains(t, output, msg)
			}
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithComponent(Config{Level: "info", Format: FormatJSON, Output: &buf}, "sampler")

	logger.Info().Int("tid", 42).Msg("sampled")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sampler", entry["component"])
	assert.Equal(t, "sampled", entry["message"])
	assert.EqualValues(t, 42, entry["tid"])
	assert.Contains(t, entry, "time")
}

func TestNew_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: FormatConsole, Output: &buf})

	logger.Info().Msg("hello")

	output := buf.String()
	assert.Contains(t, output, "hello")
	assert.False(t, strings.HasPrefix(output, "{"), "console output should not be JSON")
}

func TestNew_AutoFormatOnBuffer(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: FormatAuto, Output: &buf})

	logger.Info().Msg("hello")

	assert.True(t, strings.HasPrefix(buf.String(), "{"), "non-terminal output should be JSON")
}
