package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", DebugLevel},
		{"debug", DebugLevel},
		{" info ", InfoLevel},
		{"WARN", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"FATAL", FatalLevel},
		{"nonsense", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestInit_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Level: DebugLevel, Output: &buf}))
	defer func() { _ = Init(DefaultConfig()) }()

	Info().Str("server", "calculator").Msg("connected")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "connected", entry["message"])
	assert.Equal(t, "calculator", entry["server"])
	assert.Equal(t, "info", entry["level"])
}

func TestInit_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Level: WarnLevel, Output: &buf}))
	defer func() { _ = Init(DefaultConfig()) }()

	Debug().Msg("hidden")
	Info().Msg("hidden too")
	Warn().Msg("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
}

func TestInit_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcpchat.log")
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Level: InfoLevel, Output: &buf, File: path}))
	defer func() { _ = Init(DefaultConfig()) }()

	Info().Msg("to both sinks")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "to both sinks"))
	assert.Contains(t, buf.String(), "to both sinks")
}
