package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestNewJSONFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, closer, err := New(Config{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)
	defer func() { require.NoError(t, closer()) }()

	logger.Debug("hidden")
	logger.Info("observation ready", "observation_id", "abc")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "observation ready", entry["msg"])
	assert.Equal(t, "abc", entry["observation_id"])
	assert.Equal(t, "lensclip", entry["service"])
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	_, _, err := New(Config{Format: "xml"}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestNewWritesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "lensclip.log")
	var buf bytes.Buffer
	logger, closer, err := New(Config{Format: "text", File: path}, &buf)
	require.NoError(t, err)

	logger.Warn("disk nearly full")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "disk nearly full")
	assert.Contains(t, buf.String(), "disk nearly full")
}
