package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(FormatJSON, zapcore.InfoLevel, zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("synced", zap.String("collection", "users"))
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "synced", entry["msg"])
	assert.Equal(t, "users", entry["collection"])
}

func TestECSFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(FormatECS, zapcore.InfoLevel, zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.Info("synced")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "synced", entry["message"])
}

func TestUnknownFormatAndLevel(t *testing.T) {
	_, err := New(Config{Format: "xml"})
	assert.Error(t, err)

	_, err = New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.log")
	restore, err := Install(Config{Level: "debug", Format: FormatJSON, File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	zap.S().Infow("written to file", "k", "v")
	restore()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestSetLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.log")
	restore, err := Install(Config{Level: "info", Format: FormatJSON, File: path})
	require.NoError(t, err)
	defer restore()

	zap.S().Debug("before")
	require.NoError(t, SetLevel("debug"))
	zap.S().Debug("after")
	require.NoError(t, zap.L().Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "before")
	assert.Contains(t, string(data), "after")

	assert.Error(t, SetLevel("loud"))
}
