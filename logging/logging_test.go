package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewToJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewTo(&buf, "warn", "json")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("chunk failed", zap.String("path", "a.csv"))
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "chunk failed", entry["msg"])
	assert.Equal(t, "a.csv", entry["path"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNewToConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewTo(&buf, "DEBUG", "console")
	require.NoError(t, err)
	logger.Debug("planned windows")
	assert.Contains(t, buf.String(), "DEBUG")
	assert.Contains(t, buf.String(), "planned windows")
}

func TestNewRejectsUnknown(t *testing.T) {
	_, err := New("loud", "json")
	require.Error(t, err)
	_, err = New("info", "xml")
	require.Error(t, err)
}
