package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("info", true, &buf)
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("sweep finished", zap.Int("jobs", 3))
	require.NoError(t, log.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sweep finished", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.EqualValues(t, 3, entry["jobs"])
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("debug", false, &buf)
	require.NoError(t, err)

	log.Debug("worker started", zap.Int("worker", 1))
	assert.Contains(t, buf.String(), "DEBUG")
	assert.Contains(t, buf.String(), "worker started")
}

func TestNewBadLevel(t *testing.T) {
	_, err := New("loud", false, nil)
	assert.Error(t, err)
}
