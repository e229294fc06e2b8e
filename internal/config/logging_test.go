package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerFansOutTextAndJSON(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("report generated", "subject_id", "scan_1", "format", "pdf")

	assert.Contains(t, stderr.String(), "report generated")
	assert.Contains(t, stderr.String(), "subject_id=scan_1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(file.Bytes(), &entry))
	assert.Equal(t, "report generated", entry["msg"])
	assert.Equal(t, "scan_1", entry["subject_id"])
	assert.Equal(t, "pdf", entry["format"])
}

func TestLoggerHonorsLevel(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelWarn)

	logger.Info("suppressed")
	logger.Warn("kept")

	assert.NotContains(t, stderr.String(), "suppressed")
	assert.Contains(t, stderr.String(), "kept")
	assert.NotContains(t, file.String(), "suppressed")
}
