package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSONWithProfileField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "msgdbd.log")
	logger, err := New(path, "main", "warn")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("visible")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "visible", entry["msg"])
	assert.Equal(t, "main", entry["profile"])
	assert.Contains(t, entry, "ts")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "x.log"), "main", "loud")
	assert.Error(t, err)
}
