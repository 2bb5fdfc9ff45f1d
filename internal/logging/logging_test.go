package logging

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_TeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "enms.log")
	logger, err := New(Config{Level: "info", FilePath: path, Console: "stderr"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		logger.Info("line")
	}
	logger.Debug("hidden")
	_ = logger.Sync()

	tail, err := ReadTail(3)
	require.NoError(t, err)
	lines := strings.Split(tail, "\n")
	assert.Len(t, lines, 3)
	for _, l := range lines {
		assert.Contains(t, l, `"message":"line"`)
	}
	assert.NotContains(t, tail, "hidden")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestReadTail_MissingFile(t *testing.T) {
	mu.Lock()
	filePath = filepath.Join(t.TempDir(), "absent.log")
	mu.Unlock()

	tail, err := ReadTail(10)
	require.NoError(t, err)
	assert.Empty(t, tail)
}
