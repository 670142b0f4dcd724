package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-dex-lab/internal/config"
)

func TestNew_Console(t *testing.T) {
	l, err := New(config.LogConfig{Level: "debug", Format: "console", Environment: "dev"})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "dex.log")

	l, err := New(config.LogConfig{Level: "info", Format: "json", Environment: "prod", OutputFile: path})
	require.NoError(t, err)

	l.Info("pool created")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pool created")
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}
