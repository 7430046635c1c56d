package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{" warn ", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLogLevel(tt.in), "parseLogLevel(%q)", tt.in)
	}
}

func TestInitFileWritesJSON(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LORE_DIR", dir)

	require.NoError(t, InitFile())
	slog.Info("daemon started", "pid", 123)
	Close()

	data, err := os.ReadFile(filepath.Join(dir, "logs", "lore.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"daemon started"`)
	assert.Contains(t, string(data), `"pid":123`)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Setenv("LORE_DIR", t.TempDir())

	require.NoError(t, InitFile())
	Close()
	Close()
}

func TestLogFilePath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LORE_DIR", dir)

	path, err := LogFilePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "logs", "lore.log"), path)
}
