package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varalys/lore/cmd/lore/cli/model"
	"github.com/varalys/lore/cmd/lore/cli/paths"
	"github.com/varalys/lore/cmd/lore/cli/store"
)

func startServer(t *testing.T) *store.Store {
	t.Helper()
	t.Setenv("LORE_DIR", t.TempDir())

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := NewServer(st)
	go func() { _ = srv.Serve(ctx) }()

	sockPath, err := paths.DaemonSocketPath()
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, statErr := os.Stat(sockPath)
		return statErr == nil
	}, 2*time.Second, 10*time.Millisecond)

	return st
}

func TestServePing(t *testing.T) {
	startServer(t)

	var result string
	require.NoError(t, Call("ping", nil, &result))
	assert.Equal(t, "pong", result)
}

func TestServeStatus(t *testing.T) {
	startServer(t)

	var result struct {
		PID       int       `json:"pid"`
		StartedAt time.Time `json:"started_at"`
	}
	require.NoError(t, Call("status", nil, &result))
	assert.Equal(t, os.Getpid(), result.PID)
	assert.WithinDuration(t, time.Now(), result.StartedAt, time.Minute)
}

func TestServeUnknownMethod(t *testing.T) {
	startServer(t)

	err := Call("bogus", nil, nil)
	require.ErrorContains(t, err, "unknown method")
}

func TestCurrentSessionRPC(t *testing.T) {
	st := startServer(t)

	now := time.Now().UTC()
	sess := &model.Session{
		ID:               model.DeriveUUID("daemon-current"),
		Tool:             "claude-code",
		StartedAt:        now.Add(-5 * time.Minute),
		WorkingDirectory: "/work/proj",
		MessageCount:     1,
	}
	require.NoError(t, st.UpsertSession(sess))

	got, err := CurrentSession("/work/proj")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	_, err = CurrentSession("/elsewhere")
	assert.ErrorIs(t, err, ErrNoCurrentSession)
}

func TestCurrentSessionIgnoresStaleSessions(t *testing.T) {
	st := startServer(t)

	now := time.Now().UTC()
	ended := now.Add(-2 * time.Hour)
	sess := &model.Session{
		ID:               model.DeriveUUID("daemon-stale"),
		Tool:             "aider",
		StartedAt:        now.Add(-3 * time.Hour),
		EndedAt:          &ended,
		WorkingDirectory: "/work/proj",
	}
	require.NoError(t, st.UpsertSession(sess))

	_, err := CurrentSession("/work/proj")
	assert.ErrorIs(t, err, ErrNoCurrentSession)
}

func TestCallWithoutDaemon(t *testing.T) {
	t.Setenv("LORE_DIR", t.TempDir())

	err := Call("ping", nil, nil)
	assert.ErrorIs(t, err, ErrNotRunning)
}
