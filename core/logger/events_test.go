package logger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, buf *bytes.Buffer) []*Entry {
	t.Helper()

	var out []*Entry
	require.NoError(t, ReadJSONLinesLog(buf, func(le *Entry) {
		out = append(out, le)
	}))
	return out
}

func TestJsonLinesRecorder(t *testing.T) {
	var buf bytes.Buffer
	l := NewJsonLinesLogRecorder(&buf)
	sess := l.NewSession()

	sess.SessionStart(true, 42)
	sess.JobLaunched(1, 100, "cat | wc", false, []int{100, 101})
	sess.JobStopped(1, 100, "cat | wc", "stopped: SIGTSTP")
	sess.LaunchFailed("nope", "exec", errors.New("nope: command not found"))
	require.NoError(t, l.Sync())

	entries := readAll(t, &buf)
	require.Len(t, entries, 4)

	for _, e := range entries {
		assert.Equal(t, sess.SessionID(), e.SessionID)
		assert.NotEmpty(t, e.Timestamp)
	}

	assert.Equal(t, EventSessionStart, entries[0].Event)
	assert.Equal(t, 42, entries[0].Pgid)

	launch := entries[1]
	assert.Equal(t, EventJobLaunch, launch.Event)
	assert.Equal(t, 1, launch.JobID)
	assert.Equal(t, 100, launch.Pgid)
	assert.Equal(t, []int{100, 101}, launch.Pids)
	assert.False(t, launch.Background)
	assert.Equal(t, "cat", launch.Program())

	assert.Equal(t, EventJobStopped, entries[2].Event)
	assert.Equal(t, "stopped: SIGTSTP", entries[2].Status)

	failed := entries[3]
	assert.Equal(t, EventLaunchFailed, failed.Event)
	assert.Equal(t, "exec", failed.Op)
	assert.Equal(t, "nope: command not found", failed.Error)
}

func TestSessionlessHasNoID(t *testing.T) {
	var buf bytes.Buffer
	l := NewJsonLinesLogRecorder(&buf)

	s := l.Sessionless()
	s.SSHLogin("alice", "127.0.0.1:5555", "SHA256:abc", true)

	entries := readAll(t, &buf)
	require.Len(t, entries, 1)
	assert.Empty(t, s.SessionID())
	assert.Empty(t, entries[0].SessionID)
	assert.Equal(t, "alice", entries[0].User)
	assert.True(t, entries[0].Accepted)
}

func TestNop(t *testing.T) {
	sess := Nop().NewSession()
	assert.NotPanics(t, func() {
		sess.JobDone(1, 2, "true", "exit 0")
		sess.TerminalTransfer(2, errors.New("boom"))
	})
}
