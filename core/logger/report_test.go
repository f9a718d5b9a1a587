package logger

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"
)

func sampleLog(t *testing.T) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	l := NewJsonLinesLogRecorder(&buf)
	sess := l.NewSession()

	sess.SessionStart(true, 10)
	sess.JobLaunched(1, 20, "sleep 5", true, []int{20})
	sess.JobLaunched(2, 30, "ls -l | wc", false, []int{30, 31})
	sess.JobStopped(1, 20, "sleep 5", "stopped: SIGTSTP")
	sess.JobDone(2, 30, "ls -l | wc", "exit 0")
	sess.LaunchFailed("nope", "exec", errors.New("nope: command not found"))
	l.Sessionless().SSHLogin("alice", "127.0.0.1:2222", "SHA256:xyz", true)

	require.NoError(t, l.Sync())
	return &buf
}

func TestReportUpdate(t *testing.T) {
	var report Report
	require.NoError(t, ReadJSONLinesLog(sampleLog(t), report.Update))

	assert.Equal(t, 7, report.LogEntries)
	assert.Equal(t, 1, report.Sessions)
	assert.Equal(t, 2, report.Events.Get(EventJobLaunch))
	assert.Equal(t, 2, report.Jobs.Launched)
	assert.Equal(t, 1, report.Jobs.Background)
	assert.Equal(t, 1, report.Jobs.Pipelines)
	assert.Equal(t, 1, report.Jobs.Stopped.Get("sleep"))
	assert.Equal(t, 1, report.Jobs.Statuses.Get("exit 0"))
	assert.Equal(t, 1, report.LaunchFailures.Get("nope", "exec"))
	assert.Equal(t, 1, report.Logins.Get("alice", "accepted"))
}

func TestReportYAML(t *testing.T) {
	report := NewReport()
	require.NoError(t, ReadJSONLinesLog(sampleLog(t), report.Update))

	out, err := yaml.Marshal(report)
	require.NoError(t, err)

	g := goldie.New(
		t,
		goldie.WithFixtureDir(filepath.Join("testdata", "golden")),
		goldie.WithDiffEngine(goldie.ColoredDiff),
		goldie.WithTestNameForDir(true),
	)
	g.Assert(t, "report", out)
}

func TestReadJSONLinesLogRejectsGarbage(t *testing.T) {
	err := ReadJSONLinesLog(strings.NewReader(`{"event":"job.launch"}{oops`), func(*Entry) {})
	assert.Error(t, err)
}

func TestPathCounterOrdering(t *testing.T) {
	ctr := NewPathCounter("command", "op")
	ctr.Increment("b", "exec")
	ctr.Increment("a", "open")
	ctr.Increment("b", "exec")

	out, err := ctr.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"count": 2, "event": {"command": "b", "op": "exec"}},
		{"count": 1, "event": {"command": "a", "op": "open"}}
	]`, string(out))

	assert.Panics(t, func() { ctr.Increment("only-one") })
}

func TestStrCounterEmpty(t *testing.T) {
	var ctr StrCounter
	out, err := ctr.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(out))
	assert.Equal(t, 0, ctr.Get("missing"))
}
