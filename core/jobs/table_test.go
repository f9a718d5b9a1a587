package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAssignsIncreasingIDs(t *testing.T) {
	table := NewTable()

	first := table.Create(100, "sleep 5", Running, 100)
	second := table.Create(200, "cat", Running, 200)
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)

	// Removing a job must not free its id.
	table.RemoveByGroup(200)
	third := table.Create(300, "yes", Stopped, 300)
	assert.Equal(t, 3, third)

	table.RemoveByGroup(100)
	table.RemoveByGroup(300)
	assert.Equal(t, 0, table.Len())
	assert.Equal(t, 4, table.Create(400, "true", Running, 400))
}

func TestFind(t *testing.T) {
	table := NewTable()
	id := table.Create(4242, "ls | wc -l", Running, 4242, 4243)

	byID, ok := table.FindByID(id)
	require.True(t, ok)
	byGroup, ok := table.FindByGroup(4242)
	require.True(t, ok)

	assert.Same(t, byID, byGroup)
	assert.Equal(t, "ls | wc -l", byID.Command)
	assert.Equal(t, []int{4242, 4243}, byID.Live())

	_, ok = table.FindByID(id + 1)
	assert.False(t, ok)
	_, ok = table.FindByGroup(1)
	assert.False(t, ok)

	table.RemoveByGroup(4242)
	_, ok = table.FindByGroup(4242)
	assert.False(t, ok)
}

func TestAbsentTargetsAreNoOps(t *testing.T) {
	table := NewTable()
	table.Create(10, "sleep 1", Running, 10)

	assert.NotPanics(t, func() {
		table.RemoveByGroup(99)
		table.SetState(99, Stopped)
	})
	assert.Equal(t, 1, table.Len())

	job, _ := table.FindByGroup(10)
	assert.Equal(t, Running, job.State)
}

func TestSetState(t *testing.T) {
	table := NewTable()
	table.Create(10, "a | b", Running, 10, 11)
	job, _ := table.FindByGroup(10)

	job.SetProcessState(11, Done, "exit 0")
	table.SetState(10, Stopped)

	assert.Equal(t, Stopped, job.State)
	p10, _ := job.Process(10)
	p11, _ := job.Process(11)
	assert.Equal(t, Stopped, p10.State)
	assert.Equal(t, Done, p11.State, "finished processes stay finished")

	// Idempotent.
	table.SetState(10, Stopped)
	assert.Equal(t, Stopped, job.State)

	// Done is not a storable job state.
	table.SetState(10, Done)
	assert.Equal(t, Stopped, job.State)
}

func TestProcessLifecycle(t *testing.T) {
	table := NewTable()
	table.Create(7, "a | b | c", Running, 7, 8, 9)
	job, _ := table.FindByGroup(7)

	job.SetProcessState(8, Done, "exit 0")
	assert.False(t, job.Finished(), "partial termination keeps the job")

	job.SetProcessState(8, Running, "")
	p8, _ := job.Process(8)
	assert.Equal(t, Done, p8.State, "reaped processes cannot be revived")
	assert.Equal(t, "exit 0", p8.Status)

	job.SetProcessState(7, Done, "exit 0")
	job.SetProcessState(9, Done, "signal: SIGKILL")
	job.SetProcessState(12345, Done, "")
	assert.True(t, job.Finished())
}

func TestListKeepsInsertionOrder(t *testing.T) {
	table := NewTable()
	table.Create(30, "c", Running, 30)
	table.Create(10, "a", Running, 10)
	table.Create(20, "b", Stopped, 20)
	table.RemoveByGroup(10)

	var commands []string
	for _, j := range table.List() {
		commands = append(commands, j.Command)
	}
	assert.Equal(t, []string{"c", "b"}, commands)
}

func TestStateString(t *testing.T) {
	cases := []struct {
		state    State
		expected string
	}{
		{Running, "Running"},
		{Stopped, "Stopped"},
		{Done, "Done"},
		{State(9), "State(9)"},
	}

	for _, tc := range cases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.state.String())
		})
	}
}
