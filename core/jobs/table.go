// Package jobs holds the job table: the shell's record of every pipeline or
// command it started that still has a live process.
//
// The table never fails. Looking up, updating or removing a job that is not
// there is a silent no-op so a job reaped behind the shell's back can never
// desynchronize it.
package jobs

import "fmt"

// State is the job-control state of a job or of one of its processes.
type State int

const (
	// Running processes are executing or runnable.
	Running State = iota
	// Stopped processes were suspended by a stop signal.
	Stopped
	// Done processes exited or were killed. Jobs are never stored as Done,
	// they are removed from the table instead.
	Done
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	case Done:
		return "Done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Process is one OS process belonging to a job.
type Process struct {
	Pid   int
	State State
	// Status is a human readable description of the last reported wait
	// status, e.g. "exit 0" or "signal: SIGKILL".
	Status string
}

// Job is one command or pipeline tracked as a unit, identified by the
// process group all its processes share.
type Job struct {
	ID        int
	Pgid      int
	Command   string
	State     State
	Processes []*Process
}

// Live returns the pids of processes that have not been reaped as done.
func (j *Job) Live() []int {
	var out []int
	for _, p := range j.Processes {
		if p.State != Done {
			out = append(out, p.Pid)
		}
	}
	return out
}

// Finished is true once every process of the job has been reaped.
func (j *Job) Finished() bool {
	return len(j.Live()) == 0
}

// Process finds a member process by pid.
func (j *Job) Process(pid int) (*Process, bool) {
	for _, p := range j.Processes {
		if p.Pid == pid {
			return p, true
		}
	}
	return nil, false
}

// SetProcessState records a state change for one member process. Unknown
// pids are ignored. Done is terminal: a reaped process never comes back.
func (j *Job) SetProcessState(pid int, state State, status string) {
	p, ok := j.Process(pid)
	if !ok || p.State == Done {
		return
	}
	p.State = state
	if status != "" {
		p.Status = status
	}
}

// Table maps job ids to jobs. It is owned by a single session and is not
// safe for concurrent use.
type Table struct {
	nextID int
	jobs   []*Job
}

// NewTable creates an empty table whose first job gets id 1.
func NewTable() *Table {
	return &Table{nextID: 1}
}

// Create registers a job for the process group and returns its id. Ids are
// handed out in increasing order and never reused.
func (t *Table) Create(pgid int, command string, state State, pids ...int) int {
	job := &Job{
		ID:      t.nextID,
		Pgid:    pgid,
		Command: command,
		State:   state,
	}
	t.nextID++

	for _, pid := range pids {
		job.Processes = append(job.Processes, &Process{Pid: pid, State: state})
	}

	t.jobs = append(t.jobs, job)
	return job.ID
}

// RemoveByGroup deletes every job in the process group.
func (t *Table) RemoveByGroup(pgid int) {
	kept := t.jobs[:0]
	for _, j := range t.jobs {
		if j.Pgid != pgid {
			kept = append(kept, j)
		}
	}
	for i := len(kept); i < len(t.jobs); i++ {
		t.jobs[i] = nil
	}
	t.jobs = kept
}

// FindByID looks a job up by its id.
func (t *Table) FindByID(id int) (*Job, bool) {
	for _, j := range t.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return nil, false
}

// FindByGroup looks a job up by its process group.
func (t *Table) FindByGroup(pgid int) (*Job, bool) {
	for _, j := range t.jobs {
		if j.Pgid == pgid {
			return j, true
		}
	}
	return nil, false
}

// SetState moves the job in the process group to Running or Stopped, along
// with each of its processes that has not finished.
func (t *Table) SetState(pgid int, state State) {
	if state == Done {
		return
	}

	j, ok := t.FindByGroup(pgid)
	if !ok {
		return
	}

	j.State = state
	for _, p := range j.Processes {
		if p.State != Done {
			p.State = state
		}
	}
}

// List returns the jobs in the order they were created.
func (t *Table) List() []*Job {
	out := make([]*Job, len(t.jobs))
	copy(out, t.jobs)
	return out
}

// Len is the number of live jobs.
func (t *Table) Len() int {
	return len(t.jobs)
}
