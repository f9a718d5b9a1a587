package pipeline

import (
	"errors"
	"fmt"
	"io"

	"github.com/josephlewis42/jobsh/core/jobs"
	"github.com/josephlewis42/jobsh/core/logger"
	"github.com/josephlewis42/jobsh/core/proc"
	"github.com/josephlewis42/jobsh/core/tty"
	"golang.org/x/sys/unix"
)

var (
	// ErrNoSuchJob is returned for job ids that are not in the table.
	ErrNoSuchJob = errors.New("no such job")
	// ErrJobGone is returned when a job's processes vanished before they could
	// be signaled.
	ErrJobGone = errors.New("job has terminated")
)

// Notice describes a job-level change found while reaping.
type Notice struct {
	ID      int
	Pgid    int
	Command string
	State   jobs.State
	// Status is the last wait status reported by the job's final stage.
	Status string
}

func (n Notice) String() string {
	return fmt.Sprintf("[%d] %s %s", n.ID, n.State, n.Command)
}

// Outcome is the result of waiting on a foreground job.
type Outcome struct {
	ID int
	// Stopped is true if the job was suspended rather than finished.
	Stopped bool
	// Status is the wait status of the job's final stage, or of the last
	// process to report if the final stage never did.
	Status proc.Status
}

// ExitCode is the shell-style status of the job.
func (o Outcome) ExitCode() int {
	return o.Status.ExitCode()
}

// Reconciler turns wait statuses into job table updates and mediates the
// terminal around foreground waits.
type Reconciler struct {
	Table *jobs.Table
	TTY   tty.Controller
	// Out receives job announcements such as "[1] Stopped sleep 5".
	Out io.Writer
	Log *logger.SessionLogger
}

// NewReconciler creates a reconciler for a session.
func NewReconciler(table *jobs.Table, controller tty.Controller, out io.Writer, log *logger.SessionLogger) *Reconciler {
	return &Reconciler{
		Table: table,
		TTY:   controller,
		Out:   out,
		Log:   log,
	}
}

// Apply records one wait status for process pid of job. It returns true if
// the job has no live process left and was removed from the table.
func (r *Reconciler) Apply(job *jobs.Job, pid int, status proc.Status) bool {
	before := job.State

	switch status.Kind {
	case proc.Stopped:
		job.SetProcessState(pid, jobs.Stopped, status.String())
	case proc.Continued:
		job.SetProcessState(pid, jobs.Running, status.String())
	default:
		job.SetProcessState(pid, jobs.Done, status.String())
	}

	if job.Finished() {
		r.Table.RemoveByGroup(job.Pgid)
		r.Log.JobDone(job.ID, job.Pgid, job.Command, finalStatus(job))
		return true
	}

	job.State = jobs.Running
	for _, p := range job.Processes {
		if p.State == jobs.Stopped {
			job.State = jobs.Stopped
			break
		}
	}

	switch {
	case before == job.State:
	case job.State == jobs.Stopped:
		r.Log.JobStopped(job.ID, job.Pgid, job.Command, status.String())
	default:
		r.Log.JobContinued(job.ID, job.Pgid, job.Command, false)
	}
	return false
}

// WaitForeground gives the terminal to the job in group pgid and blocks
// until every one of its running processes has exited or stopped.
func (r *Reconciler) WaitForeground(pgid int) Outcome {
	job, ok := r.Table.FindByGroup(pgid)
	if !ok {
		return Outcome{}
	}

	r.transfer(job.Pgid)
	defer r.reclaim()

	return r.wait(job)
}

// BringToForeground continues job id with the terminal and waits for it
// like a newly launched foreground job.
func (r *Reconciler) BringToForeground(id int) (Outcome, error) {
	job, ok := r.Table.FindByID(id)
	if !ok {
		return Outcome{}, fmt.Errorf("%%%d: %w", id, ErrNoSuchJob)
	}

	r.transfer(job.Pgid)
	defer r.reclaim()

	if err := r.resume(job); err != nil {
		return Outcome{}, err
	}
	r.Log.JobContinued(job.ID, job.Pgid, job.Command, true)

	return r.wait(job), nil
}

// ResumeInBackground continues job id without giving it the terminal.
func (r *Reconciler) ResumeInBackground(id int) error {
	job, ok := r.Table.FindByID(id)
	if !ok {
		return fmt.Errorf("%%%d: %w", id, ErrNoSuchJob)
	}

	if err := r.resume(job); err != nil {
		return err
	}
	r.Log.JobContinued(job.ID, job.Pgid, job.Command, false)

	fmt.Fprintf(r.Out, "[%d] %s &\n", job.ID, job.Command)
	return nil
}

// Poll reaps every job without blocking and returns one notice for each job
// that finished or changed state.
func (r *Reconciler) Poll() []Notice {
	var out []Notice
	for _, job := range r.Table.List() {
		if n, changed := r.pollJob(job); changed {
			out = append(out, n)
		}
	}
	return out
}

func (r *Reconciler) pollJob(job *jobs.Job) (Notice, bool) {
	before := job.State
	for {
		wpid, status, err := proc.Wait(-job.Pgid, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED)
		if err != nil {
			// Nothing left to reap in the group: the processes are gone.
			r.forget(job)
			return r.notice(job, jobs.Done), true
		}
		if wpid == 0 {
			break
		}
		if r.Apply(job, wpid, status) {
			return r.notice(job, jobs.Done), true
		}
	}

	if job.State != before {
		return r.notice(job, job.State), true
	}
	return Notice{}, false
}

// resume sends SIGCONT to the job's group and marks it running. A group that
// no longer exists is reaped and reported as gone.
func (r *Reconciler) resume(job *jobs.Job) error {
	if err := proc.SignalGroup(job.Pgid, unix.SIGCONT); err != nil {
		if errors.Is(err, unix.ESRCH) {
			r.pollJob(job)
			r.forget(job)
			return fmt.Errorf("%%%d: %w", job.ID, ErrJobGone)
		}
		return fmt.Errorf("kill %d: %w", job.Pgid, err)
	}

	r.Table.SetState(job.Pgid, jobs.Running)
	return nil
}

func (r *Reconciler) wait(job *jobs.Job) Outcome {
	out := Outcome{ID: job.ID}

	last := 0
	if n := len(job.Processes); n > 0 {
		last = job.Processes[n-1].Pid
	}
	lastReported := false

	for running(job) {
		wpid, status, err := proc.Wait(-job.Pgid, unix.WUNTRACED)
		if err != nil {
			r.forget(job)
			break
		}

		if wpid == last || !lastReported {
			out.Status = status
			lastReported = wpid == last
		}

		if r.Apply(job, wpid, status) {
			return out
		}
	}

	if r.stillTracked(job) && job.State == jobs.Stopped {
		out.Stopped = true
		fmt.Fprintf(r.Out, "\n%s\n", r.notice(job, jobs.Stopped))
	}
	return out
}

// forget drops a job whose processes were reaped out from under the table.
func (r *Reconciler) forget(job *jobs.Job) {
	if !r.stillTracked(job) {
		return
	}
	for _, p := range job.Processes {
		job.SetProcessState(p.Pid, jobs.Done, "")
	}
	r.Table.RemoveByGroup(job.Pgid)
	r.Log.JobDone(job.ID, job.Pgid, job.Command, finalStatus(job))
}

func (r *Reconciler) stillTracked(job *jobs.Job) bool {
	found, ok := r.Table.FindByID(job.ID)
	return ok && found == job
}

func (r *Reconciler) transfer(pgid int) {
	err := r.TTY.TransferForeground(pgid)
	r.Log.TerminalTransfer(pgid, err)
}

// reclaim returns the terminal to the shell and puts back its modes.
func (r *Reconciler) reclaim() {
	r.transfer(r.TTY.ShellGroup())
	if err := r.TTY.RestoreModes(); err != nil {
		fmt.Fprintf(r.Out, "jobsh: restore terminal: %v\n", err)
	}
}

func (r *Reconciler) notice(job *jobs.Job, state jobs.State) Notice {
	return Notice{
		ID:      job.ID,
		Pgid:    job.Pgid,
		Command: job.Command,
		State:   state,
		Status:  finalStatus(job),
	}
}

func running(job *jobs.Job) bool {
	for _, p := range job.Processes {
		if p.State == jobs.Running {
			return true
		}
	}
	return false
}

func finalStatus(job *jobs.Job) string {
	if n := len(job.Processes); n > 0 {
		return job.Processes[n-1].Status
	}
	return ""
}
