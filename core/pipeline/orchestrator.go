// Package pipeline runs jobs: it wires pipeline stages together, registers
// the result in the job table and reconciles wait statuses with it.
package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/josephlewis42/jobsh/core/jobs"
	"github.com/josephlewis42/jobsh/core/logger"
	"github.com/josephlewis42/jobsh/core/proc"
)

// Orchestrator launches pipelines as jobs.
type Orchestrator struct {
	Launcher   *proc.Launcher
	Table      *jobs.Table
	Reconciler *Reconciler

	// Stderr receives launch diagnostics, Out job announcements.
	Stderr io.Writer
	Out    io.Writer

	Log *logger.SessionLogger
}

// Run starts every stage of a pipeline in one process group and registers it
// as a job. Foreground jobs are waited for; background jobs are announced
// with their id and group and left running.
//
// A stage that cannot be launched is reported and skipped. The returned
// status is that of the final stage. An error is only returned if the
// pipeline could not be set up at all.
func (o *Orchestrator) Run(stages []proc.Command, background bool, text string) (int, error) {
	if len(stages) == 0 {
		return 0, nil
	}

	pipes, err := openPipes(len(stages) - 1)
	if err != nil {
		return 1, err
	}
	closePipes := func() {
		for _, p := range pipes {
			p[0].Close()
			p[1].Close()
		}
		pipes = nil
	}
	defer closePipes()

	var (
		pgid     int
		pids     []int
		lastFail *proc.LaunchError
	)
	for i, stage := range stages {
		attr := proc.Attr{Pgid: pgid, Foreground: !background}
		if i > 0 {
			attr.Stdin = pipes[i-1][0]
		}
		if i < len(pipes) {
			attr.Stdout = pipes[i][1]
		}

		p, err := o.Launcher.Launch(stage, attr)
		if err != nil {
			fmt.Fprintln(o.Stderr, err)

			var launchErr *proc.LaunchError
			if !errors.As(err, &launchErr) {
				launchErr = &proc.LaunchError{Op: "fork", Name: stage.Name(), Err: err}
			}
			o.Log.LaunchFailed(stage.String(), launchErr.Op, err)

			if i == len(stages)-1 {
				lastFail = launchErr
			}
			continue
		}

		if pgid == 0 {
			pgid = p.Pgid
		}
		pids = append(pids, p.Pid)
	}

	// Readers only see end of file once the parent's copies are closed.
	closePipes()

	if len(pids) == 0 {
		if !background {
			// A leader hands itself the terminal before exec, so a failed
			// exec leaves it with a group that no longer exists.
			o.Reconciler.reclaim()
		}
		if lastFail != nil {
			return lastFail.ExitStatus(), nil
		}
		return 1, nil
	}

	id := o.Table.Create(pgid, text, jobs.Running, pids...)
	o.Log.JobLaunched(id, pgid, text, background, pids)

	if background {
		o.Log.JobBackgrounded(id, pgid, text)
		fmt.Fprintf(o.Out, "[%d] %d\n", id, pgid)
		return 0, nil
	}

	outcome := o.Reconciler.WaitForeground(pgid)
	if lastFail != nil && !outcome.Stopped {
		return lastFail.ExitStatus(), nil
	}
	return outcome.ExitCode(), nil
}

// openPipes creates n pipes. On failure every pipe created so far is closed.
func openPipes(n int) ([][2]*os.File, error) {
	var out [][2]*os.File
	for i := 0; i < n; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			for _, p := range out {
				p[0].Close()
				p[1].Close()
			}
			return nil, fmt.Errorf("pipe: %w", err)
		}
		out = append(out, [2]*os.File{r, w})
	}
	return out, nil
}
