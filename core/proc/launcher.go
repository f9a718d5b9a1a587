// Package proc starts the processes that make up jobs and collects their
// wait statuses.
package proc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// ExitNotFound is the status of a command whose program could not be found.
const ExitNotFound = 127

var (
	// ErrNotFound is reported when the program is not on the PATH.
	ErrNotFound = errors.New("command not found")
	// ErrEmptyCommand is reported for a stage with no program name.
	ErrEmptyCommand = errors.New("empty command")
)

// LaunchError describes a command that could not be started. No process
// exists for it.
type LaunchError struct {
	// Op is the failing operation: "open", "exec" or "fork".
	Op string
	// Name is the program or file the operation was applied to.
	Name string
	Err  error
}

func (e *LaunchError) Error() string {
	switch {
	case errors.Is(e.Err, ErrNotFound):
		return fmt.Sprintf("%s: command not found", e.Name)
	case e.Op == "open":
		return fmt.Sprintf("open %s: %v", e.Name, unwrapPathError(e.Err))
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
	}
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// ExitStatus is the status the shell reports for the failed command.
func (e *LaunchError) ExitStatus() int {
	if errors.Is(e.Err, ErrNotFound) {
		return ExitNotFound
	}
	return 1
}

// startError classifies a failed fork/exec. Only a lack of resources is a
// fork failure; the child reports any other errno when execve fails, which
// counts as the program not being runnable.
func startError(name string, err error) *LaunchError {
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ENOMEM) {
		return &LaunchError{Op: "fork", Name: name, Err: err}
	}
	return &LaunchError{Op: "exec", Name: name, Err: errors.Join(ErrNotFound, err)}
}

func unwrapPathError(err error) error {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err
	}
	return err
}

// Attr controls how a command is wired into its pipeline.
type Attr struct {
	// Stdin and Stdout are pipe ends for the stage. Nil means the launcher's
	// own stream. File redirections in the Command take precedence.
	Stdin  *os.File
	Stdout *os.File

	// Pgid is the process group to join. Zero makes the new process the
	// leader of a fresh group named after its pid.
	Pgid int

	// Foreground is set for jobs that will own the terminal.
	Foreground bool
}

// Process is a started child.
type Process struct {
	Pid  int
	Pgid int
	Argv []string
}

// Launcher starts commands as children of the shell.
type Launcher struct {
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File

	// Env is the environment of new processes, nil means the shell's own.
	Env []string

	// TTY is the shell's descriptor for the controlling terminal, or -1 when
	// there is none. With a terminal, foreground group leaders move their
	// group to the foreground before they exec so that they never race the
	// shell to the terminal.
	TTY int
}

// NewLauncher creates a launcher that hands the given streams to children
// and has no controlling terminal.
func NewLauncher(stdin, stdout, stderr *os.File) *Launcher {
	return &Launcher{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		TTY:    -1,
	}
}

// Launch starts cmd and returns without waiting for it.
//
// Redirection files are opened before anything else; if one cannot be opened
// no process is created. In the child the process joins its group, its
// standard streams are replaced and the shell's caught signals go back to
// their default dispositions before the program is executed. All descriptors
// other than the three standard streams are close-on-exec.
func (l *Launcher) Launch(cmd Command, attr Attr) (*Process, error) {
	if len(cmd.Argv) == 0 {
		return nil, &LaunchError{Op: "exec", Err: ErrEmptyCommand}
	}

	stdin, stdout := l.Stdin, l.Stdout
	if attr.Stdin != nil {
		stdin = attr.Stdin
	}
	if attr.Stdout != nil {
		stdout = attr.Stdout
	}

	var opened []*os.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()

	if cmd.Input != "" {
		f, err := os.Open(cmd.Input)
		if err != nil {
			return nil, &LaunchError{Op: "open", Name: cmd.Input, Err: err}
		}
		opened = append(opened, f)
		stdin = f
	}

	if cmd.Output != "" {
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if cmd.Append {
			flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		}
		f, err := os.OpenFile(cmd.Output, flags, 0644)
		if err != nil {
			return nil, &LaunchError{Op: "open", Name: cmd.Output, Err: err}
		}
		opened = append(opened, f)
		stdout = f
	}

	path, err := exec.LookPath(cmd.Argv[0])
	if err != nil {
		return nil, &LaunchError{Op: "exec", Name: cmd.Argv[0], Err: ErrNotFound}
	}

	sys := &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    attr.Pgid,
	}
	if attr.Foreground && attr.Pgid == 0 && l.TTY >= 0 {
		sys.Foreground = true
		sys.Ctty = l.TTY
	}

	p, err := os.StartProcess(path, cmd.Argv, &os.ProcAttr{
		Env:   l.Env,
		Files: []*os.File{stdin, stdout, l.Stderr},
		Sys:   sys,
	})
	if err != nil {
		return nil, startError(cmd.Argv[0], unwrapPathError(err))
	}

	// The shell reaps children itself with wait4 so it can see stops.
	pid := p.Pid
	_ = p.Release()

	pgid := attr.Pgid
	if pgid == 0 {
		pgid = pid
	}

	return &Process{Pid: pid, Pgid: pgid, Argv: cmd.Argv}, nil
}
