package proc

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Kind classifies a wait status.
type Kind int

const (
	// Exited processes returned from main or called exit.
	Exited Kind = iota
	// Signaled processes were killed by a signal.
	Signaled
	// Stopped processes were suspended by a signal.
	Stopped
	// Continued processes were resumed by SIGCONT.
	Continued
)

// Status is a decoded wait status.
type Status struct {
	Kind Kind
	// Code is the exit status of an Exited process.
	Code int
	// Signal is the killing, stopping or continuing signal.
	Signal unix.Signal
}

// Decode interprets a raw status returned by wait4.
func Decode(ws unix.WaitStatus) Status {
	switch {
	case ws.Exited():
		return Status{Kind: Exited, Code: ws.ExitStatus()}
	case ws.Signaled():
		return Status{Kind: Signaled, Signal: ws.Signal()}
	case ws.Stopped():
		return Status{Kind: Stopped, Signal: ws.StopSignal()}
	case ws.Continued():
		return Status{Kind: Continued, Signal: unix.SIGCONT}
	default:
		return Status{Kind: Exited, Code: ws.ExitStatus()}
	}
}

// Terminated is true for statuses after which the process is gone.
func (s Status) Terminated() bool {
	return s.Kind == Exited || s.Kind == Signaled
}

// ExitCode is the shell-style status: the exit code, or 128 plus the signal
// number for killed processes.
func (s Status) ExitCode() int {
	if s.Kind == Exited {
		return s.Code
	}
	return 128 + int(s.Signal)
}

func (s Status) String() string {
	switch s.Kind {
	case Exited:
		return fmt.Sprintf("exit %d", s.Code)
	case Signaled:
		return "signal: " + signalName(s.Signal)
	case Stopped:
		return "stopped: " + signalName(s.Signal)
	case Continued:
		return "continued"
	default:
		return fmt.Sprintf("Kind(%d)", int(s.Kind))
	}
}

func signalName(sig unix.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return fmt.Sprintf("signal %d", int(sig))
}

// Wait reaps one child matching pid, which may be -pgid for any member of
// a process group. With unix.WNOHANG in flags a pid of 0 means nothing was
// ready. Interrupted waits are retried.
func Wait(pid int, flags int) (int, Status, error) {
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &ws, flags, nil)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			return 0, Status{}, err
		case wpid == 0:
			return 0, Status{}, nil
		default:
			return wpid, Decode(ws), nil
		}
	}
}

// SignalGroup sends sig to every process in the group.
func SignalGroup(pgid int, sig unix.Signal) error {
	if pgid <= 0 {
		return fmt.Errorf("invalid process group %d", pgid)
	}
	return unix.Kill(-pgid, sig)
}
