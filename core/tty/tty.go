// Package tty decides which process group owns the controlling terminal.
package tty

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// ErrNotTerminal is returned by Open for files that are not terminals.
var ErrNotTerminal = errors.New("not a terminal")

// Controller hands the terminal's foreground process group back and forth
// between the shell and its jobs.
//
// Every wait on a foreground job must be bracketed by a transfer to the job's
// group and a transfer back to ShellGroup, on every return path.
type Controller interface {
	// TransferForeground makes pgid the terminal's foreground group.
	TransferForeground(pgid int) error
	// Current reports the terminal's foreground group.
	Current() (int, error)
	// ShellGroup is the shell's own process group.
	ShellGroup() int
	// RestoreModes puts back the terminal modes the shell started with.
	RestoreModes() error
}

// Terminal controls a real terminal device.
type Terminal struct {
	fd         int
	shellGroup int
	modes      *term.State
}

var _ Controller = (*Terminal)(nil)

// Open wraps the terminal behind f, usually os.Stdin.
func Open(f *os.File) (*Terminal, error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return nil, ErrNotTerminal
	}

	return &Terminal{fd: fd, shellGroup: unix.Getpgrp()}, nil
}

// Fd is the terminal's descriptor in the shell.
func (t *Terminal) Fd() int {
	return t.fd
}

// Acquire waits until the shell's group is in the foreground, puts the shell
// in a group of its own and claims the terminal for it.
//
// A shell started as a background job of another shell would otherwise fight
// that shell for input. Until it is brought to the foreground it stops itself
// with SIGTTIN, so Acquire must run before the shell starts catching SIGTTIN.
func (t *Terminal) Acquire() error {
	for {
		fg, err := t.Current()
		if err != nil {
			return err
		}

		pgrp := unix.Getpgrp()
		if fg == pgrp {
			break
		}

		if err := unix.Kill(-pgrp, unix.SIGTTIN); err != nil {
			return fmt.Errorf("kill: %w", err)
		}
	}

	// A session leader (e.g. a shell started on a fresh pty) already leads
	// its own group and may not change it.
	pid := unix.Getpid()
	if err := unix.Setpgid(pid, pid); err != nil && !errors.Is(err, unix.EPERM) {
		return fmt.Errorf("setpgid: %w", err)
	}
	t.shellGroup = unix.Getpgrp()

	if err := t.TransferForeground(t.shellGroup); err != nil {
		return err
	}

	modes, err := term.GetState(t.fd)
	if err != nil {
		return fmt.Errorf("save terminal modes: %w", err)
	}
	t.modes = modes
	return nil
}

// TransferForeground implements Controller.
func (t *Terminal) TransferForeground(pgid int) error {
	err := withTTOUBlocked(func() error {
		return unix.IoctlSetPointerInt(t.fd, unix.TIOCSPGRP, pgid)
	})
	if err != nil {
		return fmt.Errorf("tcsetpgrp %d: %w", pgid, err)
	}
	return nil
}

// Current implements Controller.
func (t *Terminal) Current() (int, error) {
	pgid, err := unix.IoctlGetInt(t.fd, unix.TIOCGPGRP)
	if err != nil {
		return 0, fmt.Errorf("tcgetpgrp: %w", err)
	}
	return pgid, nil
}

// ShellGroup implements Controller.
func (t *Terminal) ShellGroup() int {
	return t.shellGroup
}

// RestoreModes implements Controller.
func (t *Terminal) RestoreModes() error {
	if t.modes == nil {
		return nil
	}
	return withTTOUBlocked(func() error {
		return term.Restore(t.fd, t.modes)
	})
}

// Detached stands in for a terminal when the shell has none, e.g. when it
// reads commands from a pipe. It tracks ownership without touching a device
// and keeps a log of every handoff.
type Detached struct {
	shellGroup int
	current    int

	// Transfers lists every group passed to TransferForeground, in order.
	Transfers []int
}

var _ Controller = (*Detached)(nil)

// NewDetached creates a controller owned by the calling process's group.
func NewDetached() *Detached {
	pgrp := unix.Getpgrp()
	return &Detached{shellGroup: pgrp, current: pgrp}
}

// TransferForeground implements Controller.
func (d *Detached) TransferForeground(pgid int) error {
	d.current = pgid
	d.Transfers = append(d.Transfers, pgid)
	return nil
}

// Current implements Controller.
func (d *Detached) Current() (int, error) {
	return d.current, nil
}

// ShellGroup implements Controller.
func (d *Detached) ShellGroup() int {
	return d.shellGroup
}

// RestoreModes implements Controller.
func (*Detached) RestoreModes() error {
	return nil
}
