//go:build linux

package tty

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// withTTOUBlocked runs fn with SIGTTOU blocked on the current OS thread.
//
// The kernel lets a process in a background group change the terminal's
// foreground group only if SIGTTOU is blocked or ignored. Ignoring it would
// leak into every child started afterwards, blocking it on one locked thread
// does not.
func withTTOUBlocked(fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var set, old unix.Sigset_t
	sigaddset(&set, unix.SIGTTOU)
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &set, &old); err != nil {
		return fmt.Errorf("block SIGTTOU: %w", err)
	}
	defer unix.PthreadSigmask(unix.SIG_SETMASK, &old, nil)

	return fn()
}

func sigaddset(set *unix.Sigset_t, sig unix.Signal) {
	bit := uint(sig) - 1
	width := uint(unsafe.Sizeof(set.Val[0])) * 8
	set.Val[bit/width] |= 1 << (bit % width)
}
