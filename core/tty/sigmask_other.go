//go:build !linux

package tty

import (
	"os/signal"

	"golang.org/x/sys/unix"
)

// withTTOUBlocked runs fn with SIGTTOU ignored for the whole process. Only
// the interpreter goroutine starts processes, so no child can be created
// while the disposition is changed.
func withTTOUBlocked(fn func() error) error {
	signal.Ignore(unix.SIGTTOU)
	defer signal.Reset(unix.SIGTTOU)

	return fn()
}
