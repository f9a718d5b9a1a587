package shell

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// Signals an interactive shell receives but must survive. Handlers only
// record them; the prompt loop acts on them between commands.
var caughtSignals = []os.Signal{
	unix.SIGINT,
	unix.SIGQUIT,
	unix.SIGTSTP,
	unix.SIGTTIN,
	unix.SIGCHLD,
}

// catchSignals must be called after the terminal was acquired: until then
// the shell relies on SIGTTIN stopping it.
func (s *Shell) catchSignals() {
	if s.signals != nil {
		return
	}
	s.signals = make(chan os.Signal, 16)
	signal.Notify(s.signals, caughtSignals...)
}

func (s *Shell) releaseSignals() {
	if s.signals == nil {
		return
	}
	signal.Stop(s.signals)
	s.signals = nil
}

// drainSignals records every pending signal without blocking.
func (s *Shell) drainSignals() {
	for {
		select {
		case sig := <-s.signals:
			s.log.SignalReceived(sig.String())
			if sig == unix.SIGCHLD {
				s.childChanged = true
			}
		default:
			return
		}
	}
}

// reportJobs prints changes to background jobs at the prompt when eager
// notification is configured.
func (s *Shell) reportJobs() {
	if !s.cfg.Notify || !s.childChanged {
		return
	}
	s.childChanged = false

	for _, n := range s.reconciler.Poll() {
		s.printNotice(n)
	}
}
