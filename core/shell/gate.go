package shell

import (
	"bytes"
	"io"
	"sync"
)

// promptGate lets the line editor read the terminal only while a prompt is
// showing. The editor reads in the background, so without the gate it would
// swallow input meant for a foreground job.
//
// Each Open admits reads until one returns a line ending or an interrupt.
type promptGate struct {
	r     io.Reader
	token chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

func newPromptGate(r io.Reader) *promptGate {
	return &promptGate{
		r:     r,
		token: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Open admits reads for the next line.
func (g *promptGate) Open() {
	select {
	case g.token <- struct{}{}:
	default:
	}
}

// Read implements io.Reader.
func (g *promptGate) Read(p []byte) (int, error) {
	select {
	case <-g.token:
	case <-g.done:
		return 0, io.EOF
	}

	n, err := g.r.Read(p)
	if err == nil && !bytes.ContainsAny(p[:n], "\r\n\x03") {
		g.Open()
	}
	return n, err
}

// Close unblocks pending reads.
func (g *promptGate) Close() error {
	g.closeOnce.Do(func() { close(g.done) })
	return nil
}
