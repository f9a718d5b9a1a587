package shell

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readResult struct {
	data string
	err  error
}

func readAsync(g *promptGate) <-chan readResult {
	out := make(chan readResult, 1)
	go func() {
		buf := make([]byte, 64)
		n, err := g.Read(buf)
		out <- readResult{data: string(buf[:n]), err: err}
	}()
	return out
}

func TestPromptGate(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	g := newPromptGate(r)

	pending := readAsync(g)
	go w.Write([]byte("ls"))

	select {
	case res := <-pending:
		t.Fatalf("read %q before the gate opened", res.data)
	case <-time.After(50 * time.Millisecond):
	}

	g.Open()
	res := <-pending
	require.NoError(t, res.err)
	assert.Equal(t, "ls", res.data)

	// Partial lines keep the gate open.
	pending = readAsync(g)
	go w.Write([]byte(" -l\r"))
	res = <-pending
	assert.Equal(t, " -l\r", res.data)

	// The line ending closed it again.
	pending = readAsync(g)
	go w.Write([]byte("cat"))
	select {
	case res := <-pending:
		t.Fatalf("read %q after a line ending", res.data)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, g.Close())
	res = <-pending
	assert.Equal(t, io.EOF, res.err)
}

func TestPromptGateInterrupt(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	g := newPromptGate(r)

	g.Open()
	g.Open() // Opening twice admits one line, not two.

	pending := readAsync(g)
	go w.Write([]byte{0x03})
	res := <-pending
	assert.Equal(t, "\x03", res.data)

	pending = readAsync(g)
	select {
	case res := <-pending:
		t.Fatalf("read %q after an interrupt", res.data)
	case <-time.After(50 * time.Millisecond):
	}
	g.Close()
	<-pending
}
