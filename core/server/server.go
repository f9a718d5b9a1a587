// Package server exposes jobsh sessions over SSH. Every session runs its own
// jobsh process on a fresh pseudo terminal so job control works remotely.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/creack/pty"
	"github.com/gliderlabs/ssh"
	"github.com/josephlewis42/jobsh/core/config"
	"github.com/josephlewis42/jobsh/core/logger"
	"github.com/josephlewis42/jobsh/core/ttylog"
	"github.com/juju/ratelimit"
	gossh "golang.org/x/crypto/ssh"
)

// ErrNoAuthorizedKeys is returned when no client could ever log in.
var ErrNoAuthorizedKeys = errors.New("no authorized keys configured")

// stdinWaitDelay bounds how long a finished command waits for a client that
// never closes its input.
const stdinWaitDelay = 2 * time.Second

type Server struct {
	configuration *config.Configuration
	logger        *logger.SessionLogger
	authorized    []gossh.PublicKey
	shellArgv     []string
	sshServer     *ssh.Server
}

// New creates a server that starts sessions by running shellArgv, which
// must accept `-c line` for non-interactive commands.
func New(configuration *config.Configuration, eventLog *logger.Logger, shellArgv []string) (*Server, error) {
	if len(shellArgv) == 0 {
		return nil, errors.New("no shell command given")
	}

	keyData, err := configuration.AuthorizedKeys()
	if err != nil {
		return nil, err
	}
	authorized, err := ParseAuthorizedKeys(keyData)
	if err != nil {
		return nil, err
	}
	if len(authorized) == 0 {
		return nil, fmt.Errorf("%s: %w", configuration.Server.AuthorizedKeys, ErrNoAuthorizedKeys)
	}

	hostKey, err := configuration.HostKeyPem()
	if err != nil {
		return nil, fmt.Errorf("read host key: %w", err)
	}

	srv := &Server{
		configuration: configuration,
		logger:        eventLog.Sessionless(),
		authorized:    authorized,
		shellArgv:     shellArgv,
	}

	srv.sshServer = &ssh.Server{
		Addr: net.JoinHostPort(configuration.Server.Address, strconv.Itoa(configuration.Server.Port)),
		Handler: func(s ssh.Session) {
			srv.HandleSession(s)
		},
		PublicKeyHandler: srv.Authorize,
	}

	if err := srv.sshServer.SetOption(ssh.HostKeyPEM(hostKey)); err != nil {
		return nil, fmt.Errorf("parse host key: %w", err)
	}

	return srv, nil
}

// ParseAuthorizedKeys reads keys in OpenSSH authorized_keys format.
func ParseAuthorizedKeys(data []byte) ([]gossh.PublicKey, error) {
	var out []gossh.PublicKey
	for hasKeyLines(data) {
		key, _, _, rest, err := gossh.ParseAuthorizedKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse authorized keys: %w", err)
		}
		out = append(out, key)
		data = rest
	}
	return out, nil
}

// hasKeyLines reports whether data has anything besides blank lines and
// comments.
func hasKeyLines(data []byte) bool {
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 && line[0] != '#' {
			return true
		}
	}
	return false
}

// Authorize accepts clients presenting one of the authorized keys.
func (h *Server) Authorize(ctx ssh.Context, key ssh.PublicKey) bool {
	accepted := false
	for _, k := range h.authorized {
		if ssh.KeysEqual(key, k) {
			accepted = true
			break
		}
	}

	h.logger.SSHLogin(ctx.User(), ctx.RemoteAddr().String(), gossh.FingerprintSHA256(key), accepted)
	return accepted
}

// HandleSession runs one jobsh process for the session and relays its
// terminal.
func (h *Server) HandleSession(s ssh.Session) {
	ptyReq, winch, isPTY := s.Pty()

	argv := append([]string(nil), h.shellArgv...)
	switch {
	case s.RawCommand() != "":
		argv = append(argv, "-c", s.RawCommand())
	case !isPTY:
		fmt.Fprintln(s.Stderr(), "jobsh: interactive sessions need a terminal, try ssh -t")
		h.exit(s, 1)
		return
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), s.Environ()...)
	cmd.WaitDelay = stdinWaitDelay

	var out io.Writer = s
	if rate := h.configuration.Server.MaxOutputBytesPerSecond; rate > 0 {
		out = ratelimit.Writer(s, ratelimit.NewBucketWithRate(float64(rate), rate))
	}

	if !isPTY {
		cmd.Stdin = s
		cmd.Stdout = out
		cmd.Stderr = s.Stderr()
		if err := cmd.Run(); err != nil && cmd.ProcessState == nil {
			fmt.Fprintf(s.Stderr(), "jobsh: %v\n", err)
			h.exit(s, 1)
			return
		}
		h.exit(s, cmd.ProcessState.ExitCode())
		return
	}

	cmd.Env = append(cmd.Env, "TERM="+ptyReq.Term)
	f, err := pty.StartWithSize(cmd, winsize(ptyReq.Window))
	if err != nil {
		log.Printf("start session: %v", err)
		h.exit(s, 1)
		return
	}
	defer f.Close()

	var in io.Reader = s
	if rec, closeRec := h.startRecording(s, ptyReq); rec != nil {
		defer closeRec()
		out = io.MultiWriter(out, rec.Writer(ttylog.Output))
		in = io.TeeReader(s, rec.Writer(ttylog.Input))
	}

	// Watch for window changes.
	go func() {
		for window := range winch {
			pty.Setsize(f, winsize(window))
		}
	}()
	go io.Copy(f, in)

	// Reading fails once the shell exits and the terminal hangs up.
	io.Copy(out, f)

	exitCode := 1
	if err := cmd.Wait(); err == nil || cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	h.exit(s, exitCode)
}

// startRecording begins an asciicast recording of the session if recording
// is enabled. Failures are logged and the session continues unrecorded.
func (h *Server) startRecording(s ssh.Session, ptyReq ssh.Pty) (*ttylog.AsciicastRecorder, func()) {
	if !h.configuration.RecordingEnabled() {
		return nil, nil
	}

	now := time.Now()
	name := fmt.Sprintf("%s-%s.%s", now.UTC().Format("20060102T150405.000000000Z"), s.User(), ttylog.AsciicastFileExt)
	fd, err := h.configuration.CreateRecording(name)
	if err != nil {
		log.Printf("record session: %v", err)
		return nil, nil
	}

	rec, err := ttylog.NewAsciicastRecorder(fd, ttylog.AsciicastHeader{
		Width:     ptyReq.Window.Width,
		Height:    ptyReq.Window.Height,
		Timestamp: now.Unix(),
		Title:     fmt.Sprintf("%s@%s", s.User(), s.RemoteAddr()),
		Env:       map[string]string{"TERM": ptyReq.Term},
	})
	if err != nil {
		fd.Close()
		log.Printf("record session: %v", err)
		return nil, nil
	}

	return rec, func() {
		if err := rec.Err(); err != nil {
			log.Printf("record session %s: %v", name, err)
		}
		fd.Close()
	}
}

func (h *Server) exit(s ssh.Session, code int) {
	h.logger.SSHSessionEnd(s.User(), s.RemoteAddr().String(), code)
	s.Exit(code)
}

func winsize(w ssh.Window) *pty.Winsize {
	return &pty.Winsize{
		Rows: uint16(w.Height),
		Cols: uint16(w.Width),
	}
}

// Addr is the address the server listens on.
func (h *Server) Addr() string {
	return h.sshServer.Addr
}

func (h *Server) ListenAndServe() error {
	log.Printf("- Starting SSH server on %s\n", h.sshServer.Addr)
	return h.sshServer.ListenAndServe()
}

// Serve accepts connections on l.
func (h *Server) Serve(l net.Listener) error {
	return h.sshServer.Serve(l)
}

func (h *Server) Shutdown(ctx context.Context) error {
	return h.sshServer.Shutdown(ctx)
}
