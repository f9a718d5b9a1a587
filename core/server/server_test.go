package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gliderlabs/ssh"
	"github.com/josephlewis42/jobsh/core/config"
	"github.com/josephlewis42/jobsh/core/logger"
	"github.com/josephlewis42/jobsh/core/ttylog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newSigner(t *testing.T) gossh.Signer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := gossh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

func newConfig(t *testing.T, authorized ...gossh.PublicKey) *config.Configuration {
	t.Helper()

	fs := afero.NewMemMapFs()
	cfg, err := config.InitializeFs(fs, log.New(io.Discard, "", 0))
	require.NoError(t, err)

	var keys bytes.Buffer
	keys.WriteString("# clients\n\n")
	for _, k := range authorized {
		keys.Write(gossh.MarshalAuthorizedKey(k))
	}
	require.NoError(t, afero.WriteFile(fs, cfg.Server.AuthorizedKeys, keys.Bytes(), 0600))
	return cfg
}

func TestParseAuthorizedKeys(t *testing.T) {
	first := newSigner(t).PublicKey()
	second := newSigner(t).PublicKey()

	cases := map[string]struct {
		data    string
		want    []gossh.PublicKey
		wantErr bool
	}{
		"empty": {
			data: "",
		},
		"comments only": {
			data: "# nobody yet\n\n",
		},
		"one key": {
			data: string(gossh.MarshalAuthorizedKey(first)),
			want: []gossh.PublicKey{first},
		},
		"keys with comments": {
			data: "# admins\n" + string(gossh.MarshalAuthorizedKey(first)) +
				"\n# ops\n" + strings.TrimSpace(string(gossh.MarshalAuthorizedKey(second))) + " ops@example\n\n",
			want: []gossh.PublicKey{first, second},
		},
		"garbage": {
			data:    "not a key\n",
			wantErr: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := ParseAuthorizedKeys([]byte(tc.data))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, got, len(tc.want))
			for i := range got {
				assert.True(t, ssh.KeysEqual(tc.want[i], got[i]))
			}
		})
	}
}

func TestNewRequiresAuthorizedKeys(t *testing.T) {
	cfg := newConfig(t)

	_, err := New(cfg, logger.Nop(), []string{"sh"})
	assert.ErrorIs(t, err, ErrNoAuthorizedKeys)
}

func TestNewRequiresShell(t *testing.T) {
	cfg := newConfig(t, newSigner(t).PublicKey())

	_, err := New(cfg, logger.Nop(), nil)
	assert.Error(t, err)
}

// fakeContext provides the connection metadata Authorize reads.
type fakeContext struct {
	ssh.Context
	user string
}

func (c *fakeContext) User() string {
	return c.user
}

func (c *fakeContext) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 5555}
}

func TestAuthorize(t *testing.T) {
	allowed := newSigner(t).PublicKey()
	stranger := newSigner(t).PublicKey()

	var events syncBuffer
	srv, err := New(newConfig(t, allowed), logger.NewJsonLinesLogRecorder(&events), []string{"sh"})
	require.NoError(t, err)

	assert.True(t, srv.Authorize(&fakeContext{user: "alice"}, allowed))
	assert.False(t, srv.Authorize(&fakeContext{user: "mallory"}, stranger))

	report := logger.NewReport()
	require.NoError(t, logger.ReadJSONLinesLog(strings.NewReader(events.String()), report.Update))
	assert.Equal(t, 1, report.Logins.Get("alice", "accepted"))
	assert.Equal(t, 1, report.Logins.Get("mallory", "rejected"))
	assert.Contains(t, events.String(), gossh.FingerprintSHA256(allowed))
}

func TestAddr(t *testing.T) {
	cfg := newConfig(t, newSigner(t).PublicKey())
	cfg.Server.Address = "::1"
	cfg.Server.Port = 2022

	srv, err := New(cfg, logger.Nop(), []string{"sh"})
	require.NoError(t, err)
	assert.Equal(t, "[::1]:2022", srv.Addr())
}

func startServer(t *testing.T, cfg *config.Configuration, eventLog *logger.Logger) string {
	t.Helper()

	// sh accepts the same -c convention as jobsh.
	srv, err := New(cfg, eventLog, []string{"sh"})
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go srv.Serve(l)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	return l.Addr().String()
}

func dial(t *testing.T, addr string, signer gossh.Signer) *gossh.Client {
	t.Helper()

	client, err := gossh.Dial("tcp", addr, &gossh.ClientConfig{
		User:            "tester",
		Auth:            []gossh.AuthMethod{gossh.PublicKeys(signer)},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRunCommand(t *testing.T) {
	signer := newSigner(t)
	var events syncBuffer
	addr := startServer(t, newConfig(t, signer.PublicKey()), logger.NewJsonLinesLogRecorder(&events))

	t.Run("success", func(t *testing.T) {
		session, err := dial(t, addr, signer).NewSession()
		require.NoError(t, err)
		defer session.Close()

		out, err := session.Output("echo hello")
		require.NoError(t, err)
		assert.Equal(t, "hello\n", string(out))
	})

	t.Run("exit status", func(t *testing.T) {
		session, err := dial(t, addr, signer).NewSession()
		require.NoError(t, err)
		defer session.Close()

		err = session.Run("exit 3")
		var exitErr *gossh.ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 3, exitErr.ExitStatus())
	})

	t.Run("shell needs a terminal", func(t *testing.T) {
		session, err := dial(t, addr, signer).NewSession()
		require.NoError(t, err)
		defer session.Close()

		var stderr bytes.Buffer
		session.Stderr = &stderr
		require.NoError(t, session.Shell())

		err = session.Wait()
		var exitErr *gossh.ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 1, exitErr.ExitStatus())
		assert.Contains(t, stderr.String(), "need a terminal")
	})

	report := logger.NewReport()
	require.NoError(t, logger.ReadJSONLinesLog(strings.NewReader(events.String()), report.Update))
	assert.Equal(t, 3, report.Logins.Get("tester", "accepted"))
	assert.Equal(t, 3, report.Events.Get(logger.EventSSHSessionEnd))
}

func TestRejectsUnknownKey(t *testing.T) {
	addr := startServer(t, newConfig(t, newSigner(t).PublicKey()), logger.Nop())

	_, err := gossh.Dial("tcp", addr, &gossh.ClientConfig{
		User:            "tester",
		Auth:            []gossh.AuthMethod{gossh.PublicKeys(newSigner(t))},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	assert.Error(t, err)
}

func TestRateLimitedOutput(t *testing.T) {
	signer := newSigner(t)
	cfg := newConfig(t, signer.PublicKey())
	cfg.Server.MaxOutputBytesPerSecond = 1 << 20
	addr := startServer(t, cfg, logger.Nop())

	session, err := dial(t, addr, signer).NewSession()
	require.NoError(t, err)
	defer session.Close()

	out, err := session.Output("printf abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))
}

func TestPtySessionIsRecorded(t *testing.T) {
	signer := newSigner(t)
	cfg := newConfig(t, signer.PublicKey())
	cfg.Server.Recordings = "recordings"
	addr := startServer(t, cfg, logger.Nop())

	session, err := dial(t, addr, signer).NewSession()
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.RequestPty("xterm", 24, 80, gossh.TerminalModes{}))
	out, err := session.Output("echo recorded")
	require.NoError(t, err)
	assert.Contains(t, string(out), "recorded")

	names, err := cfg.ListRecordings()
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.True(t, strings.HasSuffix(names[0], "-tester.cast"))

	fd, err := cfg.OpenRecording(names[0])
	require.NoError(t, err)
	defer fd.Close()

	source := ttylog.NewAsciicastLogSource(fd)
	header, err := source.Header()
	require.NoError(t, err)
	assert.Equal(t, 80, header.Width)
	assert.Equal(t, 24, header.Height)

	var played bytes.Buffer
	require.NoError(t, ttylog.Replay(source, ttylog.NewClientOutput(&played)))
	assert.Contains(t, played.String(), "recorded")
}
