package logger

import (
	"fmt"
	"io"
	"math/rand"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Event names, stored under the "event" key of every entry.
const (
	EventSessionStart     = "session.start"
	EventJobLaunch        = "job.launch"
	EventJobBackground    = "job.background"
	EventJobStopped       = "job.stopped"
	EventJobContinued     = "job.continued"
	EventJobDone          = "job.done"
	EventLaunchFailed     = "launch.failed"
	EventTerminalTransfer = "terminal.transfer"
	EventSignalReceived   = "signal.received"
	EventSSHLogin         = "ssh.login"
	EventSSHSessionEnd    = "ssh.session.end"
)

// Logger captures job-control events so a session can be reviewed after the
// fact.
type Logger struct {
	z *zap.Logger
}

// NewJsonLinesLogRecorder creates a Logger that exports events in newline
// delimited JSON object format.
func NewJsonLinesLogRecorder(w io.Writer) *Logger {
	encoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		MessageKey:     "event",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	})

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), zapcore.DebugLevel)
	return &Logger{z: zap.New(core)}
}

// Nop creates a Logger that discards everything.
func Nop() *Logger {
	return &Logger{z: zap.NewNop()}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.z.Sync()
}

// NewSession creates a logger with attached session ID.
func (l *Logger) NewSession() *SessionLogger {
	return l.withSession(fmt.Sprintf("%d", rand.Uint64()))
}

// Sessionless creates a logger for events not tied to a shell session, like
// the SSH server's.
func (l *Logger) Sessionless() *SessionLogger {
	return l.withSession("")
}

func (l *Logger) withSession(id string) *SessionLogger {
	z := l.z
	if id != "" {
		z = z.With(zap.String("session_id", id))
	}
	return &SessionLogger{z: z, sessionID: id}
}

// SessionLogger logs events with a shared session ID.
type SessionLogger struct {
	z         *zap.Logger
	sessionID string
}

// SessionID is the ID attached to every event.
func (s *SessionLogger) SessionID() string {
	return s.sessionID
}

// SessionStart records the shell starting up and the group it runs in.
func (s *SessionLogger) SessionStart(interactive bool, shellGroup int) {
	s.z.Info(EventSessionStart, zap.Bool("interactive", interactive), zap.Int("pgid", shellGroup))
}

// JobLaunched records a new job and the pids in its group.
func (s *SessionLogger) JobLaunched(id, pgid int, command string, background bool, pids []int) {
	s.z.Info(EventJobLaunch,
		zap.Int("job_id", id),
		zap.Int("pgid", pgid),
		zap.String("command", command),
		zap.Bool("background", background),
		zap.Ints("pids", pids),
	)
}

// JobBackgrounded records a job started with &.
func (s *SessionLogger) JobBackgrounded(id, pgid int, command string) {
	s.z.Info(EventJobBackground, zap.Int("job_id", id), zap.Int("pgid", pgid), zap.String("command", command))
}

// JobStopped records a job suspended by a stop signal.
func (s *SessionLogger) JobStopped(id, pgid int, command, status string) {
	s.z.Info(EventJobStopped,
		zap.Int("job_id", id),
		zap.Int("pgid", pgid),
		zap.String("command", command),
		zap.String("status", status),
	)
}

// JobContinued records SIGCONT being sent to a job by fg or bg.
func (s *SessionLogger) JobContinued(id, pgid int, command string, foreground bool) {
	s.z.Info(EventJobContinued,
		zap.Int("job_id", id),
		zap.Int("pgid", pgid),
		zap.String("command", command),
		zap.Bool("foreground", foreground),
	)
}

// JobDone records a job whose processes have all been reaped.
func (s *SessionLogger) JobDone(id, pgid int, command, status string) {
	s.z.Info(EventJobDone,
		zap.Int("job_id", id),
		zap.Int("pgid", pgid),
		zap.String("command", command),
		zap.String("status", status),
	)
}

// LaunchFailed records a command that never became a process.
func (s *SessionLogger) LaunchFailed(command, op string, err error) {
	s.z.Warn(EventLaunchFailed, zap.String("command", command), zap.String("op", op), zap.Error(err))
}

// TerminalTransfer records a change of foreground group. Failed transfers
// are warnings, successful ones only show up at debug level.
func (s *SessionLogger) TerminalTransfer(pgid int, err error) {
	if err != nil {
		s.z.Warn(EventTerminalTransfer, zap.Int("pgid", pgid), zap.Error(err))
		return
	}
	s.z.Debug(EventTerminalTransfer, zap.Int("pgid", pgid))
}

// SignalReceived records a signal delivered to the shell itself.
func (s *SessionLogger) SignalReceived(sig string) {
	s.z.Debug(EventSignalReceived, zap.String("signal", sig))
}

// SSHLogin records an authentication attempt.
func (s *SessionLogger) SSHLogin(user, remoteAddr, fingerprint string, accepted bool) {
	s.z.Info(EventSSHLogin,
		zap.String("user", user),
		zap.String("remote_addr", remoteAddr),
		zap.String("fingerprint", fingerprint),
		zap.Bool("accepted", accepted),
	)
}

// SSHSessionEnd records the exit code sent to a client.
func (s *SessionLogger) SSHSessionEnd(user, remoteAddr string, exitCode int) {
	s.z.Info(EventSSHSessionEnd,
		zap.String("user", user),
		zap.String("remote_addr", remoteAddr),
		zap.Int("exit_code", exitCode),
	)
}
