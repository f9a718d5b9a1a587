// Package shell is the command interpreter: it reads lines, runs builtins
// and hands everything else to the job-control engine.
package shell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"regexp"
	"strconv"
	"strings"

	"github.com/abiosoft/readline"
	"github.com/fatih/color"
	"github.com/josephlewis42/jobsh/core/config"
	"github.com/josephlewis42/jobsh/core/jobs"
	"github.com/josephlewis42/jobsh/core/logger"
	"github.com/josephlewis42/jobsh/core/pipeline"
	"github.com/josephlewis42/jobsh/core/proc"
	"github.com/josephlewis42/jobsh/core/tty"
	"golang.org/x/term"
)

const (
	EnvHome = "HOME"
	EnvUser = "USER"

	DefaultPrompt = `\u@\h:\w\$ `

	// ctrlZ would make the line editor suspend the shell itself.
	ctrlZ = 26
)

// Options configure a new Shell.
type Options struct {
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File

	Config *config.Configuration
	Logger *logger.Logger

	// Interactive takes control of the terminal on Stdin, if it is one.
	Interactive bool
}

// Shell is one interpreter session. It owns its job table and its view of
// the terminal, so several sessions can live in one process.
type Shell struct {
	stdin  *os.File
	stdout *os.File
	stderr *os.File

	cfg *config.Configuration
	log *logger.SessionLogger

	table        *jobs.Table
	tty          tty.Controller
	terminal     *tty.Terminal
	launcher     *proc.Launcher
	orchestrator *pipeline.Orchestrator
	reconciler   *pipeline.Reconciler

	Readline *readline.Instance
	gate     *promptGate

	history []string
	lastRet int

	// Set to true to quit the shell
	Quit     bool
	exitCode int

	signals      chan os.Signal
	childChanged bool

	running, stopped, done *color.Color
}

// New creates a session. With Options.Interactive and a terminal on stdin the
// shell waits until it is in the foreground, then claims the terminal.
func New(opts Options) (*Shell, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	s := &Shell{
		stdin:  opts.Stdin,
		stdout: opts.Stdout,
		stderr: opts.Stderr,
		cfg:    cfg,
		log:    log.NewSession(),
		table:  jobs.NewTable(),
	}

	s.launcher = proc.NewLauncher(s.stdin, s.stdout, s.stderr)
	s.tty = tty.NewDetached()

	if opts.Interactive {
		terminal, err := tty.Open(s.stdin)
		switch {
		case errors.Is(err, tty.ErrNotTerminal):
		case err != nil:
			return nil, err
		default:
			if err := terminal.Acquire(); err != nil {
				return nil, err
			}
			s.terminal = terminal
			s.tty = terminal
			s.launcher.TTY = terminal.Fd()
		}
	}

	s.reconciler = pipeline.NewReconciler(s.table, s.tty, s.stderr, s.log)
	s.orchestrator = &pipeline.Orchestrator{
		Launcher:   s.launcher,
		Table:      s.table,
		Reconciler: s.reconciler,
		Stderr:     s.stderr,
		Out:        s.stderr,
		Log:        s.log,
	}

	s.initColors()
	s.log.SessionStart(s.terminal != nil, s.tty.ShellGroup())
	return s, nil
}

func (s *Shell) initColors() {
	s.running = color.New(color.FgGreen)
	s.stopped = color.New(color.FgYellow)
	s.done = color.New(color.Faint)

	enabled := s.cfg.ColorEnabled(s.stdout != nil && term.IsTerminal(int(s.stdout.Fd())))
	for _, c := range []*color.Color{s.running, s.stopped, s.done} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

// Interactive is true when the shell controls a terminal.
func (s *Shell) Interactive() bool {
	return s.terminal != nil
}

// Jobs is the session's job table.
func (s *Shell) Jobs() *jobs.Table {
	return s.table
}

// LastStatus is the status of the last command run.
func (s *Shell) LastStatus() int {
	return s.lastRet
}

// Execute runs one command line: a builtin or a pipeline of programs.
func (s *Shell) Execute(input string) {
	if strings.TrimSpace(input) == "" {
		return
	}
	s.addHistory(input)

	line, err := ParseLine(input)
	if err != nil {
		fmt.Fprintf(s.stderr, "jobsh: %v\n", err)
		s.lastRet = 2
		return
	}
	if line.Empty() {
		return
	}

	if builtin, ok := AllBuiltins[line.Stages[0][0]]; ok && len(line.Stages) == 1 {
		s.lastRet = builtin.Main(s, line.Stages[0])
		return
	}

	for _, stage := range line.Stages {
		if _, ok := AllBuiltins[stage[0]]; ok {
			fmt.Fprintf(s.stderr, "jobsh: %s: builtins can't be used in a pipeline\n", stage[0])
			s.lastRet = 1
			return
		}
	}

	commands, err := line.Commands()
	if err != nil {
		fmt.Fprintf(s.stderr, "jobsh: %v\n", err)
		s.lastRet = 2
		return
	}

	status, err := s.orchestrator.Run(commands, line.Background, line.Text)
	if err != nil {
		fmt.Fprintf(s.stderr, "jobsh: %v\n", err)
	}
	s.lastRet = status
}

// RunCommand runs a single line, as for `jobsh -c`, and returns its status.
func (s *Shell) RunCommand(line string) int {
	s.Execute(line)
	if s.Quit {
		return s.exitCode
	}
	return s.lastRet
}

// RunScript executes lines from r until end of input or exit.
func (s *Shell) RunScript(r io.Reader) int {
	scanner := bufio.NewScanner(r)
	for !s.Quit && scanner.Scan() {
		s.Execute(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(s.stderr, "jobsh: %v\n", err)
		return 1
	}
	return s.exitCode
}

// RunInteractive runs the prompt loop. Without a terminal it falls back to
// RunScript on stdin.
func (s *Shell) RunInteractive() int {
	if s.terminal == nil {
		return s.RunScript(s.stdin)
	}

	if s.Readline == nil {
		if err := s.initReadline(); err != nil {
			fmt.Fprintf(s.stderr, "jobsh: %v\n", err)
			return 1
		}
	}

	s.catchSignals()
	defer s.releaseSignals()

	for !s.Quit {
		s.drainSignals()
		s.reportJobs()

		s.gate.Open()
		s.Readline.SetPrompt(s.prompt())
		line, err := s.Readline.Readline()

		switch {
		case err == io.EOF:
			return s.exitCode // Input closed, quit.

		case err == readline.ErrInterrupt:
			// Interrupt clears line.
			continue

		case err != nil:
			fmt.Fprintf(s.stderr, "jobsh: readline: %v\n", err)
			return 1

		default:
			s.Execute(line)
		}
	}

	return s.exitCode
}

func (s *Shell) initReadline() error {
	s.gate = newPromptGate(s.stdin)

	historyLimit := s.cfg.HistoryLimit
	if historyLimit == 0 {
		historyLimit = -1
	}

	cfg := &readline.Config{
		Stdin:        readline.NewCancelableStdin(s.gate),
		Stdout:       s.stdout,
		Stderr:       s.stderr,
		HistoryLimit: historyLimit,
		FuncFilterInputRune: func(r rune) (rune, bool) {
			return r, r != ctrlZ
		},
		FuncIsTerminal: func() bool {
			return true
		},
	}

	if err := cfg.Init(); err != nil {
		return err
	}

	rl, err := readline.NewEx(cfg)
	if err != nil {
		return err
	}
	s.Readline = rl
	return nil
}

// Close releases the terminal and the line editor.
func (s *Shell) Close() error {
	s.releaseSignals()

	var lastErr error
	if s.Readline != nil {
		lastErr = s.Readline.Close()
	}
	if s.gate != nil {
		s.gate.Close()
	}
	if err := s.tty.RestoreModes(); err != nil {
		lastErr = err
	}
	return lastErr
}

func (s *Shell) addHistory(line string) {
	s.history = append(s.history, line)
	if limit := s.cfg.HistoryLimit; limit > 0 && len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
}

func (s *Shell) printNotice(n pipeline.Notice) {
	fmt.Fprintf(s.stderr, "[%d] %s %s\n", n.ID, s.colorState(n.State), n.Command)
}

func (s *Shell) colorState(state jobs.State) string {
	switch state {
	case jobs.Running:
		return s.running.Sprint(state)
	case jobs.Stopped:
		return s.stopped.Sprint(state)
	default:
		return s.done.Sprint(state)
	}
}

func (s *Shell) prompt() string {
	prompt := s.cfg.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}

	username := os.Getenv(EnvUser)
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	prompt = strings.ReplaceAll(prompt, `\u`, username)

	host, _ := os.Hostname()
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	prompt = strings.ReplaceAll(prompt, `\h`, host)

	pwd, _ := os.Getwd()
	home := os.Getenv(EnvHome)
	if home != "" && strings.HasPrefix(pwd, home) {
		pwd = "~" + strings.TrimPrefix(pwd, home)
	}
	prompt = strings.ReplaceAll(prompt, `\w`, pwd)

	if os.Geteuid() == 0 {
		prompt = strings.ReplaceAll(prompt, `\$`, "#")
	} else {
		prompt = strings.ReplaceAll(prompt, `\$`, "$")
	}

	return unescape(prompt)
}

var (
	unescapeOctal   = regexp.MustCompile(`\\0[0-7][0-7]?[0-7]?`)
	unescapeHex     = regexp.MustCompile(`\\x[0-9a-fA-F][0-9a-fA-F]?`)
	unescapeReplace = strings.NewReplacer(
		`\n`, "\n", // newline
		`\r`, "\r", // carriage return
		`\t`, "\t", // horizontal tab
		`\\`, `\`, // backslash literal
		`\a`, "\a", // alert
		`\e`, "\x1b", // escape
	)
)

func unescape(s string) string {
	s = unescapeReplace.Replace(s)
	s = unescapeOctal.ReplaceAllStringFunc(s, func(arg string) string {
		out, err := strconv.ParseUint(arg[2:], 8, 8)
		if err != nil {
			return arg
		}
		return string([]byte{byte(out)})
	})
	s = unescapeHex.ReplaceAllStringFunc(s, func(arg string) string {
		out, err := strconv.ParseUint(arg[2:], 16, 8)
		if err != nil {
			return arg
		}
		return string([]byte{byte(out)})
	})
	return s
}
