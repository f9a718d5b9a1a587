package shell

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/josephlewis42/jobsh/core/pipeline"
	"github.com/pborman/getopt/v2"
)

// AllBuiltins holds a list of all registered shell builtins
var AllBuiltins = make(map[string]ShellBuiltin)

type ShellBuiltin interface {
	Main(s *Shell, args []string) int
}

type ShellBuiltinFunc func(s *Shell, args []string) int

func (f ShellBuiltinFunc) Main(s *Shell, args []string) int {
	return f(s, args)
}

var _ ShellBuiltin = (ShellBuiltinFunc)(nil)

var (
	errJobIDRequired = errors.New("job id required")
	errBadJobID      = errors.New("invalid job id")
)

// Cd is the cd shell builtin
func Cd(s *Shell, args []string) int {
	switch len(args) {
	case 1:
		args = append(args, os.Getenv(EnvHome))
		fallthrough
	case 2:
		if err := os.Chdir(args[1]); err != nil {
			fmt.Fprintf(s.stderr, "%s: %v\n", args[0], err)
			return 1
		}
	default:
		fmt.Fprintf(s.stderr, "%s: too many arguments\n", args[0])
		return 1
	}
	return 0
}

func Pwd(s *Shell, args []string) int {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(s.stderr, "%s: %v\n", args[0], err)
		return 1
	}
	fmt.Fprintln(s.stdout, wd)
	return 0
}

// Exit quits the shell
func Exit(s *Shell, args []string) int {
	code := 0
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(s.stderr, "%s: %s: numeric argument required\n", args[0], args[1])
			n = 2
		}
		code = n
	}

	s.Quit = true
	s.exitCode = code
	return code
}

func History(s *Shell, args []string) int {
	opts := getopt.New()
	clear := opts.Bool('c', "clear the history by deleting all entries")
	helpOpt := opts.BoolLong("help", 'h', "show help and exit")

	if err := opts.Getopt(args, nil); err != nil || *helpOpt {
		w := s.stderr
		if err != nil {
			fmt.Fprintln(w, err)
		}
		fmt.Fprintln(w, "usage: history [-c]")
		fmt.Fprintln(w, "Display the history list with line numbers.")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Options:")
		opts.PrintOptions(w)
		return 1
	}

	if *clear {
		if s.Readline != nil {
			s.Readline.ResetHistory()
		}
		s.history = nil
		return 0
	}

	for i, line := range s.history {
		fmt.Fprintf(s.stdout, "% 5d  %s\n", i+1, line)
	}
	return 0
}

// Jobs lists the session's jobs after reaping any that changed.
func Jobs(s *Shell, args []string) int {
	opts := getopt.New()
	long := opts.Bool('l', "list process ids and their statuses")
	groupsOnly := opts.Bool('p', "list only process group ids")
	helpOpt := opts.BoolLong("help", 'h', "show help and exit")

	if err := opts.Getopt(args, nil); err != nil || *helpOpt {
		w := s.stderr
		if err != nil {
			fmt.Fprintln(w, err)
		}
		fmt.Fprintln(w, "usage: jobs [-lp]")
		fmt.Fprintln(w, "Display status of jobs.")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Options:")
		opts.PrintOptions(w)
		return 1
	}

	for _, n := range s.reconciler.Poll() {
		if !*groupsOnly {
			s.printNotice(n)
		}
	}

	for _, job := range s.table.List() {
		if *groupsOnly {
			fmt.Fprintln(s.stdout, job.Pgid)
			continue
		}

		fmt.Fprintf(s.stdout, "[%d] %s %s (pgid %d)\n", job.ID, s.colorState(job.State), job.Command, job.Pgid)
		if *long {
			for _, p := range job.Processes {
				status := p.Status
				if status == "" {
					status = "-"
				}
				fmt.Fprintf(s.stdout, "    %d %s %s\n", p.Pid, s.colorState(p.State), status)
			}
		}
	}
	return 0
}

// Fg continues a job with the terminal and waits for it.
func Fg(s *Shell, args []string) int {
	id, err := jobArg(args)
	if err != nil {
		fmt.Fprintf(s.stderr, "%s: %v\n", args[0], err)
		return 1
	}

	for _, n := range s.reconciler.Poll() {
		s.printNotice(n)
	}

	if job, ok := s.table.FindByID(id); ok {
		fmt.Fprintln(s.stdout, job.Command)
	}

	outcome, err := s.reconciler.BringToForeground(id)
	switch {
	case errors.Is(err, pipeline.ErrJobGone):
		// Reaped between the lookup and the resume.
		return 1
	case err != nil:
		fmt.Fprintf(s.stderr, "%s: %v\n", args[0], err)
		return 1
	}
	return outcome.ExitCode()
}

// Bg continues a stopped job in the background.
func Bg(s *Shell, args []string) int {
	id, err := jobArg(args)
	if err != nil {
		fmt.Fprintf(s.stderr, "%s: %v\n", args[0], err)
		return 1
	}

	for _, n := range s.reconciler.Poll() {
		s.printNotice(n)
	}

	switch err := s.reconciler.ResumeInBackground(id); {
	case errors.Is(err, pipeline.ErrJobGone):
		return 1
	case err != nil:
		fmt.Fprintf(s.stderr, "%s: %v\n", args[0], err)
		return 1
	}
	return 0
}

// jobArg parses the job id of fg and bg, written N or %N.
func jobArg(args []string) (int, error) {
	if len(args) < 2 {
		return 0, errJobIDRequired
	}

	id, err := strconv.Atoi(strings.TrimPrefix(args[1], "%"))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s: %w", args[1], errBadJobID)
	}
	return id, nil
}

var builtinHelp = map[string]string{
	"bg":      "bg N|%N       Resume a stopped job in the background.",
	"cd":      "cd [dir]      Change the working directory.",
	"exit":    "exit [n]      Exit the shell.",
	"fg":      "fg N|%N       Resume a job in the foreground.",
	"help":    "help          Show this list.",
	"history": "history [-c]  Display or clear the history list.",
	"jobs":    "jobs [-lp]    List jobs.",
	"pwd":     "pwd           Print the working directory.",
}

// BuiltinNames lists the registered builtins in sorted order.
func BuiltinNames() []string {
	var builtins []string
	for k := range AllBuiltins {
		builtins = append(builtins, k)
	}
	sort.Strings(builtins)
	return builtins
}

func Help(s *Shell, args []string) int {
	w := s.stdout
	fmt.Fprintln(w, "jobsh, a job-control shell")
	fmt.Fprintln(w, "These shell commands are defined internally.  Type `help' to see this list.")
	fmt.Fprintln(w, "Use `cmd &' to run a job in the background and `cmd | cmd' to build pipelines.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Builtins:")
	fmt.Fprintln(w)

	for _, name := range BuiltinNames() {
		fmt.Fprintln(w, builtinHelp[name])
	}

	return 0
}

func init() {
	AllBuiltins["cd"] = ShellBuiltinFunc(Cd)
	AllBuiltins["pwd"] = ShellBuiltinFunc(Pwd)
	AllBuiltins["exit"] = ShellBuiltinFunc(Exit)
	AllBuiltins["history"] = ShellBuiltinFunc(History)
	AllBuiltins["jobs"] = ShellBuiltinFunc(Jobs)
	AllBuiltins["fg"] = ShellBuiltinFunc(Fg)
	AllBuiltins["bg"] = ShellBuiltinFunc(Bg)
	AllBuiltins["help"] = ShellBuiltinFunc(Help)
}
