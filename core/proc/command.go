package proc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingTarget is returned when a redirection operator has no file.
var ErrMissingTarget = errors.New("syntax error: redirection without a target")

// Command is one pipeline stage: a program with its arguments and optional
// file redirections.
type Command struct {
	Argv []string

	// Input, if set, is the file standard input is read from.
	Input string
	// Output, if set, is the file standard output is written to.
	Output string
	// Append opens Output for appending instead of truncating it.
	Append bool
}

// Name is the program name as the user typed it.
func (c Command) Name() string {
	if len(c.Argv) == 0 {
		return ""
	}
	return c.Argv[0]
}

func (c Command) String() string {
	words := append([]string(nil), c.Argv...)
	if c.Input != "" {
		words = append(words, "<", c.Input)
	}
	if c.Output != "" {
		op := ">"
		if c.Append {
			op = ">>"
		}
		words = append(words, op, c.Output)
	}
	return strings.Join(words, " ")
}

// ParseCommand splits words into arguments and the redirections
// `< file`, `> file` and `>> file`. Operators must be separate words. When an
// operator repeats, the last one wins.
func ParseCommand(words []string) (Command, error) {
	var cmd Command

	for i := 0; i < len(words); i++ {
		switch op := words[i]; op {
		case "<", ">", ">>":
			if i+1 >= len(words) {
				return Command{}, fmt.Errorf("%q: %w", op, ErrMissingTarget)
			}
			target := words[i+1]
			i++

			switch op {
			case "<":
				cmd.Input = target
			case ">":
				cmd.Output, cmd.Append = target, false
			case ">>":
				cmd.Output, cmd.Append = target, true
			}
		default:
			cmd.Argv = append(cmd.Argv, op)
		}
	}

	return cmd, nil
}
