package shell

import (
	"errors"
	"fmt"
	"strings"

	"github.com/anmitsu/go-shlex"
	"github.com/josephlewis42/jobsh/core/proc"
)

// ErrSyntax is returned for lines that can't be split into a pipeline.
var ErrSyntax = errors.New("syntax error")

// Line is a tokenized command line.
type Line struct {
	// Stages holds the words of each pipeline stage, in order.
	Stages [][]string
	// Background is set when the line ended with a lone "&".
	Background bool
	// Text is the line as displayed by jobs: the words joined by spaces,
	// without the trailing "&".
	Text string
}

// ParseLine splits a line into words, then into pipeline stages on "|"
// words. A final "&" word runs the line in the background. Operators must be
// separate words.
func ParseLine(input string) (*Line, error) {
	tokens, err := shlex.Split(input, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	if len(tokens) == 0 {
		return &Line{}, nil
	}

	out := &Line{}
	if tokens[len(tokens)-1] == "&" {
		out.Background = true
		tokens = tokens[:len(tokens)-1]
	}
	out.Text = strings.Join(tokens, " ")

	var cur []string
	for _, tok := range tokens {
		if tok != "|" {
			cur = append(cur, tok)
			continue
		}
		if len(cur) == 0 {
			return nil, fmt.Errorf("%w near unexpected token `|'", ErrSyntax)
		}
		out.Stages = append(out.Stages, cur)
		cur = nil
	}
	if len(cur) == 0 && len(out.Stages) > 0 {
		return nil, fmt.Errorf("%w near unexpected token `|'", ErrSyntax)
	}
	if len(cur) > 0 {
		out.Stages = append(out.Stages, cur)
	}

	return out, nil
}

// Empty is true for blank lines and a lone "&".
func (l *Line) Empty() bool {
	return len(l.Stages) == 0
}

// Commands parses the redirections of every stage.
func (l *Line) Commands() ([]proc.Command, error) {
	out := make([]proc.Command, 0, len(l.Stages))
	for _, words := range l.Stages {
		cmd, err := proc.ParseCommand(words)
		if err != nil {
			return nil, err
		}
		if len(cmd.Argv) == 0 {
			return nil, fmt.Errorf("%w: missing command before redirection", ErrSyntax)
		}
		out = append(out, cmd)
	}
	return out, nil
}
