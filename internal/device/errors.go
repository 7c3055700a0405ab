package device

import (
	"errors"
	"fmt"
	"strings"
)

var ErrCommand = errors.New("device command failed")

// CommandError carries the CLI output of a rejected command.
type CommandError struct {
	Command string
	Output  string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %q: %s", ErrCommand, e.Command, e.Output)
}

func (e *CommandError) Unwrap() error {
	return ErrCommand
}

// checkOutput reports CLI error lines ("% Invalid input" and friends).
func checkOutput(cmd, out string) error {
	var problems []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "% ") {
			problems = append(problems, strings.TrimPrefix(line, "% "))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return &CommandError{Command: cmd, Output: strings.Join(problems, "; ")}
}
