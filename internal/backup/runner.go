package backup

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// stderrTailLimit bounds how much diagnostic text is retained from a tool.
const stderrTailLimit = 4096

// CommandRunner executes an external tool with a fixed, non-shell-interpolated
// argument list. Exit code and a bounded stderr tail are the only signals.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string) (exitCode int, stderrTail string, err error)
}

// ExecRunner runs commands through os/exec without any shell.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, name string, args []string) (int, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	tail := tailOf(stderr.Bytes())

	if err == nil {
		return 0, tail, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), tail, nil
	}
	return -1, tail, err
}

func tailOf(b []byte) string {
	if len(b) > stderrTailLimit {
		b = b[len(b)-stderrTailLimit:]
	}
	return string(b)
}

var _ CommandRunner = ExecRunner{}
