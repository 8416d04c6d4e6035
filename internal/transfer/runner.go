package transfer

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// ProcessResult is the captured output of a process that ran to exit.
type ProcessResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner starts a process and waits for it.
// A returned error means the process could not be started or waited on;
// a non-zero exit is not an error.
type Runner interface {
	Run(ctx context.Context, dir, name string, args []string) (ProcessResult, error)
}

// ExecRunner runs processes with os/exec. Cancelling ctx kills the process.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args []string) (ProcessResult, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ctx.Err() != nil {
			return ProcessResult{}, ctx.Err()
		}
		return ProcessResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: exitErr.ExitCode()}, nil
	} else if err != nil {
		return ProcessResult{}, err
	}

	return ProcessResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
}
