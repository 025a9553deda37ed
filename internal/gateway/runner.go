package gateway

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Runner запускает внешнюю команду. В тестах подменяется фейком.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner — Runner поверх os/exec. Аргументы передаются без shell, экранирование не нужно.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return stdout.Bytes(), stderr.Bytes(), ErrTimeout
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, nil, ErrUnavailable
		}
	}
	return stdout.Bytes(), stderr.Bytes(), err
}
