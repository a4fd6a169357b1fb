package worker

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

const outputTailBytes = 64 << 10

// commandResult is one finished process execution.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec. Each command runs in its own
// process group; canceling ctx kills the whole group.
type execRunner struct {
	waitDelay time.Duration
}

// Run executes one command and captures stdout/stderr and exit code.
func (r execRunner) Run(ctx context.Context, dir, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	stdout := &tailBuffer{limit: outputTailBytes}
	stderr := &tailBuffer{limit: outputTailBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	configureProcess(cmd)
	cmd.WaitDelay = r.waitDelay

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, errors.Join(ctxErr, err)
		}
		return result, err
	}
	return result, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   bytes.Buffer
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) > b.limit {
		p = p[len(p)-b.limit:]
	}
	if over := b.buf.Len() + len(p) - b.limit; over > 0 {
		b.buf.Next(over)
	}
	b.buf.Write(p)
	return n, nil
}

func (b *tailBuffer) String() string {
	return b.buf.String()
}
