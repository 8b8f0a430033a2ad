// Package runner turns configured commands into limiter work.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"jobthrottle/internal/task/limiter"
	logx "jobthrottle/pkg/logx"
)

// maxOutput bounds the captured combined output; only the tail is kept.
const maxOutput = 4 << 10

// waitDelay bounds how long Run waits for output pipes after the process is killed.
const waitDelay = 2 * time.Second

// Command is an external process run as one limiter job.
type Command struct {
	Name    string
	Path    string
	Args    []string
	Dir     string
	Env     []string // appended to the current environment
	Timeout time.Duration
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Name   string
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: exit status %d", e.Name, e.Code)
	}
	if i := strings.LastIndexByte(out, '\n'); i >= 0 {
		out = out[i+1:]
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Name, e.Code, out)
}

// Work adapts c to limiter.Work. Job args are appended to the command line.
func (c Command) Work(log logx.Logger) limiter.Work {
	return func(ctx context.Context, args ...any) (any, error) {
		return c.Run(ctx, log, args...)
	}
}

// Run executes the command and returns its captured output.
func (c Command) Run(ctx context.Context, log logx.Logger, extra ...any) (string, error) {
	if strings.TrimSpace(c.Path) == "" {
		return "", fmt.Errorf("%s: command required", c.Name)
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	argv := append([]string(nil), c.Args...)
	for _, a := range extra {
		argv = append(argv, fmt.Sprint(a))
	}

	cmd := exec.CommandContext(ctx, c.Path, argv...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.WaitDelay = waitDelay
	var out tailBuffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	took := time.Since(start)
	output := out.String()

	if err == nil {
		log.Debug("command finished", logx.String("name", c.Name), logx.Duration("took", took))
		return output, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) && c.Timeout > 0 {
			return output, fmt.Errorf("%s: timed out after %s: %w", c.Name, c.Timeout, ctxErr)
		}
		return output, fmt.Errorf("%s: %w", c.Name, ctxErr)
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		log.Debug("command failed", logx.String("name", c.Name), logx.Int("code", ee.ExitCode()), logx.Duration("took", took))
		return output, &ExitError{Name: c.Name, Code: ee.ExitCode(), Output: output}
	}
	return output, fmt.Errorf("%s: %w", c.Name, err)
}

// tailBuffer keeps the last maxOutput bytes written to it.
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	truncated bool
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - maxOutput; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
		b.truncated = true
	}
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return "..." + string(b.buf)
	}
	return string(b.buf)
}
