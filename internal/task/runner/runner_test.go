package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	logx "jobthrottle/pkg/logx"
)

func TestRunCapturesOutput(t *testing.T) {
	t.Parallel()
	c := Command{Name: "echo", Path: "/bin/sh", Args: []string{"-c", `echo "$@"; echo err >&2`, "sh"}}
	out, err := c.Run(context.Background(), logx.Nop(), "a", 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "a 2\nerr\n" {
		t.Fatalf("output = %q, want %q", out, "a 2\nerr\n")
	}
}

func TestRunExitStatus(t *testing.T) {
	t.Parallel()
	c := Command{Name: "fail", Path: "/bin/sh", Args: []string{"-c", "echo first; echo boom; exit 3"}}
	_, err := c.Run(context.Background(), logx.Nop())
	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if ee.Code != 3 {
		t.Fatalf("Code = %d, want 3", ee.Code)
	}
	if got := err.Error(); got != "fail: exit status 3: boom" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestRunTimeout(t *testing.T) {
	t.Parallel()
	c := Command{Name: "slow", Path: "/bin/sh", Args: []string{"-c", "sleep 5"}, Timeout: 50 * time.Millisecond}
	start := time.Now()
	_, err := c.Run(context.Background(), logx.Nop())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if took := time.Since(start); took > 3*time.Second {
		t.Fatalf("timeout took %v", took)
	}
}

func TestRunEnvAndDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c := Command{Name: "env", Path: "/bin/sh", Args: []string{"-c", `echo "$JT_VALUE"; pwd`}, Dir: dir, Env: []string{"JT_VALUE=x"}}
	out, err := c.Run(context.Background(), logx.Nop())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || lines[0] != "x" || !strings.HasSuffix(lines[1], dir[strings.LastIndexByte(dir, '/'):]) {
		t.Fatalf("output = %q", out)
	}
}

func TestRunMissingBinary(t *testing.T) {
	t.Parallel()
	_, err := Command{Name: "nope", Path: "/nonexistent/binary"}.Run(context.Background(), logx.Nop())
	var ee *ExitError
	if err == nil || errors.As(err, &ee) {
		t.Fatalf("err = %v, want start error", err)
	}
	if _, err := (Command{Name: "empty"}).Run(context.Background(), logx.Nop()); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestTailBufferKeepsTail(t *testing.T) {
	t.Parallel()
	var b tailBuffer
	_, _ = b.Write([]byte(strings.Repeat("a", maxOutput)))
	_, _ = b.Write([]byte("tail"))
	s := b.String()
	if !strings.HasPrefix(s, "...") || !strings.HasSuffix(s, "tail") || len(s) != maxOutput+3 {
		t.Fatalf("len=%d prefix=%q suffix=%q", len(s), s[:5], s[len(s)-5:])
	}
}

func TestWorkRunsThroughLimiterSignature(t *testing.T) {
	t.Parallel()
	w := Command{Name: "true", Path: "/bin/sh", Args: []string{"-c", "printf ok"}}.Work(logx.Nop())
	v, err := w(context.Background())
	if err != nil || v != "ok" {
		t.Fatalf("work = (%v, %v), want (ok, nil)", v, err)
	}
}
