package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"jobthrottle/internal/storage"
)

func TestWriteHistory(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	outs := []storage.Outcome{
		{At: now.Add(-3 * time.Minute), JobID: 1200, Name: "backup", Priority: 3, State: "finished", Duration: 1500 * time.Millisecond},
		{At: now.Add(-time.Minute), JobID: 1201, Name: "backup", Priority: 3, State: "dropped", Reason: "leak"},
		{At: now, JobID: 1202, Priority: 5, State: "failed", Error: "backup: exit status 1"},
	}
	var buf bytes.Buffer
	writeHistoryAt(&buf, outs, now)
	got := buf.String()

	for _, want := range []string{
		"3 minutes ago",
		"1,200",
		"1.5s",
		"leak",
		"exit status 1",
		"3 outcomes: 1 finished, 1 failed, 1 dropped, 0 rejected",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if lines := strings.Count(got, "\n"); lines != 5 {
		t.Fatalf("lines = %d, want 5:\n%s", lines, got)
	}
}

func TestWriteHistoryEmpty(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	writeHistoryAt(&buf, nil, time.Now())
	if got := buf.String(); got != "no outcomes recorded\n" {
		t.Fatalf("got %q", got)
	}
}
