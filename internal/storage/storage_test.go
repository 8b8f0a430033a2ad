package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "jobthrottle/pkg/logx"
)

func openDrivers(t *testing.T, maxRows int) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, driver := range []string{"file", "sqlite"} {
		st, err := Open(Config{
			Driver:      driver,
			Path:        filepath.Join(dir, driver, "journal.db"),
			BusyTimeout: time.Second,
			MaxRows:     maxRows,
		}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s): %v", driver, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[driver] = st
	}
	return out
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = (%v, %v), want (nil, nil)", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for file driver without path")
	}
}

func TestAppendAndRecent(t *testing.T) {
	t.Parallel()
	for driver, st := range openDrivers(t, 0) {
		driver, st := driver, st
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			for i := 1; i <= 5; i++ {
				o := Outcome{
					At:         base.Add(time.Duration(i) * time.Second),
					Limiter:    "default",
					JobID:      uint64(i),
					Name:       fmt.Sprintf("job-%d", i),
					Priority:   i % 10,
					State:      "completed",
					QueueDelay: time.Duration(i) * time.Millisecond,
					Duration:   250 * time.Millisecond,
				}
				if i == 4 {
					o.State, o.Reason, o.Error = "dropped", "leak", "job has been dropped"
				}
				if err := st.AppendOutcome(ctx, o); err != nil {
					t.Fatalf("AppendOutcome: %v", err)
				}
			}

			got, err := st.RecentOutcomes(ctx, 3)
			if err != nil {
				t.Fatalf("RecentOutcomes: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("len = %d, want 3", len(got))
			}
			for i, want := range []uint64{3, 4, 5} {
				if got[i].JobID != want {
					t.Fatalf("got[%d].JobID = %d, want %d", i, got[i].JobID, want)
				}
			}
			d := got[1]
			if d.State != "dropped" || d.Reason != "leak" || d.Error == "" {
				t.Fatalf("dropped outcome = %+v", d)
			}
			if d.RunID == "" {
				t.Fatal("RunID not assigned")
			}
			if !d.At.Equal(base.Add(4*time.Second)) || d.QueueDelay != 4*time.Millisecond || d.Duration != 250*time.Millisecond {
				t.Fatalf("outcome did not round-trip: %+v", d)
			}

			all, err := st.RecentOutcomes(ctx, 100)
			if err != nil || len(all) != 5 {
				t.Fatalf("RecentOutcomes(100) = %d rows, err %v; want 5", len(all), err)
			}
			if none, _ := st.RecentOutcomes(ctx, 0); len(none) != 0 {
				t.Fatalf("RecentOutcomes(0) = %d rows, want 0", len(none))
			}
		})
	}
}

func TestFileStoreCompacts(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "journal")
	st, err := Open(Config{Driver: "file", Path: path, MaxRows: 4}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	for i := 1; i <= 20; i++ {
		if err := st.AppendOutcome(ctx, Outcome{JobID: uint64(i), State: "completed"}); err != nil {
			t.Fatalf("AppendOutcome: %v", err)
		}
	}
	fs := st.(*fileStore)
	if fs.lines > 6 {
		t.Fatalf("file holds %d lines, want <= 6 after compaction", fs.lines)
	}
	got, err := st.RecentOutcomes(ctx, 10)
	if err != nil {
		t.Fatalf("RecentOutcomes: %v", err)
	}
	if len(got) == 0 || got[len(got)-1].JobID != 20 {
		t.Fatalf("newest outcome lost after compaction: %+v", got)
	}
}

func TestFileStoreReopenCountsExisting(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 3; i++ {
		_ = st.AppendOutcome(ctx, Outcome{JobID: uint64(i)})
	}
	_ = st.Close()
	if err := st.AppendOutcome(ctx, Outcome{}); err == nil {
		t.Fatal("append after Close should fail")
	}

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if got := st.(*fileStore).lines; got != 3 {
		t.Fatalf("lines after reopen = %d, want 3", got)
	}
}

func TestSQLitePrunes(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "j.db"), MaxRows: 10}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	ctx := context.Background()
	for i := 1; i <= sqlitePruneEvery; i++ {
		if err := st.AppendOutcome(ctx, Outcome{JobID: uint64(i), State: "completed"}); err != nil {
			t.Fatalf("AppendOutcome: %v", err)
		}
	}
	got, err := st.RecentOutcomes(ctx, 1000)
	if err != nil {
		t.Fatalf("RecentOutcomes: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("rows after prune = %d, want 10", len(got))
	}
	if got[0].JobID != sqlitePruneEvery-9 {
		t.Fatalf("oldest kept = %d, want %d", got[0].JobID, sqlitePruneEvery-9)
	}
}
