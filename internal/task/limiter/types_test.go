package limiter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseStrategy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{in: "", want: StrategyLeak},
		{in: "LEAK", want: StrategyLeak},
		{in: "overflow", want: StrategyOverflow},
		{in: "overflow-priority", want: StrategyOverflowPriority},
		{in: " Overflow_Priority ", want: StrategyOverflowPriority},
		{in: "block", want: StrategyBlock},
		{in: "drop", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseStrategy(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && got != tt.want {
			t.Fatalf("ParseStrategy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSettingsNormalized(t *testing.T) {
	t.Parallel()
	got := Settings{Concurrency: -4, MinTime: -time.Second, HighWater: -9, Strategy: Strategy(42)}.normalized()
	want := Settings{Concurrency: 0, MinTime: 0, HighWater: -1, Strategy: StrategyLeak}
	if got != want {
		t.Fatalf("normalized = %+v, want %+v", got, want)
	}
}

func TestSettingsDiffApply(t *testing.T) {
	t.Parallel()
	prev := DefaultSettings()
	next := Settings{Concurrency: 4, MinTime: 250 * time.Millisecond, HighWater: 10, Strategy: StrategyBlock, RejectOnDrop: true}

	u := prev.Diff(next)
	if u.IsZero() {
		t.Fatal("Diff of different settings is empty")
	}
	if got := prev.apply(u); got != next {
		t.Fatalf("apply(Diff) = %+v, want %+v", got, next)
	}
	if !next.Diff(next).IsZero() {
		t.Fatal("Diff of equal settings is not empty")
	}
}

func TestDropErrorMatchesErrDropped(t *testing.T) {
	t.Parallel()
	var err error = &DropError{JobID: 3, Priority: 7, Reason: DropOverflow}
	if !errors.Is(err, ErrDropped) || !IsDropped(err) {
		t.Fatalf("%v does not match ErrDropped", err)
	}
	if errors.Is(err, ErrStopped) {
		t.Fatal("DropError matched ErrStopped")
	}
}

func TestJobNameFromContext(t *testing.T) {
	t.Parallel()
	ctx := WithJobName(context.Background(), "  nightly-backup ")
	if got := JobName(ctx); got != "nightly-backup" {
		t.Fatalf("JobName = %q, want nightly-backup", got)
	}
	if got := JobName(context.Background()); got != "" {
		t.Fatalf("JobName on bare ctx = %q, want empty", got)
	}
}

func TestScheduleNilWork(t *testing.T) {
	t.Parallel()
	l := New(DefaultSettings())
	_, err := l.Schedule(context.Background(), nil).Wait(context.Background())
	if !errors.Is(err, ErrNilWork) {
		t.Fatalf("err = %v, want ErrNilWork", err)
	}
	if got := l.Snapshot().Submitted; got != 0 {
		t.Fatalf("Submitted = %d, want 0", got)
	}
}
