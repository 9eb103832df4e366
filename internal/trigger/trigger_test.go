package trigger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestWatcher(t *testing.T) (*Watcher, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "signals")
	w, err := NewWatcher(dir, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w, dir
}

func TestSignalAndClear(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "signals")

	if err := Signal(dir, "run-1", "merged by ci"); err != nil {
		t.Fatalf("Signal() error = %v", err)
	}
	data, err := os.ReadFile(SignalPath(dir, "run-1"))
	if err != nil {
		t.Fatalf("read signal: %v", err)
	}
	if !strings.HasSuffix(string(data), " merged by ci\n") {
		t.Errorf("signal body = %q", data)
	}

	if err := Clear(dir, "run-1"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if err := Clear(dir, "run-1"); err != nil {
		t.Errorf("Clear() on missing signal = %v, want nil", err)
	}
}

func TestSignalRejectsPaths(t *testing.T) {
	for _, id := range []string{"", "../escape", `a\b`} {
		if err := Signal(t.TempDir(), id, ""); err == nil {
			t.Errorf("Signal(%q) succeeded", id)
		}
	}
}

func TestWaitForExistingSignal(t *testing.T) {
	w, dir := newTestWatcher(t)
	if err := Signal(dir, "run-1", ""); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.WaitFor(ctx, "run-1"); err != nil {
		t.Errorf("WaitFor() = %v, want nil", err)
	}
}

func TestWaitForNewSignal(t *testing.T) {
	w, dir := newTestWatcher(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.WaitFor(ctx, "run-2") }()

	time.Sleep(100 * time.Millisecond)
	if err := Signal(dir, "run-other", ""); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "run-2.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Signal(dir, "run-2", ""); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitFor() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitFor() did not return after the signal was written")
	}
}

func TestWaitForTimeout(t *testing.T) {
	w, _ := newTestWatcher(t)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := w.WaitFor(ctx, "run-3"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitFor() = %v, want context.DeadlineExceeded", err)
	}
}

func TestRunReportsEachRunOnce(t *testing.T) {
	w, dir := newTestWatcher(t)
	for _, id := range []string{"run-a", "run-b"} {
		if err := Signal(dir, id, ""); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()

	counts := make(map[string]int)
	_ = w.Run(ctx, func(id string) { counts[id]++ })

	if counts["run-a"] != 1 || counts["run-b"] != 1 || len(counts) != 2 {
		t.Errorf("Run() reported %v, want each run once", counts)
	}
}

func TestRunIDFromPath(t *testing.T) {
	tests := map[string]string{
		"/x/signals/run-1.approved": "run-1",
		"run-1.approved.tmp":        "",
		"run-1":                     "",
	}
	for in, want := range tests {
		if got := runIDFromPath(in); got != want {
			t.Errorf("runIDFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}
