package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// TestAppend_BoundedBuffer verifies the ring never exceeds MaxLogLines
func TestAppend_BoundedBuffer(t *testing.T) {
	s := New("")

	total := MaxLogLines + 250
	for i := 0; i < total; i++ {
		s.Appendf("line %d", i)
	}

	if got := s.TotalLines(); got != total {
		t.Errorf("TotalLines() = %d, want %d", got, total)
	}

	recent := s.Recent(MaxLogLines)
	if len(recent) != MaxLogLines {
		t.Fatalf("len(Recent) = %d, want %d", len(recent), MaxLogLines)
	}
	// Oldest surviving line is the first after the overflow.
	if want := fmt.Sprintf("line %d", total-MaxLogLines); recent[0] != want {
		t.Errorf("recent[0] = %q, want %q", recent[0], want)
	}
	if want := fmt.Sprintf("line %d", total-1); recent[len(recent)-1] != want {
		t.Errorf("last recent line = %q, want %q", recent[len(recent)-1], want)
	}
}

// TestRecent_CapsRequest verifies oversized requests are capped at the bound
func TestRecent_CapsRequest(t *testing.T) {
	s := New("")
	for i := 0; i < 10; i++ {
		s.Appendf("line %d", i)
	}

	if got := s.Recent(MaxLogLines * 10); len(got) != 10 {
		t.Errorf("len(Recent(huge)) = %d, want 10", len(got))
	}
	if got := s.Recent(3); len(got) != 3 {
		t.Errorf("len(Recent(3)) = %d, want 3", len(got))
	}
	if got := s.Recent(0); got != nil {
		t.Errorf("Recent(0) = %v, want nil", got)
	}
}

// TestRecent_FileFallback verifies log history survives a service restart
func TestRecent_FileFallback(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "build.log")

	first := New(logFile)
	first.Append("first line")
	first.Append("second line")

	// A fresh state (new service process) has an empty buffer and must fall
	// back to the persistent mirror.
	second := New(logFile)
	got := second.Recent(10)
	want := []string{"first line", "second line"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Recent() fallback mismatch (-want +got):\n%s", diff)
	}
}

// TestBeginRun_ResetsBufferAndFile verifies each run starts with clean logs
func TestBeginRun_ResetsBufferAndFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "build.log")
	s := New(logFile)

	s.BeginRun()
	s.Append("run one")
	s.FinishRun(PhaseSucceeded, nil)

	s.BeginRun()
	s.Append("run two")

	got := s.Recent(10)
	want := []string{"run two"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("buffer after second BeginRun (-want +got):\n%s", diff)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if string(data) != "run two\n" {
		t.Errorf("log file = %q, want %q", data, "run two\n")
	}
}

// TestPhaseTransitions verifies snapshots track the run lifecycle
func TestPhaseTransitions(t *testing.T) {
	s := New("")

	if got := s.Phase(); got != PhaseIdle {
		t.Fatalf("initial phase = %s, want %s", got, PhaseIdle)
	}
	if PhaseIdle.Active() {
		t.Error("idle must not count as active")
	}

	s.BeginRun()
	for _, p := range []Phase{PhaseSyncing, PhaseBuilding, PhasePublishing} {
		s.SetPhase(p)
		if !s.Phase().Active() {
			t.Errorf("phase %s should be active", p)
		}
	}

	s.FinishRun(PhaseFailed, fmt.Errorf("builder exploded"))
	snap := s.Snapshot()
	if snap.Phase != PhaseFailed {
		t.Errorf("snapshot phase = %s, want %s", snap.Phase, PhaseFailed)
	}
	if snap.Error != "builder exploded" {
		t.Errorf("snapshot error = %q", snap.Error)
	}
	if snap.StartedAt == nil || snap.FinishedAt == nil {
		t.Error("snapshot missing run timestamps")
	}
}

// TestSubscribe_ReceivesAppendedLines verifies live streaming delivery
func TestSubscribe_ReceivesAppendedLines(t *testing.T) {
	s := New("")
	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	s.Append("streamed")

	select {
	case got := <-ch:
		if got != "streamed" {
			t.Errorf("received %q, want %q", got, "streamed")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the appended line")
	}
}

// TestLineWriter_SplitsLines verifies byte streams become whole log lines
func TestLineWriter_SplitsLines(t *testing.T) {
	s := New("")
	w := NewLineWriter(s)

	if _, err := w.Write([]byte("alpha\nbra")); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if _, err := w.Write([]byte("vo\r\npartial")); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	w.Flush()

	got := s.Recent(10)
	want := []string{"alpha", "bravo", "partial"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}
