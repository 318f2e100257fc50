// Package runtime holds the in-process state of the current build run: the
// lifecycle phase and a bounded buffer of the run's log output, mirrored to a
// persistent log file so history survives service restarts.
package runtime

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Phase is the lifecycle phase of a build run.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseLocking     Phase = "locking"
	PhaseSyncing     Phase = "syncing"
	PhaseBuilding    Phase = "building"
	PhasePublishing  Phase = "publishing"
	PhaseSucceeded   Phase = "succeeded"
	PhaseFailed      Phase = "failed"
	PhaseInterrupted Phase = "interrupted"
)

// Active reports whether the phase belongs to an in-flight run
func (p Phase) Active() bool {
	switch p {
	case PhaseLocking, PhaseSyncing, PhaseBuilding, PhasePublishing:
		return true
	}
	return false
}

// MaxLogLines bounds the in-memory log buffer.
const MaxLogLines = 1000

// RunInfo is a point-in-time snapshot of the current/most recent run.
type RunInfo struct {
	Phase      Phase      `json:"phase"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// State is the single owned runtime state object. It is created once at
// service/command start, mutated by the active build run only, and read
// concurrently by status and log queries.
type State struct {
	mu          sync.RWMutex
	phase       Phase
	startedAt   time.Time
	finishedAt  time.Time
	lastErr     string
	lines       []string
	total       int
	logFile     string
	subscribers map[chan string]struct{}
}

// New creates runtime state mirroring appended log lines to logFile.
// An empty logFile disables the persistent mirror.
func New(logFile string) *State {
	return &State{
		phase:       PhaseIdle,
		logFile:     logFile,
		subscribers: make(map[chan string]struct{}),
	}
}

// BeginRun resets the log buffer and marks the run started. The persistent
// log file is truncated so it covers exactly the current run, matching the
// in-memory buffer semantics.
func (s *State) BeginRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = nil
	s.total = 0
	s.lastErr = ""
	s.startedAt = time.Now().UTC()
	s.finishedAt = time.Time{}
	s.phase = PhaseLocking
	if s.logFile != "" {
		if err := os.Remove(s.logFile); err != nil && !os.IsNotExist(err) {
			s.appendLocked(fmt.Sprintf("warning: failed to truncate log file: %v", err))
		}
	}
}

// SetPhase records a phase transition for an in-flight run
func (s *State) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

// FinishRun records the terminal phase and error (if any) of the run.
func (s *State) FinishRun(p Phase, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
	s.finishedAt = time.Now().UTC()
	if err != nil {
		s.lastErr = err.Error()
	}
}

// Phase returns the current phase
func (s *State) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Snapshot returns a copy of the run information for status queries.
func (s *State) Snapshot() RunInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := RunInfo{Phase: s.phase, Error: s.lastErr}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		info.StartedAt = &t
	}
	if !s.finishedAt.IsZero() {
		t := s.finishedAt
		info.FinishedAt = &t
	}
	return info
}

// Append adds one log line to the buffer, the persistent log file, and any
// live subscribers.
func (s *State) Append(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(line)
}

// Appendf formats and appends one log line
func (s *State) Appendf(format string, args ...any) {
	s.Append(fmt.Sprintf(format, args...))
}

func (s *State) appendLocked(line string) {
	s.lines = append(s.lines, line)
	s.total++
	if len(s.lines) > MaxLogLines {
		s.lines = s.lines[len(s.lines)-MaxLogLines:]
	}

	if s.logFile != "" {
		if err := appendToFile(s.logFile, line); err != nil {
			// Keep the in-memory record even when the mirror is unwritable.
			s.lines = append(s.lines, fmt.Sprintf("warning: failed to write log file: %v", err))
		}
	}

	for ch := range s.subscribers {
		select {
		case ch <- line:
		default: // slow subscriber, drop rather than stall the build
		}
	}
}

// Recent returns up to n of the most recent buffered lines. When the buffer
// is empty (e.g. the service restarted since the last run) it falls back to
// the tail of the persistent log file.
func (s *State) Recent(n int) []string {
	if n <= 0 {
		return nil
	}
	if n > MaxLogLines {
		n = MaxLogLines
	}

	s.mu.RLock()
	lines := s.lines
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := make([]string, len(lines))
	copy(out, lines)
	logFile := s.logFile
	s.mu.RUnlock()

	if len(out) == 0 && logFile != "" {
		out = tailFile(logFile, n)
	}
	return out
}

// TotalLines returns the number of lines appended during the current run
func (s *State) TotalLines() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Subscribe registers a channel receiving every subsequently appended line.
func (s *State) Subscribe() chan string {
	ch := make(chan string, 256)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel
func (s *State) Unsubscribe(ch chan string) {
	s.mu.Lock()
	delete(s.subscribers, ch)
	s.mu.Unlock()
	close(ch)
}

func appendToFile(path, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}
	//nolint:gosec // G304: Log file path is constructed by application
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = f.WriteString(line + "\n")
	return err
}

func tailFile(path string, n int) []string {
	//nolint:gosec // G304: Log file path is constructed by application
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines
}
