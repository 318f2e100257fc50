package runtime

import (
	"bytes"
	"strings"
	"sync"
)

// LineWriter adapts the state's line-oriented log buffer to io.Writer so
// external tool output can be piped straight in. Partial lines are held until
// their newline arrives; Flush emits whatever remains.
type LineWriter struct {
	state *State
	mu    sync.Mutex
	buf   bytes.Buffer
}

// NewLineWriter creates a writer appending complete lines to state.
func NewLineWriter(state *State) *LineWriter {
	return &LineWriter{state: state}
}

// Write implements io.Writer
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		data := w.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(data[:idx]), "\r")
		w.buf.Next(idx + 1)
		w.state.Append(line)
	}
	return len(p), nil
}

// Flush appends any buffered partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.state.Append(w.buf.String())
		w.buf.Reset()
	}
}
