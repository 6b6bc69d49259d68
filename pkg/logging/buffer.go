package logging

import (
	"strings"
	"sync"
)

// recentLines is how many console lines the capture keeps.
const recentLines = 20

// LogCaptureWriter keeps the most recent log lines in a ring.
type LogCaptureWriter struct {
	mu    sync.RWMutex
	lines [recentLines]string
	next  int
	count int
}

// GlobalLogCapture receives the INFO+ console stream for the stats API.
var GlobalLogCapture = &LogCaptureWriter{}

// Write implements io.Writer. slog hands over one record per call.
func (w *LogCaptureWriter) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines[w.next] = line
	w.next = (w.next + 1) % recentLines
	if w.count < recentLines {
		w.count++
	}
	return len(p), nil
}

// GetLastLine returns the most recent log line.
func (w *LogCaptureWriter) GetLastLine() string {
	recent := w.Recent(1)
	if len(recent) == 0 {
		return ""
	}
	return recent[0]
}

// Recent returns up to n lines, oldest first.
func (w *LogCaptureWriter) Recent(n int) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n = min(n, w.count)
	out := make([]string, 0, n)
	for i := n; i > 0; i-- {
		out = append(out, w.lines[(w.next-i+recentLines)%recentLines])
	}
	return out
}
