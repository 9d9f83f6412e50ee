package flowlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Writer appends malicious-flow lines to a size-rotated text log. Lines are
// never rewritten; rotation only moves whole files aside.
type Writer struct {
	mu     sync.Mutex
	logger *lumberjack.Logger
}

// Open prepares the log at path, creating its directory.
func Open(path string, maxSizeMB, maxBackups int) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create flow log directory: %w", err)
	}
	return &Writer{
		logger: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
		},
	}, nil
}

// Append writes one cycle's lines in a single write, so a cycle is never
// split across a rotation.
func (w *Writer) Append(lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.logger.Write([]byte(b.String())); err != nil {
		return fmt.Errorf("failed to append to flow log: %w", err)
	}
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.logger.Close()
}
