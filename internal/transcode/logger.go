package transcode

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// newHCLogger creates an hclog.Logger writing through the slog handler.
// Subprocess chatter is only shown when debug logging is enabled.
func newHCLogger(logger *slog.Logger, name string) hclog.Logger {
	level := hclog.Warn
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		level = hclog.Info
	}

	std := slog.NewLogLogger(logger.Handler(), slog.LevelInfo)
	return hclog.New(&hclog.LoggerOptions{
		Name:        name,
		Level:       level,
		Output:      std.Writer(),
		DisableTime: true,
	})
}

// lineWriter splits subprocess output into lines, logs each one and keeps
// the last few for error reports. ffmpeg terminates progress lines with \r.
type lineWriter struct {
	out     io.Writer
	buf     []byte
	tail    []string
	maxTail int
}

func newLineWriter(logger hclog.Logger, maxTail int) *lineWriter {
	return &lineWriter{
		out:     logger.StandardWriter(&hclog.StandardLoggerOptions{InferLevels: true}),
		maxTail: maxTail,
	}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' || b == '\r' {
			w.emit()
			continue
		}
		w.buf = append(w.buf, b)
	}
	return len(p), nil
}

// Flush logs a trailing partial line.
func (w *lineWriter) Flush() {
	w.emit()
}

// Tail returns the most recent lines, oldest first.
func (w *lineWriter) Tail() []string {
	return w.tail
}

func (w *lineWriter) emit() {
	line := strings.TrimSpace(string(w.buf))
	w.buf = w.buf[:0]
	if line == "" {
		return
	}

	_, _ = w.out.Write([]byte(line))

	w.tail = append(w.tail, line)
	if len(w.tail) > w.maxTail {
		w.tail = w.tail[len(w.tail)-w.maxTail:]
	}
}
