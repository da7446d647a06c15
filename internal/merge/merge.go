// Package merge concatenates downloaded segment files into one transport stream.
package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/agleyzer/hls2mp4/internal/progress"
	"github.com/agleyzer/hls2mp4/internal/segment"
	"github.com/spf13/afero"
)

// MissingSegmentFileError is returned when an expected segment file is absent.
type MissingSegmentFileError struct {
	Index int
	Path  string
}

func (e *MissingSegmentFileError) Error() string {
	return fmt.Sprintf("segment file %d missing: %s", e.Index, e.Path)
}

// Writer merges segment files in index order.
type Writer struct {
	fs     afero.Fs
	logger *slog.Logger
}

// NewWriter creates a Writer.
func NewWriter(fs afero.Fs, logger *slog.Logger) *Writer {
	return &Writer{
		fs:     fs,
		logger: logger,
	}
}

// Merge creates (or truncates) output and appends seg_00000.ts through
// seg_<count-1>.ts from dir verbatim, deleting each file once copied.
// counter may be nil.
func (w *Writer) Merge(ctx context.Context, dir string, count int, output string, counter *progress.Counter) (err error) {
	out, err := w.fs.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output %s: %w", output, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close output %s: %w", output, cerr)
		}
	}()

	var written int64
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		path := filepath.Join(dir, segment.FileName(i))
		n, err := w.appendFile(out, i, path)
		if err != nil {
			return err
		}
		written += n

		if err := w.fs.Remove(path); err != nil {
			w.logger.Warn("failed to remove segment file", "path", path, "error", err)
		}
		counter.Inc()
	}

	w.logger.Info("segments merged", "count", count, "output", output, "bytes", written)
	return nil
}

func (w *Writer) appendFile(out io.Writer, index int, path string) (int64, error) {
	in, err := w.fs.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, &MissingSegmentFileError{Index: index, Path: path}
		}
		return 0, fmt.Errorf("failed to open segment %d: %w", index, err)
	}
	defer in.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return n, fmt.Errorf("failed to append segment %d: %w", index, err)
	}
	return n, nil
}
