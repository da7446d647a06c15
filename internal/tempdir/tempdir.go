// Package tempdir chooses the writable directory that holds a run's work files.
package tempdir

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// ErrNoWritableDir is returned when no candidate directory is writable.
var ErrNoWritableDir = errors.New("no writable temp directory")

// probeFile is created and removed to verify a directory is writable.
const probeFile = ".writable_test_temp"

// Provider returns the directory that work files are created under.
type Provider interface {
	Dir() (string, error)
}

// Current provides the process working directory.
type Current struct{}

// Dir implements Provider.
func (Current) Dir() (string, error) {
	return ".", nil
}

// Candidate is a named directory offered by the host platform.
type Candidate struct {
	Name string
	Path string
}

// Probing tries platform candidates in order, then the system temp
// directories, accepting the first that is writable.
type Probing struct {
	fs         afero.Fs
	candidates []Candidate
	logger     *slog.Logger
}

// NewProbing creates a Probing provider. The fallbacks os.TempDir(),
// /data/local/tmp and the working directory are appended to candidates.
func NewProbing(fs afero.Fs, candidates []Candidate, logger *slog.Logger) *Probing {
	all := append([]Candidate{}, candidates...)
	all = append(all,
		Candidate{Name: "system_temp", Path: os.TempDir()},
		Candidate{Name: "data_local_tmp", Path: "/data/local/tmp"},
		Candidate{Name: "current_dir", Path: "."},
	)

	return &Probing{
		fs:         fs,
		candidates: all,
		logger:     logger,
	}
}

// Dir implements Provider.
func (p *Probing) Dir() (string, error) {
	for _, c := range p.candidates {
		if c.Path == "" {
			continue
		}
		if err := Writable(p.fs, c.Path); err != nil {
			p.logger.Debug("temp directory rejected", "name", c.Name, "path", c.Path, "error", err)
			continue
		}
		p.logger.Info("using temp directory", "name", c.Name, "path", c.Path)
		return c.Path, nil
	}
	return "", ErrNoWritableDir
}

// Writable creates dir if missing, checks that it is a directory and that a
// file can be created and removed in it.
func Writable(fs afero.Fs, dir string) error {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	info, err := fs.Stat(dir)
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	probe := filepath.Join(dir, probeFile)
	if err := afero.WriteFile(fs, probe, []byte("test"), 0o644); err != nil {
		return fmt.Errorf("failed to write probe file: %w", err)
	}
	if err := fs.Remove(probe); err != nil {
		return fmt.Errorf("failed to remove probe file: %w", err)
	}
	return nil
}
