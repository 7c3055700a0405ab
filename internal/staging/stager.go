package staging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"
)

const (
	DefaultDir    = "/tmp/radsec-provisioner"
	DefaultCAFile = "radsec-ca.crt"

	fileMode = 0o600
	dirMode  = 0o700
)

type Config struct {
	Dir    string `mapstructure:"dir"`
	CAFile string `mapstructure:"ca_file"`
}

// Stager writes certificate PEMs to a local directory until they have been
// copied to a device.
type Stager struct {
	fs  afero.Fs
	dir string
}

func New(fsys afero.Fs, dir string) *Stager {
	if dir == "" {
		dir = DefaultDir
	}
	return &Stager{fs: fsys, dir: dir}
}

func (s *Stager) Dir() string {
	return s.dir
}

// Stage writes content to name inside the staging directory, replacing any
// previous file, and returns its path.
func (s *Stager) Stage(name, content string) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid staging file name %q", name)
	}

	if err := s.fs.MkdirAll(s.dir, dirMode); err != nil {
		return "", fmt.Errorf("failed to create staging directory %s: %w", s.dir, err)
	}

	p := filepath.Join(s.dir, name)
	if err := afero.WriteFile(s.fs, p, []byte(content), fileMode); err != nil {
		return "", fmt.Errorf("failed to stage %s: %w", p, err)
	}
	// WriteFile only applies the mode on create.
	if err := s.fs.Chmod(p, fileMode); err != nil {
		return "", fmt.Errorf("failed to restrict permissions on %s: %w", p, err)
	}

	slog.Debug("Staged file", "path", p, "bytes", len(content))
	return p, nil
}

// Open returns a reader over a staged file together with its size.
func (s *Stager) Open(p string) (io.ReadCloser, int64, error) {
	f, err := s.fs.Open(p)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open staged file %s: %w", p, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat staged file %s: %w", p, err)
	}
	return f, info.Size(), nil
}

// Remove deletes the given staged files. Files that are already gone are not
// an error.
func (s *Stager) Remove(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Failed to remove staged file", "path", p, "error", err)
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", p, err))
			continue
		}
		slog.Debug("Removed staged file", "path", p)
	}
	return errors.Join(errs...)
}
