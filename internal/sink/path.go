package sink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxCollisionSuffix = 10_000

var ErrEmptyFilename = errors.New("filename is empty")

// ResolvePath returns a path in dir for name and reserves it by creating an
// empty file. Existing files get a " (1)", " (2)", ... suffix before the
// extension unless replace is set, in which case the file is truncated.
func ResolvePath(dir, name string, replace bool) (string, error) {
	name = sanitize(name)
	if name == "" {
		return "", ErrEmptyFilename
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &SinkError{Op: "mkdir", Path: dir, Err: err}
	}

	path := filepath.Join(dir, name)
	if replace {
		f, err := os.Create(path)
		if err != nil {
			return "", &SinkError{Op: "create", Path: path, Err: err}
		}
		f.Close()
		return path, nil
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < maxCollisionSuffix; i++ {
		if i > 0 {
			path = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
		}

		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", &SinkError{Op: "create", Path: path, Err: err}
		}
	}

	return "", &SinkError{Op: "create", Path: filepath.Join(dir, name), Err: os.ErrExist}
}

// Remove deletes the file at path. A missing file is not an error.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &SinkError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

func sanitize(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return ""
	}
	return name
}
