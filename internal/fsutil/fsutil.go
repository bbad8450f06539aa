// Package fsutil holds the filesystem operations shared by the stores and the
// organizer. Everything goes through an afero.Fs so callers can swap the real
// disk for an in-memory filesystem.
package fsutil

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ErrDestinationExists is returned when a move would overwrite an existing path
var ErrDestinationExists = errors.New("destination already exists")

// WriteFileAtomic writes data to a temp file next to path, syncs it and renames
// it over path. Readers see either the old content or the new one.
func WriteFileAtomic(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := fs.Chmod(tmpName, perm); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := fs.Rename(tmpName, path); err != nil {
		fs.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path exists. Stat errors other than not-exist count as
// existing so callers never overwrite something they could not inspect.
func Exists(fs afero.Fs, path string) bool {
	_, err := fs.Stat(path)
	if err == nil {
		return true
	}
	return !errors.Is(err, os.ErrNotExist)
}

// Move renames src to dst, creating dst's parent directory. It refuses to
// replace an existing dst.
func Move(fs afero.Fs, src, dst string) error {
	if _, err := fs.Stat(src); err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if Exists(fs, dst) {
		return fmt.Errorf("move %s: %w: %s", src, ErrDestinationExists, dst)
	}
	if err := fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	if err := fs.Rename(src, dst); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// ReadLines returns the non-blank, non-comment lines of a list file. A missing
// file yields no lines and no error.
func ReadLines(fs afero.Fs, path string) ([]string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return lines, nil
}

// IsEmptyDir reports whether path is an existing directory with no entries
func IsEmptyDir(fs afero.Fs, path string) bool {
	ok, err := afero.DirExists(fs, path)
	if err != nil || !ok {
		return false
	}
	empty, err := afero.IsEmpty(fs, path)
	return err == nil && empty
}
