package tagstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/pbaille/deskorg/internal/fsutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// JSONStore persists the index as a single JSON object of path -> tags
type JSONStore struct {
	*index
	fs   afero.Fs
	path string
	log  *logrus.Entry
}

// NewJSON creates a JSONStore backed by the file at path
func NewJSON(fs afero.Fs, path string, log *logrus.Entry) *JSONStore {
	return &JSONStore{
		index: newIndex(),
		fs:    fs,
		path:  path,
		log:   log,
	}
}

// Load replaces the in-memory index with the file content. A missing or
// unreadable file leaves the index empty without failing.
func (s *JSONStore) Load(ctx context.Context) error {
	s.reset()

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.WithError(err).WithField("file", s.path).Warn("tag store unreadable, starting empty")
		}
		return nil
	}

	var m map[string][]string
	if err := json.Unmarshal(data, &m); err != nil {
		s.log.WithError(err).WithField("file", s.path).Warn("tag store corrupt, starting empty")
		return nil
	}

	s.replace(m)
	return nil
}

// Save writes the full mapping through a temp file and rename
func (s *JSONStore) Save(ctx context.Context) error {
	data, err := json.MarshalIndent(s.snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.fs, s.path, data, 0644); err != nil {
		return fmt.Errorf("save tags: %w", err)
	}
	return nil
}

// Close is a no-op for the JSON backend
func (s *JSONStore) Close() error {
	return nil
}

var _ Store = (*JSONStore)(nil)
