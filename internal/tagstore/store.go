// Package tagstore keeps the path -> tags index. Mutations are in memory until
// Save; the JSON and SQLite backends share the same index so they behave the
// same way.
package tagstore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Store is the tag index contract used by the organizer, CLI and API
type Store interface {
	Load(ctx context.Context) error
	AddTag(path, tag string) error
	RemoveTag(path, tag string) error
	ListTags(path string) []string
	SearchByTag(tag string) []string
	AllTags() map[string]int
	Save(ctx context.Context) error
	Close() error
}

// Open returns the store for backend ("json" or "sqlite") rooted at baseDir.
// The SQLite backend always uses the real disk.
func Open(fs afero.Fs, backend, baseDir, file string, log *logrus.Entry) (Store, error) {
	path := filepath.Join(baseDir, file)
	switch backend {
	case "json":
		return NewJSON(fs, path, log), nil
	case "sqlite":
		return NewSQLite(path, log)
	default:
		return nil, fmt.Errorf("unknown tag backend %q", backend)
	}
}
