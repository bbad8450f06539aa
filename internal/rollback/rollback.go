// Package rollback records the moves of one organize run and undoes them.
//
// Only one generation exists at a time: starting a run replaces whatever the
// previous run recorded once the new generation is persisted.
package rollback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pbaille/deskorg/internal/domain"
	"github.com/pbaille/deskorg/internal/fsutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ErrNoRollbackLog is returned by Rollback when no generation is persisted
var ErrNoRollbackLog = errors.New("nothing to rollback")

// Generation is the persisted form of one run's moves
type Generation struct {
	ID          string                 `json:"generation"`
	CreatedAt   time.Time              `json:"created_at"`
	Entries     []domain.RollbackEntry `json:"entries"`
	CreatedDirs []string               `json:"created_dirs,omitempty"`
}

// Failure is an entry that could not be restored
type Failure struct {
	Entry domain.RollbackEntry
	Err   error
}

// Result lists what a rollback restored and what it could not
type Result struct {
	Generation string
	Restored   []domain.RollbackEntry
	Failed     []Failure
}

// Log holds the current generation in memory and persists it to path
type Log struct {
	fs   afero.Fs
	path string
	log  *logrus.Entry
	gen  Generation
}

// New creates a Log persisted at path
func New(fs afero.Fs, path string, log *logrus.Entry) *Log {
	return &Log{fs: fs, path: path, log: log}
}

// StartGeneration discards in-memory entries and begins a new generation.
// Durable storage is not touched until Persist.
func (l *Log) StartGeneration() {
	l.gen = Generation{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
	}
}

// RecordMove appends a move. An earlier entry with the same destination is
// dropped so the latest move for that destination wins.
func (l *Log) RecordMove(original, destination string) {
	entries := l.gen.Entries[:0]
	for _, e := range l.gen.Entries {
		if e.Current != destination {
			entries = append(entries, e)
		}
	}
	l.gen.Entries = append(entries, domain.RollbackEntry{
		Current:  destination,
		Original: original,
	})
}

// RecordCreatedDir remembers a directory created during this generation
func (l *Log) RecordCreatedDir(dir string) {
	for _, d := range l.gen.CreatedDirs {
		if d == dir {
			return
		}
	}
	l.gen.CreatedDirs = append(l.gen.CreatedDirs, dir)
}

// Entries returns a copy of the in-memory entries in recorded order
func (l *Log) Entries() []domain.RollbackEntry {
	out := make([]domain.RollbackEntry, len(l.gen.Entries))
	copy(out, l.gen.Entries)
	return out
}

// Persist writes the generation, replacing the previous one. A generation
// without entries removes the file instead.
func (l *Log) Persist(ctx context.Context) error {
	if len(l.gen.Entries) == 0 {
		if err := l.remove(); err != nil {
			return fmt.Errorf("discard previous rollback log: %w", err)
		}
		return nil
	}
	return l.write(l.gen)
}

// Pending returns the persisted generation without consuming it
func (l *Log) Pending(ctx context.Context) (*Generation, error) {
	return l.load()
}

// Rollback moves every recorded file back to its original path, newest move
// first. Failed entries are reported and kept in the log for a retry; the log
// is deleted only when every entry was restored.
func (l *Log) Rollback(ctx context.Context) (*Result, error) {
	gen, err := l.load()
	if err != nil {
		return nil, err
	}

	res := &Result{Generation: gen.ID}
	var remaining []domain.RollbackEntry

	for i := len(gen.Entries) - 1; i >= 0; i-- {
		e := gen.Entries[i]
		if err := ctx.Err(); err != nil {
			res.Failed = append(res.Failed, Failure{Entry: e, Err: err})
			remaining = append(remaining, e)
			continue
		}
		if err := fsutil.Move(l.fs, e.Current, e.Original); err != nil {
			l.log.WithError(err).WithFields(logrus.Fields{
				"current":  e.Current,
				"original": e.Original,
			}).Warn("rollback entry failed")
			res.Failed = append(res.Failed, Failure{Entry: e, Err: err})
			remaining = append(remaining, e)
			continue
		}
		l.log.WithFields(logrus.Fields{
			"current":  e.Current,
			"original": e.Original,
		}).Debug("restored")
		res.Restored = append(res.Restored, e)
	}

	if len(res.Failed) == 0 {
		if err := l.remove(); err != nil {
			return res, fmt.Errorf("delete rollback log: %w", err)
		}
		l.removeEmptyDirs(gen.CreatedDirs)
		return res, nil
	}

	// remaining was collected newest first; store it back in recorded order
	for i, j := 0, len(remaining)-1; i < j; i, j = i+1, j-1 {
		remaining[i], remaining[j] = remaining[j], remaining[i]
	}
	gen.Entries = remaining
	if err := l.write(*gen); err != nil {
		return res, fmt.Errorf("rewrite rollback log: %w", err)
	}
	return res, nil
}

func (l *Log) load() (*Generation, error) {
	data, err := afero.ReadFile(l.fs, l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoRollbackLog
		}
		return nil, fmt.Errorf("read rollback log: %w", err)
	}

	var gen Generation
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		// Bare array of {current, original} pairs
		if err := json.Unmarshal(trimmed, &gen.Entries); err != nil {
			return nil, fmt.Errorf("decode rollback log: %w", err)
		}
	} else if err := json.Unmarshal(trimmed, &gen); err != nil {
		return nil, fmt.Errorf("decode rollback log: %w", err)
	}

	if len(gen.Entries) == 0 {
		return nil, ErrNoRollbackLog
	}
	return &gen, nil
}

func (l *Log) write(gen Generation) error {
	data, err := json.MarshalIndent(gen, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal rollback log: %w", err)
	}
	if err := fsutil.WriteFileAtomic(l.fs, l.path, data, 0644); err != nil {
		return fmt.Errorf("persist rollback log: %w", err)
	}
	return nil
}

func (l *Log) remove() error {
	err := l.fs.Remove(l.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// removeEmptyDirs deletes directories created by the run that rollback emptied
func (l *Log) removeEmptyDirs(dirs []string) {
	for i := len(dirs) - 1; i >= 0; i-- {
		if !fsutil.IsEmptyDir(l.fs, dirs[i]) {
			continue
		}
		if err := l.fs.Remove(dirs[i]); err != nil {
			l.log.WithError(err).WithField("dir", dirs[i]).Warn("could not remove category dir")
		}
	}
}
