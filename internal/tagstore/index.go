package tagstore

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
)

// ErrEmptyTag is returned when adding a blank tag
var ErrEmptyTag = errors.New("tag must not be empty")

// Normalize returns the canonical key for a file path
func Normalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

// Resolve returns path as an absolute key, joining relative paths onto base
func Resolve(base, path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	return filepath.Clean(path)
}

// index is the in-memory path -> tag set mapping shared by all backends
type index struct {
	files map[string]map[string]struct{}
}

func newIndex() *index {
	return &index{files: make(map[string]map[string]struct{})}
}

func (ix *index) reset() {
	ix.files = make(map[string]map[string]struct{})
}

// AddTag inserts tag into the set for path. Adding an existing tag is a no-op.
func (ix *index) AddTag(path, tag string) error {
	if tag == "" {
		return ErrEmptyTag
	}
	key, err := Normalize(path)
	if err != nil {
		return err
	}
	set, ok := ix.files[key]
	if !ok {
		set = make(map[string]struct{})
		ix.files[key] = set
	}
	set[tag] = struct{}{}
	return nil
}

// RemoveTag deletes tag from path's set. Unknown paths and tags are ignored.
func (ix *index) RemoveTag(path, tag string) error {
	key, err := Normalize(path)
	if err != nil {
		return err
	}
	set, ok := ix.files[key]
	if !ok {
		return nil
	}
	delete(set, tag)
	if len(set) == 0 {
		delete(ix.files, key)
	}
	return nil
}

// ListTags returns the sorted tags for path, empty if unknown
func (ix *index) ListTags(path string) []string {
	key, err := Normalize(path)
	if err != nil {
		return []string{}
	}
	tags := make([]string, 0, len(ix.files[key]))
	for t := range ix.files[key] {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// SearchByTag returns the sorted paths whose set contains tag
func (ix *index) SearchByTag(tag string) []string {
	paths := []string{}
	for p, set := range ix.files {
		if _, ok := set[tag]; ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// AllTags returns every tag with the number of files carrying it
func (ix *index) AllTags() map[string]int {
	counts := make(map[string]int)
	for _, set := range ix.files {
		for t := range set {
			counts[t]++
		}
	}
	return counts
}

// snapshot returns a copy of the mapping with sorted tag slices
func (ix *index) snapshot() map[string][]string {
	out := make(map[string][]string, len(ix.files))
	for p, set := range ix.files {
		tags := make([]string, 0, len(set))
		for t := range set {
			tags = append(tags, t)
		}
		sort.Strings(tags)
		out[p] = tags
	}
	return out
}

// replace swaps the mapping for the given one, dropping empty sets
func (ix *index) replace(m map[string][]string) {
	ix.reset()
	for p, tags := range m {
		for _, t := range tags {
			if t == "" {
				continue
			}
			set, ok := ix.files[p]
			if !ok {
				set = make(map[string]struct{})
				ix.files[p] = set
			}
			set[t] = struct{}{}
		}
	}
}
