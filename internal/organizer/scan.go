package organizer

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/pbaille/deskorg/internal/fsutil"
	"github.com/spf13/afero"
)

// nameMatcher matches directory names against the exclusion list. Entries
// with glob metacharacters are compiled as patterns, the rest match exactly.
type nameMatcher struct {
	names map[string]bool
	globs []glob.Glob
}

func newNameMatcher(patterns []string) *nameMatcher {
	m := &nameMatcher{names: make(map[string]bool)}
	for _, p := range patterns {
		p = strings.Trim(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}
		if hasMeta(p) {
			if g, err := glob.Compile(p); err == nil {
				m.globs = append(m.globs, g)
				continue
			}
		}
		m.names[p] = true
	}
	return m
}

func (m *nameMatcher) Match(name string) bool {
	if m.names[name] {
		return true
	}
	for _, g := range m.globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func hasMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// scan is the outcome of enumerating the base directory
type scan struct {
	files   []string
	missing []string
}

// enumerate walks the base directory and returns candidate files in walk
// order. Excluded, hidden and category directories are not descended into;
// bookkeeping files are never candidates.
func (o *Organizer) enumerate(excl *nameMatcher, selection []string) (*scan, error) {
	categoryDirs := o.categoryDirs()
	toolFiles := make(map[string]bool, len(o.opts.ToolFiles))
	for _, name := range o.opts.ToolFiles {
		toolFiles[name] = true
	}

	var all []string
	err := afero.Walk(o.fs, o.base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == o.base {
				return err
			}
			o.log.WithError(err).WithField("path", path).Warn("skipping unreadable path")
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == o.base {
			return nil
		}

		name := info.Name()
		topLevel := filepath.Dir(path) == o.base
		if info.IsDir() {
			if strings.HasPrefix(name, ".") || excl.Match(name) || topLevel && categoryDirs[name] {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() || topLevel && toolFiles[name] {
			return nil
		}
		all = append(all, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(selection) == 0 {
		res := &scan{}
		for _, path := range all {
			if o.deps.Extractor.Supports(path) {
				res.files = append(res.files, path)
			}
		}
		return res, nil
	}
	return o.selectFiles(all, selection), nil
}

// selectFiles keeps the files named by the selection list. Bare names match a
// file name anywhere in the tree, entries with a separator match the path
// relative to the base directory.
func (o *Organizer) selectFiles(all, selection []string) *scan {
	rels := make([]string, len(all))
	for i, path := range all {
		rel, err := filepath.Rel(o.base, path)
		if err != nil {
			rel = path
		}
		rels[i] = filepath.ToSlash(rel)
	}

	picked := make([]bool, len(all))
	res := &scan{}
	for _, entry := range selection {
		pattern := o.selectionPattern(entry)
		byPath := strings.Contains(pattern, "/")

		var match func(string) bool
		if hasMeta(pattern) {
			g, err := glob.Compile(pattern, '/')
			if err != nil {
				o.log.WithError(err).WithField("entry", entry).Warn("invalid selection pattern")
				res.missing = append(res.missing, entry)
				continue
			}
			match = g.Match
		} else {
			match = func(s string) bool { return s == pattern }
		}

		found := false
		for i, rel := range rels {
			target := rel
			if !byPath {
				target = filepath.Base(all[i])
			}
			if match(target) {
				picked[i] = true
				found = true
			}
		}
		if !found {
			res.missing = append(res.missing, entry)
		}
	}

	for i, path := range all {
		if picked[i] {
			res.files = append(res.files, path)
		}
	}
	return res
}

// selectionPattern normalizes an entry to a slash-separated base-relative form
func (o *Organizer) selectionPattern(entry string) string {
	entry = strings.TrimSpace(entry)
	if filepath.IsAbs(entry) {
		if rel, err := filepath.Rel(o.base, filepath.Clean(entry)); err == nil {
			entry = rel
		}
	}
	entry = filepath.ToSlash(entry)
	return strings.TrimPrefix(entry, "./")
}

// categoryDirs returns the top-level directories the tool created, recognized
// by carrying a name that is used as a tag
func (o *Organizer) categoryDirs() map[string]bool {
	tags := o.deps.Tags.AllTags()
	dirs := make(map[string]bool)
	for _, name := range o.topLevelDirs() {
		if _, ok := tags[name]; ok {
			dirs[name] = true
		}
	}
	return dirs
}

// topLevelDirs lists the visible directories directly under the base directory
func (o *Organizer) topLevelDirs() []string {
	infos, err := afero.ReadDir(o.fs, o.base)
	if err != nil {
		o.log.WithError(err).Warn("list base directory")
		return nil
	}
	var names []string
	for _, info := range infos {
		if info.IsDir() && !strings.HasPrefix(info.Name(), ".") {
			names = append(names, info.Name())
		}
	}
	sort.Strings(names)
	return names
}

// Categories returns the directory names a classifier may reuse: top-level
// directories that are not excluded
func (o *Organizer) Categories() ([]string, error) {
	excl, err := o.exclusions()
	if err != nil {
		return nil, err
	}
	return o.knownCategories(excl), nil
}

func (o *Organizer) knownCategories(excl *nameMatcher) []string {
	var out []string
	for _, name := range o.topLevelDirs() {
		if !excl.Match(name) {
			out = append(out, name)
		}
	}
	return out
}

func (o *Organizer) exclusions() (*nameMatcher, error) {
	lines, err := fsutil.ReadLines(o.fs, filepath.Join(o.base, o.opts.ExclusionFile))
	if err != nil {
		return nil, err
	}
	return newNameMatcher(lines), nil
}

func (o *Organizer) selection() ([]string, error) {
	return fsutil.ReadLines(o.fs, filepath.Join(o.base, o.opts.SelectionFile))
}
