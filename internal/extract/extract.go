// Package extract turns files into a bounded text sample for classification.
//
// A Registry maps file extensions to format Readers. Readers only produce raw
// text; the Registry cleans it up and enforces the size cap so every format
// hands the classifier the same kind of input.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pbaille/deskorg/internal/config"
	"github.com/pbaille/deskorg/internal/fetcher"
	"github.com/spf13/afero"
)

var (
	// ErrUnsupported is returned for files with no registered reader
	ErrUnsupported = errors.New("unsupported file type")
	// ErrNoText is returned when a reader produced nothing usable
	ErrNoText = errors.New("no text content")
)

// readLimit caps how many bytes text-like readers pull from disk
const readLimit = 4 * 1024 * 1024

// Extractor produces text for a file
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Reader extracts raw text from one file format
type Reader interface {
	Read(ctx context.Context, fs afero.Fs, path string) (string, error)
}

// Registry dispatches files to Readers by extension
type Registry struct {
	fs       afero.Fs
	readers  map[string]Reader
	maxChars int
}

// NewRegistry creates an empty Registry. maxChars <= 0 disables truncation.
func NewRegistry(fs afero.Fs, maxChars int) *Registry {
	return &Registry{
		fs:       fs,
		readers:  make(map[string]Reader),
		maxChars: maxChars,
	}
}

// NewDefault registers every built-in reader. Images are only supported when
// a vision model is configured.
func NewDefault(fs afero.Fs, cfg config.ExtractConfig) *Registry {
	r := NewRegistry(fs, cfg.MaxChars)
	r.Register(TextReader{}, ".txt", ".md", ".markdown", ".csv", ".log", ".rst")
	r.Register(HTMLReader{}, ".html", ".htm")
	r.Register(PDFReader{}, ".pdf")
	r.Register(NewDocxReader(cfg.OfficeLicenseKey), ".docx")
	r.Register(XLSXReader{}, ".xlsx")
	r.Register(ShortcutReader{Fetcher: fetcher.New(cfg.FetchTimeout)}, ".url")

	if cfg.VisionModel != "" && cfg.VisionAPIKey != "" {
		vision := NewOpenAIVision(cfg.VisionAPIKey, cfg.VisionBaseURL, cfg.VisionModel)
		r.Register(ImageReader{Vision: vision, MaxWidth: cfg.ImageMaxWidth}, ".png", ".jpg", ".jpeg", ".gif")
	}
	return r
}

// Register binds a reader to one or more extensions
func (r *Registry) Register(rd Reader, exts ...string) {
	for _, ext := range exts {
		r.readers[strings.ToLower(ext)] = rd
	}
}

// Supports reports whether path has a registered extension
func (r *Registry) Supports(path string) bool {
	_, ok := r.readers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extensions returns the registered extensions, sorted
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.readers))
	for ext := range r.readers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extract reads path with the matching reader and returns cleaned text
func (r *Registry) Extract(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	rd, ok := r.readers[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}

	raw, err := rd.Read(ctx, r.fs, path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}

	text := clean(raw, r.maxChars)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// clean makes text valid UTF-8, trims it and caps it at maxChars runes
func clean(s string, maxChars int) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.TrimSpace(s)
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return strings.TrimSpace(s[:i])
		}
		n++
	}
	return s
}

var _ Extractor = (*Registry)(nil)
