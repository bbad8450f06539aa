package extract

import (
	"context"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pbaille/deskorg/internal/fetcher"
	"github.com/spf13/afero"
)

// TextReader reads plain text files, refusing binary content behind a text extension
type TextReader struct{}

func (TextReader) Read(ctx context.Context, fs afero.Fs, path string) (string, error) {
	data, err := readHead(fs, path, readLimit)
	if err != nil {
		return "", err
	}
	if mtype := mimetype.Detect(data); !isText(mtype) {
		return "", fmt.Errorf("content is %s, not text", mtype.String())
	}
	return string(data), nil
}

// HTMLReader strips markup and keeps readable text
type HTMLReader struct{}

func (HTMLReader) Read(ctx context.Context, fs afero.Fs, path string) (string, error) {
	data, err := readHead(fs, path, readLimit)
	if err != nil {
		return "", err
	}
	return fetcher.ExtractText(string(data)), nil
}

func isText(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func readHead(fs afero.Fs, path string, limit int64) ([]byte, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return data, nil
}
