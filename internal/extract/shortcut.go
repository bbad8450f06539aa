package extract

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/spf13/afero"
)

// PageFetcher retrieves the readable text of a web page
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// ShortcutReader follows internet shortcut files (.url) and reads the linked page
type ShortcutReader struct {
	Fetcher PageFetcher
}

func (s ShortcutReader) Read(ctx context.Context, fs afero.Fs, path string) (string, error) {
	data, err := readHead(fs, path, 64*1024)
	if err != nil {
		return "", err
	}
	target := shortcutURL(data)
	if target == "" {
		return "", errors.New("shortcut has no URL entry")
	}
	page, err := s.Fetcher.Fetch(ctx, target)
	if err != nil {
		return "", err
	}
	return target + "\n" + page, nil
}

// shortcutURL returns the URL= value of an [InternetShortcut] file
func shortcutURL(data []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if len(line) > 4 && strings.EqualFold(line[:4], "url=") {
			return strings.TrimSpace(line[4:])
		}
	}
	return ""
}
