package organizer

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidCategory is returned for labels that cannot become a directory name
var ErrInvalidCategory = errors.New("invalid category")

const maxCategoryRunes = 64

// SanitizeCategory turns a classifier label into a single safe path segment
func SanitizeCategory(raw string) (string, error) {
	s := strings.TrimFunc(raw, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) && r != '_' && r != '-' && r != '(' && r != ')'
	})

	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return ' '
		case r == '/' || r == '\\' || strings.ContainsRune(`<>:"|?*`, r):
			return '_'
		case unicode.IsControl(r):
			return '_'
		}
		return r
	}, s)

	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimLeft(s, ".")

	if utf8.RuneCountInString(s) > maxCategoryRunes {
		s = string([]rune(s)[:maxCategoryRunes])
	}
	s = strings.TrimSpace(s)

	if s == "" || s == "." || s == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
	}
	return s, nil
}
