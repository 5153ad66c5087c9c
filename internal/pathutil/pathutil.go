// Package pathutil maps between absolute, category-relative and URL-safe
// paths, performs containment checks, and gates filenames by extension.
package pathutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/banux/nxt-gallery/internal/catalog"
)

// ToRelative returns the path of absPath relative to baseDir using forward
// slashes. Both paths are resolved (absolute, cleaned, symlinks evaluated
// where they exist) before comparison, so "/a/bc" is not treated as being
// inside "/a/b". Returns *catalog.PathOutsideBaseError when absPath does not
// lie within baseDir.
func ToRelative(absPath, baseDir string) (string, error) {
	rel, ok := relWithin(absPath, baseDir)
	if !ok {
		return "", &catalog.PathOutsideBaseError{Path: absPath, Base: baseDir}
	}
	return filepath.ToSlash(rel), nil
}

// IsContained reports whether path resolves to baseDir itself or to
// something beneath it, after resolving ".." segments and symlinks.
func IsContained(path, baseDir string) bool {
	_, ok := relWithin(path, baseDir)
	return ok
}

func relWithin(path, baseDir string) (string, bool) {
	if path == "" || baseDir == "" {
		return "", false
	}
	p, err := Canonical(path)
	if err != nil {
		return "", false
	}
	b, err := Canonical(baseDir)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(b, p)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", false
	}
	return rel, true
}

// Canonical returns the absolute, cleaned form of path with symlinks
// evaluated for the longest prefix that exists on disk. The non-existent
// remainder is appended unchanged, which lets upload destinations be
// checked before they are created.
func Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	existing := abs
	var rest []string
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}
}

// Exists reports whether a regular file or directory exists at path.
// Any stat error is treated as absent.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
