package pathutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// allowedExtensions is the fixed set of image extensions that are indexed
// and accepted for upload. Matching is by extension only; content is
// never sniffed.
var allowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
	"bmp":  true,
}

// IsAllowed reports whether filename has an extension from the supported
// image set. The suffix after the last "." is compared case-insensitively.
func IsAllowed(filename string) bool {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return false
	}
	return allowedExtensions[strings.ToLower(filename[i+1:])]
}

// CleanFilename reduces a client-supplied filename to its base name,
// accepting either separator. It returns "" for names that cannot be used.
func CleanFilename(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return ""
	}
	return name
}

// maxCollisionAttempts bounds the name_N search in ReserveName.
const maxCollisionAttempts = 10000

// ReserveName creates an empty file for filename inside dir, choosing
// name_1.ext, name_2.ext, ... in order when the name is taken. The file is
// created with O_EXCL so two concurrent callers never receive the same
// path. It returns the final base name and absolute path.
func ReserveName(dir, filename string) (string, string, error) {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for n := 0; n < maxCollisionAttempts; n++ {
		candidate := filename
		if n > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
		}
		dest := filepath.Join(dir, candidate)
		f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			if err := f.Close(); err != nil {
				return "", "", err
			}
			return candidate, dest, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", err
		}
	}
	return "", "", fmt.Errorf("no free name for %q after %d attempts", filename, maxCollisionAttempts)
}
