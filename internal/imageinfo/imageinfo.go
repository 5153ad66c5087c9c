// Package imageinfo reports on-disk size and pixel dimensions of gallery
// images. Only the image header is decoded; files are never transformed.
package imageinfo

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Info describes an image file. Width and Height are zero when the header
// could not be decoded.
type Info struct {
	Size   int64
	Width  int
	Height int
	Format string
}

// HasDimensions reports whether the pixel size was decoded.
func (i Info) HasDimensions() bool {
	return i.Width > 0 && i.Height > 0
}

// Probe stats path and decodes its image header. It fails only when the
// file cannot be stat'ed or is not a regular file; an undecodable header
// yields an Info without dimensions.
func Probe(path string) (*Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: not a regular file", path)
	}
	info := &Info{Size: fi.Size()}

	f, err := os.Open(path)
	if err != nil {
		return info, nil
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return info, nil
	}
	info.Width, info.Height, info.Format = cfg.Width, cfg.Height, format
	return info, nil
}
