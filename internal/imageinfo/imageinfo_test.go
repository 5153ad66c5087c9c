package imageinfo

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
)

func writeImage(t *testing.T, path string, w, h int, encode func(*os.File, image.Image) error) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func TestProbe(t *testing.T) {
	dir := t.TempDir()

	pngPath := filepath.Join(dir, "a.png")
	writeImage(t, pngPath, 3, 2, func(f *os.File, m image.Image) error { return png.Encode(f, m) })
	bmpPath := filepath.Join(dir, "b.bmp")
	writeImage(t, bmpPath, 4, 5, func(f *os.File, m image.Image) error { return bmp.Encode(f, m) })

	tests := []struct {
		path   string
		w, h   int
		format string
	}{
		{pngPath, 3, 2, "png"},
		{bmpPath, 4, 5, "bmp"},
	}
	for _, tt := range tests {
		info, err := Probe(tt.path)
		if err != nil {
			t.Fatalf("Probe(%s) error: %v", tt.path, err)
		}
		if info.Width != tt.w || info.Height != tt.h || info.Format != tt.format {
			t.Errorf("Probe(%s) = %+v, want %dx%d %s", tt.path, info, tt.w, tt.h, tt.format)
		}
		if info.Size <= 0 {
			t.Errorf("Probe(%s) size = %d", tt.path, info.Size)
		}
	}
}

func TestProbe_NotAnImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.png")
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := Probe(path)
	if err != nil {
		t.Fatalf("Probe() error: %v", err)
	}
	if info.HasDimensions() {
		t.Errorf("expected no dimensions, got %+v", info)
	}
	if info.Size != int64(len("not an image")) {
		t.Errorf("size: got %d", info.Size)
	}
}

func TestProbe_Missing(t *testing.T) {
	if _, err := Probe(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Probe(t.TempDir()); err == nil {
		t.Error("expected error for directory")
	}
}
