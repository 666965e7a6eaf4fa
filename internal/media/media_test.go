package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writePNG(tb testing.TB, path string, w, h int) {
	tb.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		tb.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		tb.Fatal(err)
	}
}

func TestHasExtension(t *testing.T) {
	set := ExtensionSet([]string{".JPG", "png", " .Gif ", ""})

	tests := []struct {
		path string
		want bool
	}{
		{"/a/b/photo.jpg", true},
		{"/a/b/PHOTO.JPG", true},
		{"/a/b/x.png", true},
		{"/a/b/x.gif", true},
		{"/a/b/x.jpeg", false},
		{"/a/b/noext", false},
	}
	for _, tc := range tests {
		if got := HasExtension(tc.path, set); got != tc.want {
			t.Errorf("HasExtension(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestOpenDecodesPNG(t *testing.T) {
	p := filepath.Join(t.TempDir(), "img.png")
	writePNG(t, p, 40, 20)

	img, err := Open(p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 20 {
		t.Errorf("bounds: got %v, want 40x20", b)
	}
}

func TestOpenCorruptFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "broken.jpg")
	if err := os.WriteFile(p, []byte("not really a jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(p); err == nil {
		t.Error("expected decode error for corrupt file")
	}
}

// TestThumbnailFitsBox verifies aspect-preserving downscale and no upscale.
func TestThumbnailFitsBox(t *testing.T) {
	tests := []struct {
		name         string
		srcW, srcH   int
		wantW, wantH int
	}{
		{"landscape", 400, 200, 100, 50},
		{"portrait", 200, 400, 50, 100},
		{"small stays", 30, 20, 30, 20},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src := image.NewRGBA(image.Rect(0, 0, tc.srcW, tc.srcH))
			data, err := Thumbnail(src, 100, 100)
			if err != nil {
				t.Fatalf("Thumbnail: %v", err)
			}
			cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("decode thumbnail: %v", err)
			}
			if cfg.Width != tc.wantW || cfg.Height != tc.wantH {
				t.Errorf("got %dx%d, want %dx%d", cfg.Width, cfg.Height, tc.wantW, tc.wantH)
			}
		})
	}
}

func TestReadEXIFWithoutEXIF(t *testing.T) {
	p := filepath.Join(t.TempDir(), "plain.png")
	writePNG(t, p, 4, 4)

	meta := Meta{Width: 4, Height: 4}
	if err := ReadEXIF(p, &meta); err != nil {
		t.Fatalf("ReadEXIF: %v", err)
	}
	if meta.TakenAt != nil || meta.CameraMake != "" {
		t.Errorf("expected no EXIF fields, got %+v", meta)
	}
	if meta.Width != 4 {
		t.Errorf("width overwritten: %d", meta.Width)
	}
}
