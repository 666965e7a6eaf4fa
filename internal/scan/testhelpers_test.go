package scan

import (
	"bytes"
	"database/sql"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	internaldb "github.com/eargollo/imgdup/internal/db"
	"github.com/eargollo/imgdup/internal/histogram"
)

// mustOpenDB opens a temp file SQLite database with the full schema applied.
func mustOpenDB(tb testing.TB) *sql.DB {
	tb.Helper()
	db, err := internaldb.OpenAndMigrate(filepath.Join(tb.TempDir(), "test.db"))
	if err != nil {
		tb.Fatalf("open test DB: %v", err)
	}
	tb.Cleanup(func() { db.Close() })
	return db
}

// solidImage returns a w x h image filled with c, with the first n pixels of
// the top row set to mark so near-duplicates differ by a known amount.
func solidImage(w, h int, c color.NRGBA, n int, mark color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	for x := 0; x < n && x < w; x++ {
		img.SetNRGBA(x, 0, mark)
	}
	return img
}

// mustWritePNG encodes img as PNG at path, creating parent directories.
func mustWritePNG(tb testing.TB, path string, img image.Image) string {
	tb.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatal(err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		tb.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		tb.Fatal(err)
	}
	return path
}

// mustWriteFile writes raw bytes at path, creating parent directories.
func mustWriteFile(tb testing.TB, path string, data []byte) string {
	tb.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		tb.Fatal(err)
	}
	return path
}

var (
	red   = color.NRGBA{R: 200, G: 10, B: 10, A: 255}
	blue  = color.NRGBA{R: 10, G: 10, B: 200, A: 255}
	green = color.NRGBA{R: 10, G: 200, B: 10, A: 255}
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
)

// createImageTree writes five images under root: two identical red squares,
// a red square with 5 white pixels, a blue and a green square, plus one
// corrupt .jpg. Returns the corrupt file's path.
func createImageTree(tb testing.TB, root string) string {
	tb.Helper()
	mustWritePNG(tb, filepath.Join(root, "a", "red1.png"), solidImage(20, 20, red, 0, white))
	mustWritePNG(tb, filepath.Join(root, "b", "red2.png"), solidImage(20, 20, red, 0, white))
	mustWritePNG(tb, filepath.Join(root, "b", "red3.png"), solidImage(20, 20, red, 5, white))
	mustWritePNG(tb, filepath.Join(root, "c", "blue.png"), solidImage(20, 20, blue, 0, white))
	mustWritePNG(tb, filepath.Join(root, "c", "green.png"), solidImage(20, 20, green, 0, white))
	mustWriteFile(tb, filepath.Join(root, "notes.txt"), []byte("not an image"))
	return mustWriteFile(tb, filepath.Join(root, "c", "broken.jpg"), []byte("definitely not a jpeg"))
}

// recordWith builds a decoded Record whose histogram has value v in red bin 0.
func recordWith(path string, v uint32) Record {
	h := make(histogram.Histogram, histogram.Channels)
	h[0][0] = v
	return Record{Path: path, Histogram: h}
}
