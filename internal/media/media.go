package media

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// DefaultExtensions lists the file extensions (lower case, with dot) that
// Open can decode.
var DefaultExtensions = []string{
	".jpg", ".jpeg", ".png", ".bmp", ".gif", ".webp", ".tif", ".tiff",
}

// ExtensionSet builds a lookup set from exts, lower-casing each entry and
// adding a leading dot when missing.
func ExtensionSet(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = true
	}
	return set
}

// HasExtension reports whether path's extension, compared case-insensitively,
// is in set.
func HasExtension(path string, set map[string]bool) bool {
	return set[strings.ToLower(filepath.Ext(path))]
}

// Open decodes the image at path. The decoder is picked from the extension;
// unknown extensions fall back to content sniffing.
func Open(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := decodeImage(strings.ToLower(filepath.Ext(path)), f)
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", path, err)
	}
	return img, nil
}

// decodeImage decodes an image from r using the decoder appropriate for ext.
func decodeImage(ext string, r io.Reader) (image.Image, error) {
	switch ext {
	case ".jpg", ".jpeg":
		return jpeg.Decode(r)
	case ".png":
		return png.Decode(r)
	case ".gif":
		return gif.Decode(r)
	case ".bmp":
		return bmp.Decode(r)
	case ".webp":
		return webp.Decode(r)
	case ".tif", ".tiff":
		return tiff.Decode(r)
	default:
		img, _, err := image.Decode(r)
		return img, err
	}
}

// Thumbnail renders src as a JPEG that fits within width x height, keeping
// the aspect ratio. Images already inside the box are not upscaled.
func Thumbnail(src image.Image, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("thumbnail box %dx%d is empty", width, height)
	}
	thumb := resizeFit(src, width, height)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// resizeFit scales src to fit within the dstW x dstH bounding box,
// preserving the aspect ratio, using BiLinear interpolation.
func resizeFit(src image.Image, dstW, dstH int) image.Image {
	srcBounds := src.Bounds()
	srcW := srcBounds.Dx()
	srcH := srcBounds.Dy()

	if srcW == 0 || srcH == 0 {
		return src
	}

	scale := min(float64(dstW)/float64(srcW), float64(dstH)/float64(srcH))
	if scale >= 1.0 {
		return src
	}

	newW := max(int(float64(srcW)*scale), 1)
	newH := max(int(float64(srcH)*scale), 1)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, srcBounds, draw.Over, nil)
	return dst
}
