package histogram

import (
	"fmt"
	"log/slog"

	"github.com/eargollo/imgdup/internal/media"
)

// DecodeError reports an image that could not be turned into a histogram:
// unreadable, corrupt or in an unsupported format.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Options controls the byproducts of Decode.
type Options struct {
	// ThumbWidth and ThumbHeight bound the rendered thumbnail. Either being
	// zero disables thumbnails.
	ThumbWidth  int
	ThumbHeight int
	// EXIF enables reading EXIF metadata alongside the pixels.
	EXIF bool
}

// Decoded is everything produced from one decode of an image file.
type Decoded struct {
	Histogram Histogram
	Thumbnail []byte
	Meta      media.Meta
}

// Decode reads the image at path and builds its histogram. Since the pixels
// are already in memory, a JPEG thumbnail and metadata are produced as well
// when opts asks for them. Failing to render a thumbnail or read EXIF does not
// fail the decode. Any error returned is a *DecodeError.
func Decode(path string, opts Options) (*Decoded, error) {
	img, err := media.Open(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	b := img.Bounds()
	d := &Decoded{
		Histogram: FromImage(img),
		Meta:      media.Meta{Width: b.Dx(), Height: b.Dy()},
	}

	if opts.ThumbWidth > 0 && opts.ThumbHeight > 0 {
		thumb, err := media.Thumbnail(img, opts.ThumbWidth, opts.ThumbHeight)
		if err != nil {
			slog.Debug("thumbnail failed", "path", path, "error", err)
		} else {
			d.Thumbnail = thumb
		}
	}
	if opts.EXIF {
		if err := media.ReadEXIF(path, &d.Meta); err != nil {
			slog.Debug("read exif failed", "path", path, "error", err)
		}
	}
	return d, nil
}
