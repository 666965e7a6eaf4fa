package media

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// Meta holds presentation metadata for an image. Width and Height come from
// the decoded pixels; the rest is optional EXIF data.
type Meta struct {
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`

	TakenAt     *time.Time `json:"taken_at,omitempty"`
	CameraMake  string     `json:"camera_make,omitempty"`
	CameraModel string     `json:"camera_model,omitempty"`
	Orientation string     `json:"orientation,omitempty"`
	FNumber     string     `json:"fnumber,omitempty"`
}

// ReadEXIF fills the EXIF fields of meta from the file at path.
// Files without EXIF data (PNG, GIF, stripped JPEGs) are not an error: meta
// is left untouched.
func ReadEXIF(path string, meta *Meta) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return nil
	}

	meta.CameraMake = exifString(x, exif.Make)
	meta.CameraModel = exifString(x, exif.Model)
	if v := exifString(x, exif.Orientation); v != "" {
		meta.Orientation = orientationLabel(v)
	}
	if t, err := x.DateTime(); err == nil {
		meta.TakenAt = &t
	}
	if fn, err := x.Get(exif.FNumber); err == nil {
		if num, den, err := fn.Rat2(0); err == nil && den != 0 {
			meta.FNumber = fmt.Sprintf("f/%.1f", float64(num)/float64(den))
		}
	}
	return nil
}

func exifString(x *exif.Exif, field exif.FieldName) string {
	tag, err := x.Get(field)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		// Orientation is stored as SHORT, not ASCII.
		if v, ierr := tag.Int(0); ierr == nil {
			return fmt.Sprint(v)
		}
		return ""
	}
	return strings.TrimSpace(s)
}

func orientationLabel(v string) string {
	switch v {
	case "1":
		return "Normal"
	case "2":
		return "Mirrored horizontal"
	case "3":
		return "Rotated 180°"
	case "4":
		return "Mirrored vertical"
	case "5":
		return "Mirrored horizontal, rotated 90° CCW"
	case "6":
		return "Rotated 90° CW"
	case "7":
		return "Mirrored horizontal, rotated 90° CW"
	case "8":
		return "Rotated 90° CCW"
	default:
		return v
	}
}
