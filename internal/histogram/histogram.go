// Package histogram extracts per-channel color histograms from images and
// measures the distance between them.
package histogram

import (
	"image"

	"golang.org/x/image/draw"
)

// Bins is the number of intensity levels counted per channel.
const Bins = 256

// Channels is the number of color channels a decoded image produces (R, G, B).
const Channels = 3

// Channel counts, for each 8-bit intensity, how many pixels have it.
type Channel [Bins]uint32

// Histogram holds one Channel per color channel. Histograms produced by this
// package always have Channels entries and each channel sums to the pixel
// count of the source image. A Histogram is never modified after it is built.
type Histogram []Channel

// FromImage counts the 8-bit R, G and B values of every pixel of img.
// Alpha is ignored; pixels are read un-premultiplied.
func FromImage(img image.Image) Histogram {
	px := toNRGBA(img)
	h := make(Histogram, Channels)
	b := px.Bounds()
	for y := 0; y < b.Dy(); y++ {
		row := px.Pix[y*px.Stride : y*px.Stride+b.Dx()*4]
		for i := 0; i < len(row); i += 4 {
			h[0][row[i]]++
			h[1][row[i+1]]++
			h[2][row[i+2]]++
		}
	}
	return h
}

// PixelCount returns the number of pixels counted in the first channel.
func (h Histogram) PixelCount() uint64 {
	if len(h) == 0 {
		return 0
	}
	var n uint64
	for _, v := range h[0] {
		n += uint64(v)
	}
	return n
}

// toNRGBA returns img as an 8-bit non-premultiplied buffer whose origin is
// (0, 0), converting only when needed.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Bounds().Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
