// Package imaging writes exported rasters as single-page TIFF files.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"golang.org/x/image/tiff"

	"picture-export/internal/naming"
	"picture-export/internal/source"
)

// ErrNoImage means the pixel descriptor carries no decoded raster.
var ErrNoImage = errors.New("no decoded image")

// Options controls encoding.
type Options struct {
	// PreserveBitDepth keeps 16-bit rasters at 16 bits. Otherwise every
	// export is 8 bits per sample.
	PreserveBitDepth bool
	// Compress uses Deflate with horizontal prediction.
	Compress bool
}

// Encode writes px to w as TIFF.
func Encode(w io.Writer, px source.PixelDescriptor, opts Options) error {
	if px.Image == nil {
		return ErrNoImage
	}
	img := px.Image
	if !opts.PreserveBitDepth {
		img = To8Bit(img)
	}
	topts := &tiff.Options{Compression: tiff.Uncompressed}
	if opts.Compress {
		topts = &tiff.Options{Compression: tiff.Deflate, Predictor: true}
	}
	if err := tiff.Encode(w, img, topts); err != nil {
		return fmt.Errorf("could not encode tiff: %w", err)
	}
	return nil
}

// WriteFile encodes px into a new file at path. The file must not exist; a
// failed encode leaves nothing behind.
func WriteFile(path string, px source.PixelDescriptor, opts Options) error {
	return naming.WriteNew(path, func(w io.Writer) error {
		return Encode(w, px, opts)
	})
}

// To8Bit converts deep rasters to 8 bits per sample. Grayscale is min-max
// stretched to the full 0-255 range; colour is shifted down.
func To8Bit(img image.Image) image.Image {
	switch src := img.(type) {
	case *image.Gray, *image.NRGBA, *image.RGBA, *image.YCbCr, *image.Paletted, *image.CMYK:
		return img
	case *image.Gray16:
		return stretchGray16(src)
	}

	b := img.Bounds()
	dst := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x, y, color.NRGBAModel.Convert(img.At(x, y)))
		}
	}
	return dst
}

func stretchGray16(src *image.Gray16) *image.Gray {
	b := src.Bounds()
	lo, hi := uint16(0xFFFF), uint16(0)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := src.Gray16At(x, y).Y
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}

	dst := image.NewGray(b)
	span := int(hi) - int(lo)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var out uint8
			if span > 0 {
				out = uint8((int(src.Gray16At(x, y).Y) - int(lo)) * 255 / span)
			}
			dst.SetGray(x, y, color.Gray{Y: out})
		}
	}
	return dst
}
