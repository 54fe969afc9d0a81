package source

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // encapsulated baseline frames decode through image.Decode

	"github.com/suyashkumar/dicom/pkg/frame"

	dcm "picture-export/internal/dicom"
)

// frameImage converts a parsed frame into an image.Image. Native frames keep
// their stored bit depth (8-bit or 16-bit); encapsulated frames are decoded
// by the registered image codecs.
func frameImage(fr *frame.Frame, geo dcm.ImageGeometry) (image.Image, error) {
	if fr.Encapsulated {
		img, err := fr.GetImage()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPixelDecode, err)
		}
		return img, nil
	}

	native := fr.NativeData
	rows, cols := native.Rows, native.Cols
	if rows == 0 || cols == 0 {
		rows, cols = geo.Rows, geo.Columns
	}
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrPixelDecode)
	}
	if len(native.Data) < rows*cols {
		return nil, fmt.Errorf("%w: frame has %d pixels, want %d", ErrPixelDecode, len(native.Data), rows*cols)
	}

	bits := native.BitsPerSample
	if bits == 0 {
		bits = geo.BitsAllocated
	}
	samples := geo.SamplesPerPixel
	if len(native.Data[0]) > 0 {
		samples = len(native.Data[0])
	}

	rect := image.Rect(0, 0, cols, rows)
	switch {
	case samples == 1 && bits <= 8:
		img := image.NewGray(rect)
		invert := geo.Photometric == "MONOCHROME1"
		for i := 0; i < rows*cols; i++ {
			v := clamp(native.Data[i][0], 0xFF)
			if invert {
				v = 0xFF - v
			}
			img.Pix[i] = uint8(v)
		}
		return img, nil
	case samples == 1:
		img := image.NewGray16(rect)
		max := 1<<bits - 1
		if bits > 16 {
			max = 0xFFFF
		}
		invert := geo.Photometric == "MONOCHROME1"
		for i := 0; i < rows*cols; i++ {
			v := clamp(native.Data[i][0], max)
			if invert {
				v = max - v
			}
			img.SetGray16(i%cols, i/cols, color.Gray16{Y: uint16(v)})
		}
		return img, nil
	case samples >= 3 && bits <= 8:
		img := image.NewNRGBA(rect)
		for i := 0; i < rows*cols; i++ {
			px := native.Data[i]
			img.SetNRGBA(i%cols, i/cols, color.NRGBA{
				R: uint8(clamp(px[0], 0xFF)),
				G: uint8(clamp(px[1], 0xFF)),
				B: uint8(clamp(px[2], 0xFF)),
				A: 0xFF,
			})
		}
		return img, nil
	case samples >= 3:
		img := image.NewNRGBA64(rect)
		for i := 0; i < rows*cols; i++ {
			px := native.Data[i]
			img.SetNRGBA64(i%cols, i/cols, color.NRGBA64{
				R: uint16(clamp(px[0], 0xFFFF)),
				G: uint16(clamp(px[1], 0xFFFF)),
				B: uint16(clamp(px[2], 0xFFFF)),
				A: 0xFFFF,
			})
		}
		return img, nil
	}
	return nil, fmt.Errorf("%w: %d samples per pixel", ErrPixelDecode, samples)
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// describe summarizes img's layout.
func describe(img image.Image) PixelDescriptor {
	b := img.Bounds()
	d := PixelDescriptor{Width: b.Dx(), Height: b.Dy(), Image: img}
	switch img.(type) {
	case *image.Gray:
		d.BitDepth, d.Channels, d.Mode = 8, 1, "L"
	case *image.Gray16:
		d.BitDepth, d.Channels, d.Mode = 16, 1, "I;16"
	case *image.NRGBA64, *image.RGBA64:
		d.BitDepth, d.Channels, d.Mode = 16, 3, "RGB;16"
	case *image.CMYK:
		d.BitDepth, d.Channels, d.Mode = 8, 4, "CMYK"
	default:
		d.BitDepth, d.Channels, d.Mode = 8, 3, "RGB"
	}
	return d
}
