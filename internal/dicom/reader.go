package dicom

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ErrNoPixelData is returned when a dataset carries no decodable frame.
var ErrNoPixelData = errors.New("no pixel data found")

// Dataset wraps a DICOM dataset for easier access
type Dataset struct {
	Data     dicom.Dataset
	FilePath string
}

// ReadDicom reads a DICOM file including its pixel data.
func ReadDicom(path string) (*Dataset, error) {
	return readDicom(path)
}

// ReadDicomMetadataOnly reads only the metadata (no pixel data).
func ReadDicomMetadataOnly(path string) (*Dataset, error) {
	return readDicom(path, dicom.SkipPixelData())
}

func readDicom(path string, opts ...dicom.ParseOption) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("could not stat file: %w", err)
	}

	ds, err := dicom.Parse(file, info.Size(), nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not parse DICOM: %w", err)
	}

	return &Dataset{
		Data:     ds,
		FilePath: path,
	}, nil
}

// GetString returns a string value for a tag, or empty string if not found.
// Trailing padding (space or NUL) is removed.
func (d *Dataset) GetString(t tag.Tag) string {
	elem, err := d.Data.FindElementByTag(t)
	if err != nil {
		return ""
	}
	return elementString(elem)
}

func elementString(elem *dicom.Element) string {
	if elem == nil || elem.Value == nil {
		return ""
	}

	raw := elem.Value.GetValue()
	if raw == nil {
		return ""
	}

	switch v := raw.(type) {
	case []string:
		if len(v) > 0 {
			return trimPadding(v[0])
		}
		return ""
	case string:
		return trimPadding(v)
	case []byte:
		// Private elements read under implicit VR come back as UN bytes.
		return trimPadding(string(v))
	}

	return fmt.Sprintf("%v", raw)
}

func trimPadding(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "\x00 ")
}

// GetInt returns the first integer value of a tag, or 0 if absent.
func (d *Dataset) GetInt(t tag.Tag) int {
	elem, err := d.Data.FindElementByTag(t)
	if err != nil {
		return 0
	}
	return getIntValueFromElem(elem)
}

// GetTransferSyntax returns the transfer syntax UID.
func (d *Dataset) GetTransferSyntax() string {
	return d.GetString(tag.TransferSyntaxUID)
}

// ImageGeometry describes the pixel layout declared in the image pixel module.
type ImageGeometry struct {
	Rows            int
	Columns         int
	BitsAllocated   int
	SamplesPerPixel int
	Photometric     string
}

// Geometry returns the declared pixel layout with the usual defaults applied.
func (d *Dataset) Geometry() ImageGeometry {
	g := ImageGeometry{
		Rows:            d.GetInt(tag.Rows),
		Columns:         d.GetInt(tag.Columns),
		BitsAllocated:   d.GetInt(tag.BitsAllocated),
		SamplesPerPixel: d.GetInt(tag.SamplesPerPixel),
		Photometric:     d.GetString(tag.PhotometricInterpretation),
	}
	if g.BitsAllocated == 0 {
		g.BitsAllocated = 8
	}
	if g.SamplesPerPixel == 0 {
		g.SamplesPerPixel = 1
	}
	return g
}

// FirstFrame returns the first decoded frame of the pixel data element.
func (d *Dataset) FirstFrame() (*frame.Frame, error) {
	pixelElem, err := d.Data.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPixelData, err)
	}

	info, ok := pixelElem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 || info.Frames[0] == nil {
		return nil, ErrNoPixelData
	}
	return info.Frames[0], nil
}

// getIntValueFromElem extracts an integer value from a DICOM element.
func getIntValueFromElem(elem *dicom.Element) int {
	if elem == nil || elem.Value == nil {
		return 0
	}

	val := elem.Value.GetValue()
	switch v := val.(type) {
	case []int:
		if len(v) > 0 {
			return v[0]
		}
	case int:
		return v
	case []uint16:
		if len(v) > 0 {
			return int(v[0])
		}
	case uint16:
		return int(v)
	}

	return 0
}
