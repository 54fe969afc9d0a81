package source

import (
	"errors"
	"fmt"
	"image"

	dcm "picture-export/internal/dicom"
)

var (
	// ErrUnrecognizedFormat means the file is neither DICOM nor TIFF.
	ErrUnrecognizedFormat = errors.New("not a recognized image format")
	// ErrUnsupportedTransferSyntax means the file is DICOM but its pixel
	// encoding cannot be decoded here.
	ErrUnsupportedTransferSyntax = errors.New("unsupported transfer syntax")
	// ErrPixelDecode means the pixel data could not be decoded.
	ErrPixelDecode = errors.New("could not decode pixel data")
)

// ExtractionError reports why a source could not be extracted.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// PixelDescriptor is the decoded raster owned by the extractor. The export
// pipeline passes it to the image encoder and never mutates it.
type PixelDescriptor struct {
	Width    int
	Height   int
	BitDepth int
	Channels int
	Mode     string
	Image    image.Image
}

// SourceRecord is one input file's normalized state.
type SourceRecord struct {
	SourcePath string
	Format     dcm.SourceFormat
	Fields     Fields
	// PictureUID is the identifier previously persisted in the source's
	// private slot (DICOM) or sidecar (TIFF), if any.
	PictureUID string
	Pixels     PixelDescriptor
}

// SOPInstanceUID returns the native instance identifier, if present.
func (r *SourceRecord) SOPInstanceUID() string {
	return r.Fields.Value(FieldSOPInstanceUID)
}
