package source

import (
	"fmt"

	dcm "picture-export/internal/dicom"
)

// Extractor normalizes a source file into a SourceRecord.
type Extractor interface {
	Extract(path string) (*SourceRecord, error)
}

// FileExtractor dispatches on the detected container format.
type FileExtractor struct {
	// Slot is where a previously persisted Picture UID is looked up.
	Slot dcm.PrivateSlot
	// AllowDcmtk enables JPEG-LS decoding through dcmtk when installed.
	AllowDcmtk bool
}

// NewFileExtractor returns an extractor reading Picture UIDs from slot.
func NewFileExtractor(slot dcm.PrivateSlot) *FileExtractor {
	return &FileExtractor{Slot: slot, AllowDcmtk: true}
}

// Extract reads path. Every failure is an *ExtractionError wrapping one of
// ErrUnrecognizedFormat, ErrUnsupportedTransferSyntax, ErrPixelDecode or the
// underlying I/O error.
func (e *FileExtractor) Extract(path string) (*SourceRecord, error) {
	var (
		rec *SourceRecord
		err error
	)

	switch dcm.DetectFormat(path) {
	case dcm.FormatDICOM:
		rec, err = e.extractDICOM(path)
	case dcm.FormatTIFF:
		rec, err = extractTIFF(path)
	default:
		err = ErrUnrecognizedFormat
	}
	if err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}
	return rec, nil
}

func unsupported(ts, reason string) error {
	if reason == "" {
		return fmt.Errorf("%w: %s", ErrUnsupportedTransferSyntax, ts)
	}
	return fmt.Errorf("%w: %s (%s)", ErrUnsupportedTransferSyntax, ts, reason)
}
