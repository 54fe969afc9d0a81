package source

import (
	"errors"
	"fmt"
	"os"

	"github.com/suyashkumar/dicom/pkg/tag"

	dcm "picture-export/internal/dicom"
)

type fieldTag struct {
	field Field
	tag   tag.Tag
}

// dicomFieldTags maps each recognized field to its DICOM attribute, in the
// order fields appear in exported records.
var dicomFieldTags = []fieldTag{
	{FieldManufacturerModel, tag.Tag{Group: 0x0008, Element: 0x1090}},
	{FieldManufacturer, tag.Tag{Group: 0x0008, Element: 0x0070}},
	{FieldInstanceCreationDate, tag.Tag{Group: 0x0008, Element: 0x0012}},
	{FieldInstanceCreationTime, tag.Tag{Group: 0x0008, Element: 0x0013}},
	{FieldImageLaterality, tag.Tag{Group: 0x0020, Element: 0x0062}},
	{FieldLaterality, tag.Tag{Group: 0x0020, Element: 0x0060}},
	{FieldPatientName, tag.Tag{Group: 0x0010, Element: 0x0010}},
	{FieldPatientID, tag.Tag{Group: 0x0010, Element: 0x0020}},
	{FieldPatientBirthDate, tag.Tag{Group: 0x0010, Element: 0x0030}},
	{FieldPatientSex, tag.Tag{Group: 0x0010, Element: 0x0040}},
	{FieldPatientAge, tag.Tag{Group: 0x0010, Element: 0x1010}},
	{FieldStudyInstanceUID, tag.Tag{Group: 0x0020, Element: 0x000D}},
	{FieldSeriesInstanceUID, tag.Tag{Group: 0x0020, Element: 0x000E}},
	{FieldStudyDate, tag.Tag{Group: 0x0008, Element: 0x0020}},
	{FieldAcquisitionDate, tag.Tag{Group: 0x0008, Element: 0x0022}},
	{FieldModality, tag.Tag{Group: 0x0008, Element: 0x0060}},
	{FieldStudyDescription, tag.Tag{Group: 0x0008, Element: 0x1030}},
	{FieldSeriesDescription, tag.Tag{Group: 0x0008, Element: 0x103E}},
	{FieldAdmittingDiagnoses, tag.Tag{Group: 0x0008, Element: 0x1080}},
	{FieldClinicalHistory, tag.Tag{Group: 0x0040, Element: 0x2000}},
	{FieldAdditionalPatientHistory, tag.Tag{Group: 0x0010, Element: 0x21B0}},
	{FieldImageComments, tag.Tag{Group: 0x0020, Element: 0x4000}},
	{FieldSOPInstanceUID, tag.Tag{Group: 0x0008, Element: 0x0018}},
}

var dateFields = map[Field]bool{
	FieldInstanceCreationDate: true,
	FieldPatientBirthDate:     true,
	FieldStudyDate:            true,
	FieldAcquisitionDate:      true,
}

func (e *FileExtractor) extractDICOM(path string) (*SourceRecord, error) {
	meta, err := dcm.ReadDicomMetadataOnly(path)
	if err != nil {
		return nil, err
	}

	ts := meta.GetTransferSyntax()
	readPath := path
	switch dcm.ClassifyTransferSyntax(ts) {
	case dcm.SyntaxNative, dcm.SyntaxJPEG:
	case dcm.SyntaxNeedsDcmtk:
		if !e.AllowDcmtk || !dcm.CheckDcmtkInstalled() {
			return nil, unsupported(ts, "JPEG-LS needs dcmtk")
		}
		decompressed, err := dcm.DecompressJPEGLS(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPixelDecode, err)
		}
		defer os.Remove(decompressed)
		readPath = decompressed
	default:
		return nil, unsupported(ts, "")
	}

	ds, err := dcm.ReadDicom(readPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPixelDecode, err)
	}

	rec := &SourceRecord{
		SourcePath: path,
		Format:     dcm.FormatDICOM,
		Fields:     fieldsFromDataset(meta),
	}
	if uid, ok := meta.ReadSlot(e.Slot); ok {
		rec.PictureUID = uid
	}

	fr, err := ds.FirstFrame()
	if err != nil {
		if errors.Is(err, dcm.ErrNoPixelData) {
			return nil, fmt.Errorf("%w: %v", ErrPixelDecode, err)
		}
		return nil, err
	}
	img, err := frameImage(fr, ds.Geometry())
	if err != nil {
		return nil, err
	}
	rec.Pixels = describe(img)
	return rec, nil
}

func fieldsFromDataset(ds *dcm.Dataset) Fields {
	var fields Fields
	for _, ft := range dicomFieldTags {
		value := ds.GetString(ft.tag)
		switch {
		case dateFields[ft.field]:
			value = normalizeDate(value)
		case ft.field == FieldInstanceCreationTime:
			value = normalizeTime(value)
		}
		fields.Set(ft.field, value)
	}
	return fields
}
