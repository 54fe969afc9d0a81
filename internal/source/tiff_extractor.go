package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/image/tiff"

	dcm "picture-export/internal/dicom"
)

// PictureUIDKey is the sidecar key holding a persisted Picture UID.
const PictureUIDKey = "picture_uid"

// keywordFields maps DICOM keywords found in sidecars onto recognized fields.
var keywordFields = map[string]Field{
	"ManufacturerModelName":         FieldManufacturerModel,
	"Manufacturer":                  FieldManufacturer,
	"InstanceCreationDate":          FieldInstanceCreationDate,
	"InstanceCreationTime":          FieldInstanceCreationTime,
	"ImageLaterality":               FieldImageLaterality,
	"Laterality":                    FieldLaterality,
	"PatientName":                   FieldPatientName,
	"PatientID":                     FieldPatientID,
	"PatientBirthDate":              FieldPatientBirthDate,
	"PatientSex":                    FieldPatientSex,
	"PatientAge":                    FieldPatientAge,
	"StudyInstanceUID":              FieldStudyInstanceUID,
	"SeriesInstanceUID":             FieldSeriesInstanceUID,
	"StudyDate":                     FieldStudyDate,
	"AcquisitionDate":               FieldAcquisitionDate,
	"Modality":                      FieldModality,
	"StudyDescription":              FieldStudyDescription,
	"SeriesDescription":             FieldSeriesDescription,
	"AdmittingDiagnosesDescription": FieldAdmittingDiagnoses,
	"ClinicalHistory":               FieldClinicalHistory,
	"AdditionalPatientHistory":      FieldAdditionalPatientHistory,
	"ImageComments":                 FieldImageComments,
	"SOPInstanceUID":                FieldSOPInstanceUID,
}

// provenanceKeys are written by the exporter itself and are not source fields.
var provenanceKeys = map[string]bool{
	"export_image":     true,
	"source_file":      true,
	"image_width":      true,
	"image_height":     true,
	"deidentified":     true,
	"identity_kind":    true,
	"identity_durable": true,
	"export_id":        true,
}

func extractTIFF(path string) (*SourceRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}
	defer file.Close()

	img, err := tiff.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPixelDecode, err)
	}

	rec := &SourceRecord{
		SourcePath: path,
		Format:     dcm.FormatTIFF,
		Pixels:     describe(img),
	}

	sidecar := FindSidecar(path)
	if sidecar == "" {
		return rec, nil
	}
	fields, uid, err := readSidecar(sidecar)
	if err != nil {
		return nil, fmt.Errorf("could not read sidecar %s: %w", sidecar, err)
	}
	rec.Fields = fields
	rec.PictureUID = uid
	return rec, nil
}

// FindSidecar returns the JSON sidecar describing a TIFF image, or "".
func FindSidecar(imagePath string) string {
	dir := filepath.Dir(imagePath)
	base := strings.TrimSuffix(filepath.Base(imagePath), filepath.Ext(imagePath)) + ".json"
	candidates := []string{
		filepath.Join(dir, base),
		filepath.Join(dir, "..", base),
		filepath.Join(dir, "metadata", base),
		filepath.Join(dir, "..", "metadata", base),
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// readSidecar loads fields from a sidecar. Recognized fields come first in
// their canonical order, passthrough keys follow sorted by name.
func readSidecar(path string) (Fields, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fields{}, "", err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Fields{}, "", err
	}
	if raw == nil {
		return Fields{}, "", errors.New("sidecar is not a JSON object")
	}

	values := make(map[Field]string)
	var passthrough []string
	var pictureUID string
	for key, v := range raw {
		value, ok := scalarString(v)
		if !ok {
			continue
		}
		switch {
		case key == PictureUIDKey:
			pictureUID = strings.TrimSpace(value)
		case provenanceKeys[key]:
		case keywordFields[key] != "":
			values[keywordFields[key]] = value
		default:
			values[Field(key)] = value
			if !Field(key).Recognized() {
				passthrough = append(passthrough, key)
			}
		}
	}

	var fields Fields
	for _, ft := range dicomFieldTags {
		value := values[ft.field]
		switch {
		case dateFields[ft.field]:
			value = normalizeDate(value)
		case ft.field == FieldInstanceCreationTime:
			value = normalizeTime(value)
		}
		fields.Set(ft.field, value)
	}
	sort.Strings(passthrough)
	for _, key := range passthrough {
		fields.Set(Field(key), values[Field(key)])
	}
	return fields, pictureUID, nil
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}
