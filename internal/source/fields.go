package source

import "strings"

// Field names a metadata attribute. The constants below are the recognized
// set; any other name is a passthrough field carried verbatim.
type Field string

const (
	FieldManufacturer             Field = "manufacturer"
	FieldManufacturerModel        Field = "manufacturer_model"
	FieldInstanceCreationDate     Field = "instance_creation_date"
	FieldInstanceCreationTime     Field = "instance_creation_time"
	FieldImageLaterality          Field = "image_laterality"
	FieldLaterality               Field = "laterality"
	FieldPatientName              Field = "patient_name"
	FieldPatientID                Field = "patient_id"
	FieldPatientBirthDate         Field = "patient_birth_date"
	FieldPatientSex               Field = "patient_sex"
	FieldPatientAge               Field = "patient_age"
	FieldStudyInstanceUID         Field = "study_instance_uid"
	FieldSeriesInstanceUID        Field = "series_instance_uid"
	FieldStudyDate                Field = "study_date"
	FieldAcquisitionDate          Field = "acquisition_date"
	FieldModality                 Field = "modality"
	FieldStudyDescription         Field = "study_description"
	FieldSeriesDescription        Field = "series_description"
	FieldAdmittingDiagnoses       Field = "admitting_diagnoses"
	FieldClinicalHistory          Field = "clinical_history"
	FieldAdditionalPatientHistory Field = "additional_patient_history"
	FieldImageComments            Field = "image_comments"
	FieldSOPInstanceUID           Field = "sop_instance_uid"
)

var recognizedFields = map[Field]bool{
	FieldManufacturer:             true,
	FieldManufacturerModel:        true,
	FieldInstanceCreationDate:     true,
	FieldInstanceCreationTime:     true,
	FieldImageLaterality:          true,
	FieldLaterality:               true,
	FieldPatientName:              true,
	FieldPatientID:                true,
	FieldPatientBirthDate:         true,
	FieldPatientSex:               true,
	FieldPatientAge:               true,
	FieldStudyInstanceUID:         true,
	FieldSeriesInstanceUID:        true,
	FieldStudyDate:                true,
	FieldAcquisitionDate:          true,
	FieldModality:                 true,
	FieldStudyDescription:         true,
	FieldSeriesDescription:        true,
	FieldAdmittingDiagnoses:       true,
	FieldClinicalHistory:          true,
	FieldAdditionalPatientHistory: true,
	FieldImageComments:            true,
	FieldSOPInstanceUID:           true,
}

// Recognized reports whether f is one of the enumerated fields.
func (f Field) Recognized() bool {
	return recognizedFields[f]
}

// Fields is an insertion-ordered field mapping. Absent and empty values are
// not stored, so Get distinguishes "missing" from any real value.
type Fields struct {
	order  []Field
	values map[Field]string
}

// Set stores v under k. Blank values delete the key.
func (f *Fields) Set(k Field, v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		f.Delete(k)
		return
	}
	if f.values == nil {
		f.values = make(map[Field]string)
	}
	if _, exists := f.values[k]; !exists {
		f.order = append(f.order, k)
	}
	f.values[k] = v
}

// Get returns the value for k and whether it is present.
func (f *Fields) Get(k Field) (string, bool) {
	v, ok := f.values[k]
	return v, ok
}

// Value returns the value for k or "".
func (f *Fields) Value(k Field) string {
	return f.values[k]
}

// Delete removes k.
func (f *Fields) Delete(k Field) {
	if _, ok := f.values[k]; !ok {
		return
	}
	delete(f.values, k)
	for i, existing := range f.order {
		if existing == k {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

// Keys returns field names in insertion order.
func (f *Fields) Keys() []Field {
	out := make([]Field, len(f.order))
	copy(out, f.order)
	return out
}

// Len returns the number of present fields.
func (f *Fields) Len() int {
	return len(f.order)
}

// Clone returns an independent copy.
func (f *Fields) Clone() Fields {
	c := Fields{
		order:  make([]Field, len(f.order)),
		values: make(map[Field]string, len(f.values)),
	}
	copy(c.order, f.order)
	for k, v := range f.values {
		c.values[k] = v
	}
	return c
}

// normalizeDate turns DICOM DA values (YYYYMMDD) into YYYY-MM-DD.
func normalizeDate(v string) string {
	v = strings.TrimSpace(v)
	if len(v) == 8 && isDigits(v) {
		return v[:4] + "-" + v[4:6] + "-" + v[6:8]
	}
	return v
}

// normalizeTime turns DICOM TM values (HHMMSS[.frac]) into HH:MM:SS.
func normalizeTime(v string) string {
	v = strings.TrimSpace(v)
	compact := strings.ReplaceAll(v, ":", "")
	if len(compact) >= 6 && isDigits(compact[:6]) {
		return compact[:2] + ":" + compact[2:4] + ":" + compact[4:6]
	}
	return v
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
