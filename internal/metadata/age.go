package metadata

import (
	"fmt"
	"strings"
	"time"

	"picture-export/internal/source"
)

var dateLayouts = []string{"2006-01-02", "20060102"}

func parseDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// referenceDateFields are the dates an age can be measured at; the earliest
// one present is used.
var referenceDateFields = []source.Field{
	source.FieldStudyDate,
	source.FieldAcquisitionDate,
	source.FieldInstanceCreationDate,
}

// DeriveAge returns the patient's age. A direct age field wins; otherwise it
// is the number of whole years between the birth date and the earliest
// reference date, formatted as "NNNY". Missing or inconsistent inputs yield
// no age rather than a guess.
func DeriveAge(fields *source.Fields) (string, bool) {
	if age, ok := fields.Get(source.FieldPatientAge); ok {
		return age, true
	}

	birth, ok := parseDate(fields.Value(source.FieldPatientBirthDate))
	if !ok {
		return "", false
	}

	var ref time.Time
	for _, f := range referenceDateFields {
		d, ok := parseDate(fields.Value(f))
		if !ok {
			continue
		}
		if ref.IsZero() || d.Before(ref) {
			ref = d
		}
	}
	if ref.IsZero() {
		return "", false
	}

	years, ok := wholeYears(birth, ref)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%03dY", years), true
}

// wholeYears counts completed years from birth to ref.
func wholeYears(birth, ref time.Time) (int, bool) {
	years := ref.Year() - birth.Year()
	if ref.Month() < birth.Month() || (ref.Month() == birth.Month() && ref.Day() < birth.Day()) {
		years--
	}
	if years < 0 {
		return 0, false
	}
	return years, true
}
