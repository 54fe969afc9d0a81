// Package metadata builds the exported metadata records and writes them as
// per-image sidecars and batch aggregates.
package metadata

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"
)

// Provenance keys added to every record.
const (
	KeyPictureUID      = "picture_uid"
	KeySOPInstanceUID  = "sop_instance_uid"
	KeySourceFile      = "source_file"
	KeyExportImage     = "export_image"
	KeyImageWidth      = "image_width"
	KeyImageHeight     = "image_height"
	KeyIdentityKind    = "identity_kind"
	KeyIdentityDurable = "identity_durable"
	KeyDeidentified    = "deidentified"
	KeyPatientAge      = "patient_age"
)

// Record is an insertion-ordered key/value mapping. Values are strings,
// ints or bools.
type Record struct {
	keys   []string
	values map[string]any
}

// Set stores v under k, keeping k's original position when it exists.
func (r *Record) Set(k string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, exists := r.values[k]; !exists {
		r.keys = append(r.keys, k)
	}
	r.values[k] = v
}

// Get returns the value for k.
func (r Record) Get(k string) (any, bool) {
	v, ok := r.values[k]
	return v, ok
}

// Has reports whether k is present.
func (r Record) Has(k string) bool {
	_, ok := r.values[k]
	return ok
}

// Keys returns keys in insertion order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of keys.
func (r Record) Len() int {
	return len(r.keys)
}

// Clone returns an independent copy.
func (r Record) Clone() Record {
	c := Record{
		keys:   make([]string, len(r.keys)),
		values: make(map[string]any, len(r.values)),
	}
	copy(c.keys, r.keys)
	for k, v := range r.values {
		c.values[k] = v
	}
	return c
}

// without returns a copy lacking every key in drop.
func (r Record) without(drop map[string]bool) Record {
	c := Record{values: make(map[string]any, len(r.values))}
	for _, k := range r.keys {
		if drop[k] {
			continue
		}
		c.keys = append(c.keys, k)
		c.values[k] = r.values[k]
	}
	return c
}

// String returns the value for k formatted as text, "" when absent.
func (r Record) String(k string) string {
	return formatValue(r.values[k])
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// MarshalJSON encodes the record as an object with keys in insertion order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
