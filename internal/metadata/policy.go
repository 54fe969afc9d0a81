package metadata

import (
	"sort"
	"strings"

	"picture-export/internal/source"
)

// CorePHIFields are always removed from de-identified records.
var CorePHIFields = []string{
	string(source.FieldPatientName),
	string(source.FieldPatientID),
	string(source.FieldPatientBirthDate),
}

// Policy decides which keys a de-identified record drops.
type Policy struct {
	phi map[string]bool
}

// NewPolicy returns the core PHI set plus extra keys. Extra keys are
// matched case-insensitively after trimming.
func NewPolicy(extra ...string) Policy {
	p := Policy{phi: make(map[string]bool, len(CorePHIFields)+len(extra))}
	for _, k := range CorePHIFields {
		p.phi[k] = true
	}
	for _, k := range extra {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			p.phi[k] = true
		}
	}
	return p
}

// IsPHI reports whether key is removed by de-identification.
func (p Policy) IsPHI(key string) bool {
	if p.phi == nil {
		return NewPolicy().IsPHI(key)
	}
	return p.phi[strings.ToLower(key)]
}

// Fields returns the PHI keys, sorted.
func (p Policy) Fields() []string {
	if p.phi == nil {
		return NewPolicy().Fields()
	}
	out := make([]string, 0, len(p.phi))
	for k := range p.phi {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Deidentify projects r onto its non-PHI keys and marks it de-identified.
// r itself is not modified.
func (p Policy) Deidentify(r Record) Record {
	drop := make(map[string]bool)
	for _, k := range r.keys {
		if p.IsPHI(k) {
			drop[k] = true
		}
	}
	out := r.without(drop)
	out.Set(KeyDeidentified, true)
	return out
}
