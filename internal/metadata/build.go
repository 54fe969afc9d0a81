package metadata

import (
	"path/filepath"

	"picture-export/internal/identity"
	"picture-export/internal/naming"
	"picture-export/internal/source"
)

// BuildOptions controls record assembly.
type BuildOptions struct {
	Deidentify bool
	Policy     Policy
	// Durable is false when the identity will not survive another run: a
	// sequence number, or a generated Picture UID that was not written back.
	Durable bool
}

// Records is the output of Build. Deidentified is nil unless requested.
type Records struct {
	Full         Record
	Deidentified *Record
}

// Export returns the record that goes into sidecars and the main aggregate:
// the de-identified variant when present, the full one otherwise.
func (r Records) Export() Record {
	if r.Deidentified != nil {
		return *r.Deidentified
	}
	return r.Full
}

// Build assembles the metadata record of one export. Extracted fields are
// copied verbatim in extraction order, followed by the derived age and the
// identity and export provenance keys.
func Build(rec *source.SourceRecord, id identity.Identity, target naming.ExportTarget, opts BuildOptions) Records {
	var full Record
	for _, k := range rec.Fields.Keys() {
		full.Set(string(k), rec.Fields.Value(k))
	}
	if !full.Has(KeyPatientAge) {
		if age, ok := DeriveAge(&rec.Fields); ok {
			full.Set(KeyPatientAge, age)
		}
	}

	if id.Kind != identity.KindSequence {
		full.Set(KeyPictureUID, id.Value)
	}
	if sop := rec.SOPInstanceUID(); sop != "" {
		full.Set(KeySOPInstanceUID, sop)
	}
	full.Set(KeySourceFile, filepath.Base(rec.SourcePath))
	full.Set(KeyExportImage, target.ImageName())
	full.Set(KeyImageWidth, rec.Pixels.Width)
	full.Set(KeyImageHeight, rec.Pixels.Height)
	full.Set(KeyIdentityKind, string(id.Kind))
	full.Set(KeyIdentityDurable, opts.Durable && id.Stable())

	out := Records{Full: full}
	if opts.Deidentify {
		deid := opts.Policy.Deidentify(full)
		out.Deidentified = &deid
	}
	return out
}
