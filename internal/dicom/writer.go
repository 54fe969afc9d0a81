package dicom

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// SetString replaces the value of an existing element or inserts a new one
// at its sorted position. vr is used only when the element is created.
func (d *Dataset) SetString(t tag.Tag, vr, value string) error {
	value = padEven(value, vr)

	newValue, err := dicom.NewValue([]string{value})
	if err != nil {
		return fmt.Errorf("could not create value: %w", err)
	}

	for i, e := range d.Data.Elements {
		if e.Tag != t {
			continue
		}
		rawVR := e.RawValueRepresentation
		kind := e.ValueRepresentation
		if rawVR == "" || rawVR == "UN" {
			// Implicit VR reads of private elements carry no usable VR.
			rawVR = vr
			kind = tag.GetVRKind(t, vr)
		}
		d.Data.Elements[i] = &dicom.Element{
			Tag:                    t,
			ValueRepresentation:    kind,
			RawValueRepresentation: rawVR,
			ValueLength:            uint32(len(value)),
			Value:                  newValue,
		}
		return nil
	}

	elem := &dicom.Element{
		Tag:                    t,
		ValueRepresentation:    tag.GetVRKind(t, vr),
		RawValueRepresentation: vr,
		ValueLength:            uint32(len(value)),
		Value:                  newValue,
	}
	d.insertSorted(elem)
	return nil
}

func (d *Dataset) insertSorted(elem *dicom.Element) {
	elems := d.Data.Elements
	idx := sort.Search(len(elems), func(i int) bool {
		return tagLess(elem.Tag, elems[i].Tag)
	})
	elems = append(elems, nil)
	copy(elems[idx+1:], elems[idx:])
	elems[idx] = elem
	d.Data.Elements = elems
}

func tagLess(a, b tag.Tag) bool {
	if a.Group != b.Group {
		return a.Group < b.Group
	}
	return a.Element < b.Element
}

// padEven pads odd-length values the way PS3.5 requires: NUL for UI, space otherwise.
func padEven(value, vr string) string {
	if len(value)%2 == 0 {
		return value
	}
	if vr == "UI" {
		return value + "\x00"
	}
	return value + " "
}

// SaveAtomic rewrites the dataset over its own source file. The new content
// is written to a temporary file in the same directory and renamed into place,
// so a crash mid-write leaves the original untouched.
func (d *Dataset) SaveAtomic() error {
	info, err := os.Stat(d.FilePath)
	if err != nil {
		return fmt.Errorf("could not stat source: %w", err)
	}

	dir := filepath.Dir(d.FilePath)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(d.FilePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	// Relaxed verification: many real-world files do not strictly follow
	// VR specifications and must still round-trip.
	if err := dicom.Write(tmp, d.Data,
		dicom.SkipVRVerification(),
		dicom.SkipValueTypeVerification(),
		dicom.DefaultMissingTransferSyntax(),
	); err != nil {
		return fmt.Errorf("could not write DICOM: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("could not sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, info.Mode().Perm()); err != nil {
		return fmt.Errorf("could not copy permissions: %w", err)
	}
	if err := os.Rename(tmpPath, d.FilePath); err != nil {
		return fmt.Errorf("could not replace source: %w", err)
	}
	committed = true
	return nil
}
