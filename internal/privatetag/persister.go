// Package privatetag stores Picture UIDs inside source files as a private,
// creator-scoped DICOM attribute.
package privatetag

import (
	"errors"
	"fmt"
	"os"
	"strings"

	dcm "picture-export/internal/dicom"
	"picture-export/internal/identity"
)

// Defaults for the private slot: creator "VUWindsurf" owns a block in group
// 0011 and the Picture UID sits at element offset 01, i.e. (0011,1001) when
// the creator lands in the first slot.
const (
	DefaultCreator = "VUWindsurf"
	DefaultGroup   = 0x0011
	DefaultOffset  = 0x01
)

// DefaultSlot returns the slot used when nothing is configured.
func DefaultSlot() dcm.PrivateSlot {
	return dcm.PrivateSlot{Group: DefaultGroup, Creator: DefaultCreator, Offset: DefaultOffset}
}

var (
	// ErrConflictingIdentity means the slot already holds a different UID.
	ErrConflictingIdentity = errors.New("conflicting identity")
	// ErrUnsupportedEncoding means the file cannot carry a private tag.
	ErrUnsupportedEncoding = errors.New("file encoding does not support private tags")
	// ErrInvalidUID means the value is not a well-formed UID.
	ErrInvalidUID = errors.New("invalid UID")
)

// ConflictError reports a slot that already holds another identifier.
type ConflictError struct {
	Path     string
	Stored   string
	Proposed string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already holds picture UID %s, refusing to replace with %s", e.Path, e.Stored, e.Proposed)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflictingIdentity
}

// PersistenceError reports a write-back that did not happen.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist picture UID to %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Outcome says what Persist did.
type Outcome int

const (
	// Written means the UID was added to the file.
	Written Outcome = iota
	// Unchanged means the slot already held the same UID; the file was not touched.
	Unchanged
)

// Persister reads and writes the Picture UID slot.
type Persister struct {
	slot dcm.PrivateSlot
}

// New returns a persister for slot.
func New(slot dcm.PrivateSlot) (*Persister, error) {
	if !dcm.IsPrivateGroup(slot.Group) {
		return nil, fmt.Errorf("group %04X is not a private group", slot.Group)
	}
	if strings.TrimSpace(slot.Creator) == "" {
		return nil, errors.New("private creator must not be empty")
	}
	return &Persister{slot: slot}, nil
}

// Slot returns the configured slot.
func (p *Persister) Slot() dcm.PrivateSlot {
	return p.slot
}

// Read returns the persisted UID of path, or "" when the slot is empty.
func (p *Persister) Read(path string) (string, error) {
	if dcm.DetectFormat(path) != dcm.FormatDICOM {
		return "", &PersistenceError{Path: path, Err: ErrUnsupportedEncoding}
	}
	ds, err := dcm.ReadDicomMetadataOnly(path)
	if err != nil {
		return "", &PersistenceError{Path: path, Err: err}
	}
	uid, _ := ds.ReadSlot(p.slot)
	return uid, nil
}

// Persist writes uid into path's private slot. Writing the value already
// stored is a no-op. A different stored value yields a *ConflictError and
// leaves the file untouched. Every other failure is a *PersistenceError.
//
// The file is rewritten through a temporary sibling and renamed into place.
func (p *Persister) Persist(path, uid string) (Outcome, error) {
	uid = strings.TrimSpace(uid)
	if !identity.IsValidUID(uid) {
		return 0, &PersistenceError{Path: path, Err: fmt.Errorf("%w: %q", ErrInvalidUID, uid)}
	}
	if dcm.DetectFormat(path) != dcm.FormatDICOM {
		return 0, &PersistenceError{Path: path, Err: ErrUnsupportedEncoding}
	}
	if err := checkWritable(path); err != nil {
		return 0, &PersistenceError{Path: path, Err: err}
	}

	ds, err := dcm.ReadDicom(path)
	if err != nil {
		return 0, &PersistenceError{Path: path, Err: err}
	}

	if stored, ok := ds.ReadSlot(p.slot); ok {
		if stored == uid {
			return Unchanged, nil
		}
		return 0, &ConflictError{Path: path, Stored: stored, Proposed: uid}
	}

	if err := ds.WriteSlot(p.slot, "UI", uid); err != nil {
		return 0, &PersistenceError{Path: path, Err: fmt.Errorf("%w: %v", ErrUnsupportedEncoding, err)}
	}
	if err := ds.SaveAtomic(); err != nil {
		return 0, &PersistenceError{Path: path, Err: err}
	}

	got, err := p.Read(path)
	if err != nil {
		return 0, err
	}
	if got != uid {
		return 0, &PersistenceError{Path: path, Err: fmt.Errorf("read back %q after writing %q", got, uid)}
	}
	return Written, nil
}

func checkWritable(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("source is not writable: %w", err)
	}
	return f.Close()
}
