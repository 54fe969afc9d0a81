package identity

import (
	"fmt"
	"strings"
)

// Kind indicates where an identifier came from. The order of the constants is
// the resolution precedence.
type Kind string

const (
	KindSOP        Kind = "sop"
	KindPictureUID Kind = "picture_uid"
	KindSequence   Kind = "sequence"
)

// Identity is the resolved identifier of one source record.
type Identity struct {
	Kind  Kind
	Value string
	// Generated is set when Value was minted during this resolution and has
	// not been persisted yet.
	Generated bool
}

// Stable reports whether the identifier survives across runs. Sequence
// identities are scoped to a single invocation.
func (i Identity) Stable() bool {
	return i.Kind == KindSOP || i.Kind == KindPictureUID
}

func (i Identity) String() string {
	return fmt.Sprintf("%s:%s", i.Kind, i.Value)
}

// Mode controls whether missing identifiers are generated and written back.
type Mode string

const (
	// ModePersist generates missing Picture UIDs and writes them back.
	ModePersist Mode = "persist"
	// ModeEphemeral generates missing Picture UIDs without writing them back.
	ModeEphemeral Mode = "ephemeral"
	// ModeReadOnly never generates; records without an identifier get a
	// sequence number.
	ModeReadOnly Mode = "read-only"
)

// ParseMode parses a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModePersist:
		return ModePersist, nil
	case ModeEphemeral:
		return ModeEphemeral, nil
	case ModeReadOnly, "readonly":
		return ModeReadOnly, nil
	}
	return "", fmt.Errorf("unknown identity mode %q", s)
}

// Generates reports whether the mode mints new Picture UIDs.
func (m Mode) Generates() bool {
	return m == ModePersist || m == ModeEphemeral
}

// Persists reports whether the mode writes generated identifiers back.
func (m Mode) Persists() bool {
	return m == ModePersist
}
