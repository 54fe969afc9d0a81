package identity

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/google/uuid"
)

// UIDRoot is the ISO/ITU arc for UIDs derived from a UUID (PS3.5 B.2).
const UIDRoot = "2.25."

// Generator mints Picture UIDs. Implementations take no record input, so a
// generated value cannot be a function of patient attributes.
type Generator interface {
	NewPictureUID() (string, error)
}

// RandomGenerator builds UIDs from version 4 UUIDs: 122 random bits encoded
// as "2.25.<decimal>".
type RandomGenerator struct {
	// Rand is the entropy source; nil means crypto/rand.
	Rand io.Reader
}

// NewPictureUID returns a fresh UID.
func (g RandomGenerator) NewPictureUID() (string, error) {
	r := g.Rand
	if r == nil {
		r = rand.Reader
	}
	u, err := uuid.NewRandomFromReader(r)
	if err != nil {
		return "", fmt.Errorf("could not read entropy: %w", err)
	}
	n := new(big.Int).SetBytes(u[:])
	return UIDRoot + n.String(), nil
}

// IsValidUID checks the DICOM UI syntax: at most 64 characters of dotted
// numeric components without leading zeros.
func IsValidUID(uid string) bool {
	if uid == "" || len(uid) > 64 {
		return false
	}
	start := 0
	for i := 0; i <= len(uid); i++ {
		if i < len(uid) && uid[i] != '.' {
			if uid[i] < '0' || uid[i] > '9' {
				return false
			}
			continue
		}
		component := uid[start:i]
		if component == "" || (len(component) > 1 && component[0] == '0') {
			return false
		}
		start = i + 1
	}
	return true
}
