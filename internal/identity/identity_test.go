package identity

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"picture-export/internal/source"
)

func record(sop, pictureUID string) *source.SourceRecord {
	rec := &source.SourceRecord{SourcePath: "/data/x.dcm", PictureUID: pictureUID}
	rec.Fields.Set(source.FieldPatientName, "DOE^JANE")
	rec.Fields.Set(source.FieldPatientID, "PID-0042")
	rec.Fields.Set(source.FieldPatientBirthDate, "1970-06-15")
	rec.Fields.Set(source.FieldSOPInstanceUID, sop)
	return rec
}

func TestResolvePrecedence(t *testing.T) {
	tests := []struct {
		name       string
		sop        string
		pictureUID string
		mode       Mode
		wantKind   Kind
		wantValue  string
	}{
		{"sop wins over stored picture uid", "1.2.3", "2.25.9", ModePersist, KindSOP, "1.2.3"},
		{"sop in read-only mode", "1.2.3", "", ModeReadOnly, KindSOP, "1.2.3"},
		{"stored picture uid", "", "2.25.9", ModePersist, KindPictureUID, "2.25.9"},
		{"stored picture uid in read-only mode", "", "2.25.9", ModeReadOnly, KindPictureUID, "2.25.9"},
		{"read-only falls back to sequence", "", "", ModeReadOnly, KindSequence, "000001"},
		{"whitespace sop is absent", "  ", "2.25.9", ModePersist, KindPictureUID, "2.25.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.mode, nil)
			id, err := r.Resolve(record(tt.sop, tt.pictureUID))
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, id.Kind)
			assert.Equal(t, tt.wantValue, id.Value)
			assert.False(t, id.Generated)
		})
	}
}

func TestResolveGeneratesWhenMissing(t *testing.T) {
	for _, mode := range []Mode{ModePersist, ModeEphemeral} {
		r := NewResolver(mode, nil)
		id, err := r.Resolve(record("", ""))
		require.NoError(t, err)
		assert.Equal(t, KindPictureUID, id.Kind)
		assert.True(t, id.Generated)
		assert.True(t, strings.HasPrefix(id.Value, UIDRoot))
		assert.True(t, IsValidUID(id.Value), id.Value)
		assert.Equal(t, 1, r.Stats().Generated)
	}
}

func TestSequenceIsBatchScoped(t *testing.T) {
	first := NewResolver(ModeReadOnly, nil)
	for i := 1; i <= 3; i++ {
		id, err := first.Resolve(record("", ""))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%06d", i), id.Value)
		assert.False(t, id.Stable())
	}

	second := NewResolver(ModeReadOnly, nil)
	id, err := second.Resolve(record("", ""))
	require.NoError(t, err)
	assert.Equal(t, "000001", id.Value)
}

func TestGeneratedUIDsAreUniqueAndCarryNoPHI(t *testing.T) {
	r := NewResolver(ModePersist, nil)
	seen := make(map[string]bool, 10000)

	for i := 0; i < 10000; i++ {
		rec := record("", "")
		rec.Fields.Set(source.FieldPatientName, fmt.Sprintf("PATIENT^%d", i))
		rec.Fields.Set(source.FieldPatientID, fmt.Sprintf("%d", 900000+i))

		id, err := r.Resolve(rec)
		require.NoError(t, err)
		require.False(t, seen[id.Value], "duplicate UID %s", id.Value)
		seen[id.Value] = true

		assert.NotContains(t, id.Value, fmt.Sprintf("%d", 900000+i))
	}
}

func TestGeneratorDependsOnlyOnEntropy(t *testing.T) {
	entropy := bytes.Repeat([]byte{0xAB}, 16)

	a, err := RandomGenerator{Rand: bytes.NewReader(entropy)}.NewPictureUID()
	require.NoError(t, err)
	b, err := RandomGenerator{Rand: bytes.NewReader(entropy)}.NewPictureUID()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = RandomGenerator{Rand: bytes.NewReader(nil)}.NewPictureUID()
	assert.Error(t, err)
}

func TestLookupDoesNotConsumeSequence(t *testing.T) {
	_, ok := Lookup(record("", ""))
	assert.False(t, ok)

	id, ok := Lookup(record("", "2.25.7"))
	require.True(t, ok)
	assert.Equal(t, KindPictureUID, id.Kind)
}

func TestIsValidUID(t *testing.T) {
	assert.True(t, IsValidUID("1.2.840.10008.1.2.1"))
	assert.True(t, IsValidUID("2.25.0"))
	assert.False(t, IsValidUID(""))
	assert.False(t, IsValidUID("1..2"))
	assert.False(t, IsValidUID("1.02"))
	assert.False(t, IsValidUID("1.2.a"))
	assert.False(t, IsValidUID("1.2."))
	assert.False(t, IsValidUID(strings.Repeat("1", 65)))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModePersist, m)

	m, err = ParseMode("Read-Only")
	require.NoError(t, err)
	assert.Equal(t, ModeReadOnly, m)
	assert.False(t, m.Generates())

	_, err = ParseMode("sometimes")
	assert.Error(t, err)
}
