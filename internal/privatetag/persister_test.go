package privatetag

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dcm "picture-export/internal/dicom"
	"picture-export/internal/identity"
	"picture-export/internal/source"
	"picture-export/internal/testsupport"
)

func newPersister(t *testing.T) *Persister {
	t.Helper()
	p, err := New(DefaultSlot())
	require.NoError(t, err)
	return p
}

func TestPersistRoundTripIsStable(t *testing.T) {
	dir := t.TempDir()
	path := testsupport.WriteDicom(t, dir, "scan.dcm", testsupport.DefaultFixture())
	p := newPersister(t)
	extractor := source.NewFileExtractor(DefaultSlot())

	rec, err := extractor.Extract(path)
	require.NoError(t, err)
	first, err := identity.NewResolver(identity.ModePersist, nil).Resolve(rec)
	require.NoError(t, err)
	require.True(t, first.Generated)

	outcome, err := p.Persist(path, first.Value)
	require.NoError(t, err)
	assert.Equal(t, Written, outcome)

	for run := 0; run < 5; run++ {
		rec, err := extractor.Extract(path)
		require.NoError(t, err)
		got, err := identity.NewResolver(identity.ModePersist, nil).Resolve(rec)
		require.NoError(t, err)
		assert.Equal(t, identity.KindPictureUID, got.Kind)
		assert.Equal(t, first.Value, got.Value)
		assert.False(t, got.Generated)

		assert.Equal(t, 6, rec.Pixels.Width)
		assert.Equal(t, "DOE^JANE", rec.Fields.Value(source.FieldPatientName))
	}
}

func TestPersistSameValueIsNoOp(t *testing.T) {
	dir := t.TempDir()
	path := testsupport.WriteDicom(t, dir, "scan.dcm", testsupport.DefaultFixture())
	p := newPersister(t)

	_, err := p.Persist(path, "2.25.31337")
	require.NoError(t, err)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	outcome, err := p.Persist(path, "2.25.31337")
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPersistConflictLeavesFileUnchanged(t *testing.T) {
	dir := t.TempDir()
	fx := testsupport.DefaultFixture()
	fx.PrivateCreator = DefaultCreator
	fx.PictureUID = "2.25.1111"
	path := testsupport.WriteDicom(t, dir, "scan.dcm", fx)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = newPersister(t).Persist(path, "2.25.2222")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflictingIdentity))

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "2.25.1111", conflict.Stored)
	assert.Equal(t, "2.25.2222", conflict.Proposed)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	stored, err := newPersister(t).Read(path)
	require.NoError(t, err)
	assert.Equal(t, "2.25.1111", stored)
}

func TestPersistSkipsOtherVendorsBlock(t *testing.T) {
	dir := t.TempDir()
	fx := testsupport.DefaultFixture()
	fx.PrivateCreator = "ACME IMAGING"
	path := testsupport.WriteDicom(t, dir, "scan.dcm", fx)

	_, err := newPersister(t).Persist(path, "2.25.42")
	require.NoError(t, err)

	ds, err := dcm.ReadDicomMetadataOnly(path)
	require.NoError(t, err)
	block, ok := ds.FindPrivateBlock(DefaultGroup, DefaultCreator)
	require.True(t, ok)
	assert.Equal(t, uint16(0x0011), block.Slot)

	other, ok := ds.FindPrivateBlock(DefaultGroup, "ACME IMAGING")
	require.True(t, ok)
	assert.Equal(t, uint16(0x0010), other.Slot)

	uid, ok := ds.ReadSlot(DefaultSlot())
	require.True(t, ok)
	assert.Equal(t, "2.25.42", uid)
}

func TestPersistRejectsTIFF(t *testing.T) {
	dir := t.TempDir()
	path := testsupport.WriteTIFF(t, dir, "image.tiff", 2, 2)

	_, err := newPersister(t).Persist(path, "2.25.42")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedEncoding))

	var persistErr *PersistenceError
	assert.True(t, errors.As(err, &persistErr))
	assert.False(t, errors.Is(err, ErrConflictingIdentity))
}

func TestPersistRejectsMalformedUID(t *testing.T) {
	dir := t.TempDir()
	path := testsupport.WriteDicom(t, dir, "scan.dcm", testsupport.DefaultFixture())

	_, err := newPersister(t).Persist(path, "DOE^JANE")
	assert.True(t, errors.Is(err, ErrInvalidUID))
}

func TestNewRejectsEvenGroup(t *testing.T) {
	_, err := New(dcm.PrivateSlot{Group: 0x0010, Creator: DefaultCreator, Offset: 1})
	assert.Error(t, err)

	_, err = New(dcm.PrivateSlot{Group: 0x0011, Creator: " ", Offset: 1})
	assert.Error(t, err)
}
