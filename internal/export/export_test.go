package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dcm "picture-export/internal/dicom"
	"picture-export/internal/identity"
	"picture-export/internal/naming"
	"picture-export/internal/privatetag"
	"picture-export/internal/source"
	"picture-export/internal/testsupport"
)

func newConfig(in, out string, mode identity.Mode) Config {
	return Config{
		Inputs:     []string{in},
		Recursive:  true,
		Layout:     naming.NewLayout(out),
		Mode:       mode,
		Slot:       privatetag.DefaultSlot(),
		Deidentify: true,
		Sidecar:    true,
		CSV:        true,
		Workers:    2,
	}
}

func runExport(t *testing.T, cfg Config) *Report {
	t.Helper()
	exp, err := New(cfg)
	require.NoError(t, err)
	report, err := exp.Run(context.Background())
	require.NoError(t, err)
	return report
}

func withSOP(uid string) testsupport.DicomFixture {
	fx := testsupport.DefaultFixture()
	fx.SOPInstanceUID = uid
	return fx
}

func readSidecar(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestRunPartialFailureIsolation(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	testsupport.WriteDicom(t, in, "a.dcm", withSOP("1.2.3.1"))
	bad := withSOP("1.2.3.2")
	bad.TransferSyntax = "1.2.840.10008.1.2.4.90"
	badPath := testsupport.WriteDicom(t, in, "b.dcm", bad)
	testsupport.WriteDicom(t, in, "c.dcm", withSOP("1.2.3.3"))

	report := runExport(t, newConfig(in, out, identity.ModeReadOnly))

	assert.Equal(t, 3, report.Stats.Total)
	assert.Equal(t, 2, report.Stats.Recorded)
	assert.Equal(t, 1, report.Stats.Failed)

	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, badPath, failures[0].Source)
	assert.Equal(t, StageExtract, failures[0].Err.Stage)
	assert.Equal(t, KindExtraction, failures[0].Err.Kind)
	assert.True(t, errors.Is(failures[0].Err, source.ErrUnsupportedTransferSyntax))

	images := filepath.Join(out, naming.ImagesDir)
	assert.FileExists(t, filepath.Join(images, "1.2.3.1.tiff"))
	assert.FileExists(t, filepath.Join(images, "1.2.3.1.json"))
	assert.FileExists(t, filepath.Join(images, "1.2.3.3.tiff"))
	assert.NoFileExists(t, filepath.Join(images, "1.2.3.2.tiff"))

	jsonl, err := os.ReadFile(filepath.Join(out, "metadata.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(jsonl), "\n"))
	assert.FileExists(t, filepath.Join(out, "metadata.csv"))

	errLog, err := os.ReadFile(report.ErrorLog)
	require.NoError(t, err)
	assert.Contains(t, string(errLog), badPath)
	assert.Contains(t, string(errLog), "| extract |")
}

func TestRunRecordsAreDeidentified(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	testsupport.WriteDicom(t, in, "a.dcm", withSOP("1.2.3.1"))

	cfg := newConfig(in, out, identity.ModeReadOnly)
	cfg.FullAggregate = true
	report := runExport(t, cfg)
	require.Equal(t, 1, report.Stats.Recorded)

	sidecar := readSidecar(t, filepath.Join(out, naming.ImagesDir, "1.2.3.1.json"))
	assert.NotContains(t, sidecar, "patient_name")
	assert.NotContains(t, sidecar, "patient_id")
	assert.NotContains(t, sidecar, "patient_birth_date")
	assert.Equal(t, true, sidecar["deidentified"])
	assert.Equal(t, "1.2.3.1.tiff", sidecar["export_image"])
	assert.Equal(t, "a.dcm", sidecar["source_file"])
	assert.Equal(t, "sop", sidecar["identity_kind"])

	full, err := os.ReadFile(filepath.Join(out, "metadata_full.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(full), "DOE^JANE")

	exported, err := os.ReadFile(filepath.Join(out, "metadata.jsonl"))
	require.NoError(t, err)
	assert.NotContains(t, string(exported), "DOE^JANE")
}

func TestRunPersistsGeneratedUID(t *testing.T) {
	in := t.TempDir()
	path := testsupport.WriteDicom(t, in, "scan.dcm", testsupport.DefaultFixture())

	first := runExport(t, newConfig(in, t.TempDir(), identity.ModePersist))
	require.Equal(t, 1, first.Stats.Recorded)
	item := first.Items[0]
	assert.Equal(t, identity.KindPictureUID, item.Identity.Kind)
	assert.True(t, item.Identity.Generated)
	assert.True(t, item.Persisted)
	assert.True(t, item.Durable)
	assert.Equal(t, 1, first.Stats.Generated)

	p, err := privatetag.New(privatetag.DefaultSlot())
	require.NoError(t, err)
	stored, err := p.Read(path)
	require.NoError(t, err)
	assert.Equal(t, item.Identity.Value, stored)

	for i := 0; i < 3; i++ {
		again := runExport(t, newConfig(in, t.TempDir(), identity.ModePersist))
		require.Equal(t, 1, again.Stats.Recorded)
		assert.Equal(t, item.Identity.Value, again.Items[0].Identity.Value)
		assert.False(t, again.Items[0].Identity.Generated)
	}
}

func TestRunEphemeralIsNotDurable(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	path := testsupport.WriteDicom(t, in, "scan.dcm", testsupport.DefaultFixture())
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	report := runExport(t, newConfig(in, out, identity.ModeEphemeral))
	require.Equal(t, 1, report.Stats.Recorded)
	item := report.Items[0]
	assert.False(t, item.Durable)
	assert.False(t, item.Persisted)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "ephemeral mode must not touch the source")

	sidecar := readSidecar(t, item.Target.SidecarPath)
	assert.Equal(t, false, sidecar["identity_durable"])
	assert.Equal(t, item.Identity.Value, sidecar["picture_uid"])
}

func TestRunReadOnlyUsesSequence(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	testsupport.WriteDicom(t, in, "a.dcm", testsupport.DefaultFixture())
	testsupport.WriteDicom(t, in, "b.dcm", testsupport.DefaultFixture())

	report := runExport(t, newConfig(in, out, identity.ModeReadOnly))
	require.Equal(t, 2, report.Stats.Recorded)

	images := filepath.Join(out, naming.ImagesDir)
	assert.FileExists(t, filepath.Join(images, "000001.tiff"))
	assert.FileExists(t, filepath.Join(images, "000002.tiff"))

	sidecar := readSidecar(t, filepath.Join(images, "000001.json"))
	assert.NotContains(t, sidecar, "picture_uid")
	assert.Equal(t, "sequence", sidecar["identity_kind"])
	assert.Equal(t, false, sidecar["identity_durable"])
}

func TestRunNeverOverwritesPreviousExports(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	testsupport.WriteDicom(t, in, "a.dcm", withSOP("1.2.3.1"))

	runExport(t, newConfig(in, out, identity.ModeReadOnly))
	original, err := os.ReadFile(filepath.Join(out, naming.ImagesDir, "1.2.3.1.tiff"))
	require.NoError(t, err)

	report := runExport(t, newConfig(in, out, identity.ModeReadOnly))
	require.Equal(t, 1, report.Stats.Recorded)
	assert.Equal(t, "1.2.3.1-2", report.Items[0].Target.Stem)
	assert.FileExists(t, filepath.Join(out, naming.ImagesDir, "1.2.3.1-2.tiff"))
	assert.Contains(t, report.Aggregates, filepath.Join(out, "metadata-2.jsonl"))

	unchanged, err := os.ReadFile(filepath.Join(out, naming.ImagesDir, "1.2.3.1.tiff"))
	require.NoError(t, err)
	assert.Equal(t, original, unchanged)
}

func TestRunResumeSkipsRecordedSources(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	testsupport.WriteDicom(t, in, "a.dcm", withSOP("1.2.3.1"))

	cfg := newConfig(in, out, identity.ModeReadOnly)
	cfg.Resume = true
	runExport(t, cfg)

	report := runExport(t, cfg)
	assert.Equal(t, 1, report.Stats.Skipped)
	assert.Equal(t, StateSkipped, report.Items[0].State)
	assert.Empty(t, report.Aggregates)
	assert.NoFileExists(t, filepath.Join(out, naming.ImagesDir, "1.2.3.1-2.tiff"))
}

type fakePersister struct {
	err error
}

func (f fakePersister) Persist(path, uid string) (privatetag.Outcome, error) {
	return 0, f.err
}

func TestRunConflictFailsOnlyThatItem(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	testsupport.WriteDicom(t, in, "a.dcm", testsupport.DefaultFixture())
	testsupport.WriteDicom(t, in, "b.dcm", withSOP("1.2.3.9"))

	cfg := newConfig(in, out, identity.ModePersist)
	cfg.Persister = fakePersister{err: &privatetag.ConflictError{Path: "a.dcm", Stored: "2.25.1", Proposed: "2.25.2"}}
	report := runExport(t, cfg)

	assert.Equal(t, 1, report.Stats.Recorded)
	assert.Equal(t, 1, report.Stats.Failed)
	failed := report.Failures()[0]
	assert.Equal(t, KindConflictingIdentity, failed.Err.Kind)
	assert.Equal(t, StagePersist, failed.Err.Stage)
}

func TestRunPersistenceFailureKeepsExport(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	testsupport.WriteDicom(t, in, "a.dcm", testsupport.DefaultFixture())

	cfg := newConfig(in, out, identity.ModePersist)
	cfg.Persister = fakePersister{err: &privatetag.PersistenceError{Path: "a.dcm", Err: os.ErrPermission}}
	report := runExport(t, cfg)

	require.Equal(t, 1, report.Stats.Recorded)
	item := report.Items[0]
	assert.False(t, item.Durable)
	require.Len(t, item.Warnings, 1)
	assert.Equal(t, KindPersistence, item.Warnings[0].Kind)

	sidecar := readSidecar(t, item.Target.SidecarPath)
	assert.Equal(t, false, sidecar["identity_durable"])
}

type cancellingExtractor struct {
	inner  source.Extractor
	cancel context.CancelFunc
	calls  int
}

func (c *cancellingExtractor) Extract(path string) (*source.SourceRecord, error) {
	c.calls++
	rec, err := c.inner.Extract(path)
	c.cancel()
	return rec, err
}

func TestRunCancellationBetweenItems(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	testsupport.WriteDicom(t, in, "a.dcm", withSOP("1.2.3.1"))
	testsupport.WriteDicom(t, in, "b.dcm", withSOP("1.2.3.2"))
	testsupport.WriteDicom(t, in, "c.dcm", withSOP("1.2.3.3"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	extractor := &cancellingExtractor{inner: source.NewFileExtractor(privatetag.DefaultSlot()), cancel: cancel}

	cfg := newConfig(in, out, identity.ModeReadOnly)
	cfg.Extractor = extractor
	exp, err := New(cfg)
	require.NoError(t, err)
	report, err := exp.Run(ctx)
	require.NoError(t, err)

	assert.True(t, report.Cancelled)
	assert.Equal(t, 1, extractor.calls)
	assert.Equal(t, 1, report.Stats.Recorded, "the item in progress finishes")
	assert.Equal(t, 2, report.Stats.Skipped)
	assert.FileExists(t, filepath.Join(out, naming.ImagesDir, "1.2.3.1.json"))
}

func TestRunDryRunWritesNothing(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "export")
	path := testsupport.WriteDicom(t, in, "a.dcm", testsupport.DefaultFixture())
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	cfg := newConfig(in, out, identity.ModePersist)
	cfg.DryRun = true
	report := runExport(t, cfg)

	assert.Equal(t, 1, report.Stats.Planned)
	assert.Equal(t, StateNamed, report.Items[0].State)
	assert.NoDirExists(t, out)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

type fakeMirror struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakeMirror) Upload(ctx context.Context, localPath, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, filepath.ToSlash(key))
	return nil
}

func TestRunMirrorsExports(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	testsupport.WriteDicom(t, in, "a.dcm", withSOP("1.2.3.1"))

	mirror := &fakeMirror{}
	cfg := newConfig(in, out, identity.ModeReadOnly)
	cfg.Mirror = mirror
	runExport(t, cfg)
	assert.ElementsMatch(t, []string{"images/1.2.3.1.tiff", "images/1.2.3.1.json"}, mirror.keys)

	failing := &fakeMirror{err: errors.New("bucket gone")}
	cfg = newConfig(in, t.TempDir(), identity.ModeReadOnly)
	cfg.Mirror = failing
	report := runExport(t, cfg)
	assert.Equal(t, 1, report.Stats.Recorded, "mirror failures never fail an item")
	assert.Equal(t, 2, report.Stats.Warnings)
}

func TestRunReportsProgress(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	testsupport.WriteDicom(t, in, "a.dcm", withSOP("1.2.3.1"))
	bad := withSOP("1.2.3.2")
	bad.TransferSyntax = "1.2.840.10008.1.2.4.90"
	testsupport.WriteDicom(t, in, "b.dcm", bad)

	var updates []Progress
	cfg := newConfig(in, out, identity.ModeReadOnly)
	cfg.Progress = func(p Progress) { updates = append(updates, p) }
	runExport(t, cfg)

	require.Len(t, updates, 2)
	last := updates[len(updates)-1]
	assert.Equal(t, 2, last.Completed)
	assert.Equal(t, 2, last.Total)
	assert.Equal(t, 1, last.Failed)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	in := t.TempDir()

	_, err := New(newConfig(filepath.Join(in, "missing"), t.TempDir(), identity.ModePersist))
	assert.True(t, errors.Is(err, ErrFatalConfig))

	_, err = New(newConfig(in, "", identity.ModePersist))
	assert.True(t, errors.Is(err, ErrFatalConfig))

	_, err = New(newConfig(in, t.TempDir(), identity.Mode("sometimes")))
	assert.True(t, errors.Is(err, ErrFatalConfig))

	cfg := newConfig(in, t.TempDir(), identity.ModePersist)
	cfg.Slot = dcm.PrivateSlot{Group: 0x0010, Creator: "X", Offset: 1}
	_, err = New(cfg)
	assert.True(t, errors.Is(err, ErrFatalConfig))
}

func TestRunLockedOutputIsFatal(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	testsupport.WriteDicom(t, in, "a.dcm", withSOP("1.2.3.1"))

	held, err := naming.LockDir(context.Background(), naming.NewLayout(out))
	require.NoError(t, err)
	defer held.Unlock()

	exp, err := New(newConfig(in, out, identity.ModeReadOnly))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = exp.Run(ctx)
	assert.True(t, errors.Is(err, ErrFatalConfig))
	assert.NoFileExists(t, filepath.Join(out, naming.ImagesDir, "1.2.3.1.tiff"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"extraction", &source.ExtractionError{Path: "x", Err: source.ErrUnrecognizedFormat}, KindExtraction},
		{"conflict", &privatetag.ConflictError{Path: "x", Stored: "1", Proposed: "2"}, KindConflictingIdentity},
		{"persistence", &privatetag.PersistenceError{Path: "x", Err: privatetag.ErrUnsupportedEncoding}, KindPersistence},
		{"naming", naming.ErrNamingExhausted, KindNamingExhaustion},
		{"fatal", fatalf("bad"), KindFatalConfig},
		{"write", os.ErrPermission, KindIOWrite},
		{"item error keeps kind", &ItemError{Kind: KindPersistence, Err: os.ErrClosed}, KindPersistence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatePending, StateExtracted))
	assert.True(t, CanTransition(StateResolved, StateNamed))
	assert.True(t, CanTransition(StateResolved, StatePersisted))
	assert.True(t, CanTransition(StateNamed, StateFailed))
	assert.False(t, CanTransition(StatePending, StateNamed))
	assert.False(t, CanTransition(StateRecorded, StateFailed))
	assert.False(t, CanTransition(StateSkipped, StateExtracted))
}
