package progress

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerResume(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "scan.dcm")
	require.NoError(t, os.WriteFile(src, []byte("dicm"), 0o644))

	ledger, err := OpenLedger(filepath.Join(dir, "state", "ledger.db"))
	require.NoError(t, err)
	defer ledger.Close()

	require.NoError(t, ledger.BeginRun(ctx, "run-1", dir))

	ok, err := ledger.IsRecorded(ctx, src)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, ledger.MarkRecorded(ctx, Entry{
		SourcePath:    src,
		IdentityKind:  "picture_uid",
		IdentityValue: "2.25.5",
		ImagePath:     "/out/images/2.25.5.tiff",
		RunID:         "run-1",
	}))
	ok, err = ledger.IsRecorded(ctx, src)
	require.NoError(t, err)
	assert.True(t, ok)

	entry, found, err := ledger.Get(ctx, src)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2.25.5", entry.IdentityValue)
	assert.Equal(t, StatusRecorded, entry.Status)

	// A modified source is exported again.
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(src, later, later))
	ok, err = ledger.IsRecorded(ctx, src)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, ledger.FinishRun(ctx, "run-1", RunCounts{Total: 1, Recorded: 1}))
}

func TestLedgerFailedEntries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ledger, err := OpenLedger(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	defer ledger.Close()

	require.NoError(t, ledger.MarkFailed(ctx, "run-1", "/in/a.dcm", "extract", "unsupported transfer syntax"))
	require.NoError(t, ledger.MarkFailed(ctx, "run-1", "/in/b.dcm", "persist", "read-only"))

	ok, err := ledger.IsRecorded(ctx, "/in/a.dcm")
	require.NoError(t, err)
	assert.False(t, ok)

	recorded, failed, err := ledger.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, recorded)
	assert.Equal(t, 2, failed)

	n, err := ledger.ClearFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestErrorLoggerLineFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "errors.log")
	logger, err := NewErrorLogger(path)
	require.NoError(t, err)
	logger.now = func() time.Time { return time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC) }

	logger.Log("/in/a.dcm", "extract", "bad\nfile")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-14T10:00:00Z | /in/a.dcm | extract | bad file\n", string(data))
	assert.Equal(t, 1, logger.ErrorCount())
	assert.True(t, strings.HasSuffix(logger.Summary(), path))
}

func TestErrorLoggerInMemory(t *testing.T) {
	logger, err := NewErrorLogger("")
	require.NoError(t, err)
	assert.Equal(t, "No errors", logger.Summary())
	logger.Log("x", "write", "disk full")
	assert.Equal(t, "1 errors", logger.Summary())
	require.Len(t, logger.Entries(), 1)
	assert.Equal(t, "write", logger.Entries()[0].Stage)
}
