package export

import (
	"errors"
	"fmt"

	"picture-export/internal/naming"
	"picture-export/internal/privatetag"
	"picture-export/internal/source"
)

// Kind classifies a failure.
type Kind string

const (
	KindExtraction          Kind = "extraction"
	KindConflictingIdentity Kind = "conflicting_identity"
	KindPersistence         Kind = "persistence"
	KindNamingExhaustion    Kind = "naming_exhaustion"
	KindIOWrite             Kind = "io_write"
	KindFatalConfig         Kind = "fatal_config"
)

// ErrFatalConfig aborts a run before any item is processed.
var ErrFatalConfig = errors.New("fatal configuration error")

func fatalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFatalConfig, fmt.Sprintf(format, args...))
}

// Classify maps an error onto the failure taxonomy. Errors that match no
// specific class are write failures.
func Classify(err error) Kind {
	var (
		itemErr    *ItemError
		extractErr *source.ExtractionError
		persistErr *privatetag.PersistenceError
	)
	switch {
	case errors.As(err, &itemErr) && itemErr.Kind != "":
		return itemErr.Kind
	case errors.Is(err, ErrFatalConfig):
		return KindFatalConfig
	case errors.As(err, &extractErr):
		return KindExtraction
	case errors.Is(err, privatetag.ErrConflictingIdentity):
		return KindConflictingIdentity
	case errors.As(err, &persistErr):
		return KindPersistence
	case errors.Is(err, naming.ErrNamingExhausted):
		return KindNamingExhaustion
	}
	return KindIOWrite
}

// Stage names the pipeline step an item failed in.
type Stage string

const (
	StageExtract      Stage = "extract"
	StageResolve      Stage = "resolve"
	StagePersist      Stage = "persist"
	StageName         Stage = "name"
	StageWriteImage   Stage = "write_image"
	StageWriteSidecar Stage = "write_sidecar"
	StageMirror       Stage = "mirror"
)

// ItemError is a per-item failure with its stage and class.
type ItemError struct {
	Source string
	Stage  Stage
	Kind   Kind
	Err    error
}

func newItemError(src string, stage Stage, err error) *ItemError {
	return &ItemError{Source: src, Stage: stage, Kind: Classify(err), Err: err}
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %s (%s): %v", e.Source, e.Stage, e.Kind, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}
