// Package export runs a batch of sources through extraction, identity
// resolution, write-back, naming and the image and metadata writers.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	dcm "picture-export/internal/dicom"
	"picture-export/internal/identity"
	"picture-export/internal/imaging"
	"picture-export/internal/metadata"
	"picture-export/internal/naming"
	"picture-export/internal/privatetag"
	"picture-export/internal/progress"
	"picture-export/internal/source"
	"picture-export/internal/storage"
)

// AggregateBase is the stem of the batch-level metadata files.
const AggregateBase = "metadata"

// Persister writes a generated Picture UID back into its source.
type Persister interface {
	Persist(path, uid string) (privatetag.Outcome, error)
}

// Config holds the settings of one run.
type Config struct {
	Inputs    []string
	Recursive bool
	Exclude   []string

	Layout naming.Layout
	Mode   identity.Mode
	Slot   dcm.PrivateSlot

	Deidentify    bool
	PHIFields     []string
	Sidecar       bool
	CSV           bool
	FullAggregate bool
	Imaging       imaging.Options

	// Workers bounds the number of items being written at once.
	Workers int
	Resume  bool
	// DryRun extracts, resolves and names without touching any file.
	DryRun bool

	Mirror   storage.Mirror
	Logger   *zerolog.Logger
	Progress ProgressFunc

	// Extractor, Generator and Persister default to the file-backed
	// implementations.
	Extractor source.Extractor
	Generator identity.Generator
	Persister Persister
}

// Exporter runs batches.
type Exporter struct {
	cfg    Config
	log    zerolog.Logger
	policy metadata.Policy
}

// New validates cfg. Any error wraps ErrFatalConfig.
func New(cfg Config) (*Exporter, error) {
	if len(cfg.Inputs) == 0 {
		return nil, fatalf("no input given")
	}
	for _, in := range cfg.Inputs {
		if _, err := os.Stat(in); err != nil {
			return nil, fatalf("input %s: %v", in, err)
		}
	}
	if cfg.Layout.Root == "" {
		return nil, fatalf("output directory is required")
	}
	if cfg.Layout.ImageExt == "" || cfg.Layout.SidecarExt == "" || cfg.Layout.MaxStemLength <= 0 || cfg.Layout.MaxProbe < 2 {
		return nil, fatalf("incomplete output layout")
	}
	if _, err := identity.ParseMode(string(cfg.Mode)); err != nil {
		return nil, fatalf("%v", err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Mode == "" {
		cfg.Mode = identity.ModePersist
	}

	if cfg.Extractor == nil {
		cfg.Extractor = source.NewFileExtractor(cfg.Slot)
	}
	if cfg.Persister == nil && cfg.Mode.Persists() {
		p, err := privatetag.New(cfg.Slot)
		if err != nil {
			return nil, fatalf("private tag: %v", err)
		}
		cfg.Persister = p
	}

	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &Exporter{
		cfg:    cfg,
		log:    log.With().Str("component", "export").Logger(),
		policy: metadata.NewPolicy(cfg.PHIFields...),
	}, nil
}

// run is the mutable state of one batch.
type run struct {
	id       string
	resolver *identity.Resolver
	claims   *naming.Claims
	agg      *metadata.Aggregate
	ledger   *progress.Ledger
	errlog   *progress.ErrorLogger
	results  []ItemResult

	mu        sync.Mutex
	completed int
	failed    int
}

// Run exports every source found under the configured inputs. The returned
// error is non-nil only for failures that prevented the batch from running;
// per-item failures are in the report.
func (e *Exporter) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	layout := e.cfg.Layout

	root, err := filepath.Abs(layout.Root)
	if err != nil {
		return nil, fatalf("output directory: %v", err)
	}
	layout.Root = root

	paths, err := e.discover(root)
	if err != nil {
		return nil, err
	}

	// Writes and ledger updates must finish even after cancellation so no
	// item is left half written.
	writeCtx := context.WithoutCancel(ctx)

	r := &run{
		id:       uuid.NewString(),
		resolver: identity.NewResolver(e.cfg.Mode, e.cfg.Generator),
		agg:      &metadata.Aggregate{},
		results:  make([]ItemResult, len(paths)),
	}

	logPath := ""
	if !e.cfg.DryRun {
		if err := os.MkdirAll(layout.ImageDir(), 0o755); err != nil {
			return nil, fatalf("create output directory: %v", err)
		}
		lock, err := naming.LockDir(ctx, layout)
		if err != nil {
			return nil, fatalf("%v", err)
		}
		defer lock.Unlock()

		ledger, err := progress.OpenLedger(layout.StatePath("ledger.db"))
		if err != nil {
			return nil, fatalf("%v", err)
		}
		defer ledger.Close()
		if err := ledger.BeginRun(writeCtx, r.id, root); err != nil {
			return nil, fatalf("%v", err)
		}
		r.ledger = ledger
		logPath = layout.StatePath("errors.log")
	}
	r.errlog, err = progress.NewErrorLogger(logPath)
	if err != nil {
		return nil, fatalf("%v", err)
	}
	defer r.errlog.Close()

	r.claims, err = naming.ScanDir(layout.ImageDir())
	if err != nil {
		return nil, fatalf("%v", err)
	}

	e.log.Info().
		Str("run_id", r.id).
		Str("output", root).
		Str("mode", string(e.cfg.Mode)).
		Int("sources", len(paths)).
		Bool("dry_run", e.cfg.DryRun).
		Msg("export started")

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)

	cancelled := false
	for i, path := range paths {
		r.results[i] = ItemResult{Index: i, Source: path, State: StatePending}
		res := &r.results[i]

		if !cancelled && ctx.Err() != nil {
			cancelled = true
			e.log.Warn().Int("remaining", len(paths)-i).Msg("export cancelled, skipping remaining sources")
		}
		if cancelled {
			res.State, res.Reason = StateSkipped, "cancelled"
			e.finish(r, res)
			continue
		}

		it := e.prepare(ctx, r, layout, res)
		if it == nil {
			continue
		}
		if e.cfg.DryRun {
			e.finish(r, res)
			continue
		}
		g.Go(func() error {
			e.write(writeCtx, r, it)
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{
		RunID:     r.id,
		OutputDir: root,
		DryRun:    e.cfg.DryRun,
		Cancelled: cancelled,
		Items:     r.results,
		ErrorLog:  r.errlog.Path(),
		Started:   started,
	}
	if !e.cfg.DryRun {
		report.Aggregates, report.Problems = e.writeAggregates(layout, r.agg)
	}
	report.Stats = tally(r.results)
	report.Duration = time.Since(started)

	if r.ledger != nil {
		counts := progress.RunCounts{
			Total:    report.Stats.Total,
			Recorded: report.Stats.Recorded,
			Failed:   report.Stats.Failed,
			Skipped:  report.Stats.Skipped,
		}
		if err := r.ledger.FinishRun(writeCtx, r.id, counts); err != nil {
			report.Problems = append(report.Problems, err.Error())
		}
	}

	e.log.Info().
		Str("run_id", r.id).
		Int("recorded", report.Stats.Recorded).
		Int("failed", report.Stats.Failed).
		Int("skipped", report.Stats.Skipped).
		Dur("duration", report.Duration).
		Msg("export finished")
	return report, nil
}

func (e *Exporter) discover(root string) ([]string, error) {
	var paths []string
	seen := make(map[string]bool)
	for _, in := range e.cfg.Inputs {
		exclude := append([]string{root}, e.cfg.Exclude...)
		found, err := dcm.FindSourceFiles(in, e.cfg.Recursive, exclude...)
		if err != nil {
			return nil, fatalf("scan %s: %v", in, err)
		}
		for _, p := range found {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	return paths, nil
}

// item is a claimed source waiting to be written.
type item struct {
	res     *ItemResult
	rec     *source.SourceRecord
	records metadata.Records
}

// prepare runs the sequential stages of one source. It returns nil when the
// item reached a terminal state.
func (e *Exporter) prepare(ctx context.Context, r *run, layout naming.Layout, res *ItemResult) *item {
	log := e.log.With().Int("index", res.Index).Str("source", filepath.Base(res.Source)).Logger()

	if e.cfg.Resume && r.ledger != nil {
		done, err := r.ledger.IsRecorded(ctx, res.Source)
		if err != nil {
			log.Warn().Err(err).Msg("could not check ledger")
		}
		if done {
			res.State, res.Reason = StateSkipped, "unchanged since last export"
			log.Debug().Msg("skipping recorded source")
			e.finish(r, res)
			return nil
		}
	}

	rec, err := e.cfg.Extractor.Extract(res.Source)
	if err != nil {
		e.fail(ctx, r, res, StageExtract, err)
		return nil
	}
	res.State = StateExtracted

	id, err := r.resolver.Resolve(rec)
	if err != nil {
		e.fail(ctx, r, res, StageResolve, err)
		return nil
	}
	res.Identity = id
	res.Durable = id.Stable()
	res.State = StateResolved
	log = log.With().Str("identity", id.String()).Logger()

	if id.Generated && !e.persist(ctx, r, res, log) {
		return nil
	}

	target, err := naming.ResolveTarget(layout, id, r.claims)
	if err != nil {
		e.fail(ctx, r, res, StageName, err)
		return nil
	}
	res.Target = target
	res.State = StateNamed
	log.Debug().Str("stem", target.Stem).Msg("name claimed")

	records := metadata.Build(rec, id, target, metadata.BuildOptions{
		Deidentify: e.cfg.Deidentify,
		Policy:     e.policy,
		Durable:    res.Durable,
	})
	return &item{res: res, rec: rec, records: records}
}

// persist writes a generated identity back to its source. It returns false
// when the item failed.
func (e *Exporter) persist(ctx context.Context, r *run, res *ItemResult, log zerolog.Logger) bool {
	if !e.cfg.Mode.Persists() || e.cfg.DryRun {
		res.Durable = false
		return true
	}
	outcome, err := e.cfg.Persister.Persist(res.Source, res.Identity.Value)
	if err != nil {
		var conflict *privatetag.ConflictError
		if errors.As(err, &conflict) {
			log.Error().
				Str("stored", conflict.Stored).
				Str("proposed", conflict.Proposed).
				Msg("source already carries a different picture UID")
			e.fail(ctx, r, res, StagePersist, err)
			return false
		}
		res.Durable = false
		res.Warnings = append(res.Warnings, newItemError(res.Source, StagePersist, err))
		log.Warn().Err(err).Msg("picture UID not written back, identity is not durable")
		return true
	}
	res.Persisted = outcome == privatetag.Written
	res.State = StatePersisted
	return true
}

// write produces the image and sidecar of a claimed item and records it.
func (e *Exporter) write(ctx context.Context, r *run, it *item) {
	res := it.res
	log := e.log.With().Int("index", res.Index).Str("image", res.Target.ImageName()).Logger()

	if err := imaging.WriteFile(res.Target.ImagePath, it.rec.Pixels, e.cfg.Imaging); err != nil {
		e.fail(ctx, r, res, StageWriteImage, err)
		return
	}
	if e.cfg.Sidecar {
		if err := metadata.WriteSidecar(res.Target.SidecarPath, it.records.Export()); err != nil {
			_ = os.Remove(res.Target.ImagePath)
			e.fail(ctx, r, res, StageWriteSidecar, err)
			return
		}
	}
	res.State = StateExported
	r.agg.Add(res.Index, it.records)

	if r.ledger != nil {
		err := r.ledger.MarkRecorded(ctx, progress.Entry{
			SourcePath:    res.Source,
			IdentityKind:  string(res.Identity.Kind),
			IdentityValue: res.Identity.Value,
			ImagePath:     res.Target.ImagePath,
			RunID:         r.id,
		})
		if err != nil {
			log.Warn().Err(err).Msg("could not update ledger")
		}
	}
	res.State = StateRecorded
	log.Info().
		Str("kind", string(res.Identity.Kind)).
		Bool("durable", res.Durable).
		Msg("exported")

	if e.cfg.Mirror != nil {
		e.mirror(ctx, res, log)
	}
	e.finish(r, res)
}

func (e *Exporter) mirror(ctx context.Context, res *ItemResult, log zerolog.Logger) {
	files := []string{res.Target.ImagePath}
	if e.cfg.Sidecar {
		files = append(files, res.Target.SidecarPath)
	}
	for _, f := range files {
		key := filepath.Join(naming.ImagesDir, filepath.Base(f))
		if err := e.cfg.Mirror.Upload(ctx, f, key); err != nil {
			res.Warnings = append(res.Warnings, newItemError(res.Source, StageMirror, err))
			log.Warn().Err(err).Str("key", key).Msg("mirror upload failed")
		}
	}
}

func (e *Exporter) writeAggregates(layout naming.Layout, agg *metadata.Aggregate) ([]string, []string) {
	if agg.Len() == 0 {
		return nil, nil
	}
	stem, err := naming.ClaimAggregate(layout, AggregateBase)
	if err != nil {
		e.log.Error().Err(err).Msg("could not name metadata aggregate")
		return nil, []string{err.Error()}
	}

	var written, problems []string
	emit := func(path string, write func(string, []metadata.Record) error, recs []metadata.Record) {
		if err := write(path, recs); err != nil {
			e.log.Error().Err(err).Str("path", path).Msg("could not write metadata aggregate")
			problems = append(problems, err.Error())
			return
		}
		written = append(written, path)
	}

	base := filepath.Join(layout.Root, stem)
	exported := agg.Export()
	emit(base+".jsonl", metadata.WriteJSONL, exported)
	if e.cfg.CSV {
		emit(base+".csv", metadata.WriteCSV, exported)
	}
	if e.cfg.Deidentify && e.cfg.FullAggregate {
		emit(base+"_full.jsonl", metadata.WriteJSONL, agg.Full())
	}
	return written, problems
}

func (e *Exporter) fail(ctx context.Context, r *run, res *ItemResult, stage Stage, err error) {
	ie := newItemError(res.Source, stage, err)
	res.Err = ie
	res.State = StateFailed

	ev := e.log.Warn()
	if ie.Kind == KindConflictingIdentity {
		ev = e.log.Error()
	}
	ev.Str("source", filepath.Base(res.Source)).
		Str("stage", string(stage)).
		Str("kind", string(ie.Kind)).
		Err(err).
		Msg("item failed")

	r.errlog.Log(res.Source, string(stage), err.Error())
	if r.ledger != nil {
		if lerr := r.ledger.MarkFailed(context.WithoutCancel(ctx), r.id, res.Source, string(stage), err.Error()); lerr != nil {
			e.log.Warn().Err(lerr).Msg("could not update ledger")
		}
	}
	e.finish(r, res)
}

// finish reports an item that reached a terminal state, or a dry-run item
// that was named.
func (e *Exporter) finish(r *run, res *ItemResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
	if res.State == StateFailed {
		r.failed++
	}
	if e.cfg.Progress != nil {
		e.cfg.Progress(Progress{
			Completed: r.completed,
			Total:     len(r.results),
			Failed:    r.failed,
			Source:    res.Source,
			State:     res.State,
		})
	}
}

func tally(results []ItemResult) Stats {
	s := Stats{Total: len(results)}
	for _, res := range results {
		switch res.State {
		case StateRecorded:
			s.Recorded++
		case StateFailed:
			s.Failed++
		case StateSkipped:
			s.Skipped++
		case StateNamed:
			s.Planned++
		}
		s.Warnings += len(res.Warnings)
		if res.Identity.Generated {
			s.Generated++
		}
		if res.Persisted {
			s.Persisted++
		}
	}
	return s
}

// String formats the counts on one line.
func (s Stats) String() string {
	return fmt.Sprintf("%d total, %d recorded, %d failed, %d skipped", s.Total, s.Recorded, s.Failed, s.Skipped)
}
