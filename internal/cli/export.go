package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"picture-export/internal/config"
	dcm "picture-export/internal/dicom"
	"picture-export/internal/export"
	"picture-export/internal/identity"
	"picture-export/internal/imaging"
	"picture-export/internal/naming"
	"picture-export/internal/storage"
)

// exportFlags override configuration values when set on the command line.
type exportFlags struct {
	output           string
	mode             string
	workers          int
	dryRun           bool
	resume           bool
	deidentify       bool
	csv              bool
	sidecar          bool
	recursive        bool
	preserveBitDepth bool
	mirror           bool
}

func (f *exportFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.output, "output", "o", "", "Export root directory")
	fs.StringVar(&f.mode, "mode", "", "Identity mode (persist, ephemeral, read-only)")
	fs.IntVarP(&f.workers, "workers", "w", 0, "Concurrent image writers")
	fs.BoolVarP(&f.dryRun, "dry-run", "n", false, "Resolve and name exports without writing anything")
	fs.BoolVar(&f.resume, "resume", false, "Skip sources recorded by a previous run and unchanged since")
	fs.BoolVar(&f.deidentify, "deidentify", true, "Remove PHI from sidecars and the main aggregate")
	fs.BoolVar(&f.csv, "csv", true, "Also write the aggregate as CSV")
	fs.BoolVar(&f.sidecar, "sidecar", true, "Write a JSON sidecar next to each image")
	fs.BoolVarP(&f.recursive, "recursive", "r", true, "Search subdirectories")
	fs.BoolVar(&f.preserveBitDepth, "preserve-bit-depth", false, "Keep 16-bit rasters at 16 bits")
	fs.BoolVar(&f.mirror, "mirror", false, "Upload exports to the configured object store")
}

// apply copies every flag the user set onto cfg.
func (f *exportFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fs := cmd.Flags()
	if fs.Changed("output") {
		expanded, err := config.ExpandPath(f.output)
		if err != nil {
			return fmt.Errorf("resolve output path: %w", err)
		}
		cfg.Paths.OutputDir = expanded
	}
	if fs.Changed("mode") {
		cfg.Identity.Mode = f.mode
	}
	if fs.Changed("workers") {
		cfg.Export.Workers = f.workers
	}
	if fs.Changed("resume") {
		cfg.Export.Resume = f.resume
	}
	if fs.Changed("deidentify") {
		cfg.Export.Deidentify = f.deidentify
	}
	if fs.Changed("csv") {
		cfg.Export.CSV = f.csv
	}
	if fs.Changed("sidecar") {
		cfg.Export.Sidecar = f.sidecar
	}
	if fs.Changed("recursive") {
		cfg.Export.Recursive = f.recursive
	}
	if fs.Changed("preserve-bit-depth") {
		cfg.Export.PreserveBitDepth = f.preserveBitDepth
	}
	if fs.Changed("mirror") {
		cfg.Mirror.Enabled = f.mirror
	}
	if err := cfg.Normalize(); err != nil {
		return err
	}
	return cfg.Validate()
}

func runExport(cmd *cobra.Command, cc *commandContext, flags *exportFlags, args []string) error {
	base, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	cfg := *base
	if err := flags.apply(cmd, &cfg); err != nil {
		return fmt.Errorf("%w: %v", export.ErrFatalConfig, err)
	}

	input := cfg.Paths.InputDir
	if len(args) == 1 {
		input = args[0]
	}
	if strings.TrimSpace(input) == "" {
		input = "."
	}

	errOut := cmd.ErrOrStderr()
	log, err := cc.logger(errOut)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	warnDcmtk(cmd.OutOrStdout())

	opts, err := exportConfig(ctx, &cfg, input)
	if err != nil {
		return err
	}
	opts.DryRun = flags.dryRun
	opts.Logger = &log

	bar := newProgressBar(errOut)
	opts.Progress = bar.update

	exp, err := export.New(opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printHeader(out, input, &cfg, opts.DryRun)

	report, err := exp.Run(ctx)
	bar.finish()
	if err != nil {
		return err
	}
	printReport(out, report)

	if report.Cancelled {
		return context.Canceled
	}
	return nil
}

// exportConfig maps the file configuration onto a run configuration.
func exportConfig(ctx context.Context, cfg *config.Config, input string) (export.Config, error) {
	mode, err := identity.ParseMode(cfg.Identity.Mode)
	if err != nil {
		return export.Config{}, fmt.Errorf("%w: %v", export.ErrFatalConfig, err)
	}

	layout := naming.NewLayout(cfg.Paths.OutputDir)
	layout.ImageExt = cfg.Export.ImageExtension
	layout.MaxStemLength = cfg.Export.MaxStemLength
	layout.MaxProbe = cfg.Export.MaxProbe

	opts := export.Config{
		Inputs:    []string{input},
		Recursive: cfg.Export.Recursive,
		Exclude:   cfg.Export.Exclude,
		Layout:    layout,
		Mode:      mode,
		Slot: dcm.PrivateSlot{
			Group:   uint16(cfg.Identity.PrivateGroup),
			Creator: cfg.Identity.PrivateCreator,
			Offset:  uint8(cfg.Identity.PrivateElement),
		},
		Deidentify:    cfg.Export.Deidentify,
		PHIFields:     cfg.Export.PHIFields,
		Sidecar:       cfg.Export.Sidecar,
		CSV:           cfg.Export.CSV,
		FullAggregate: cfg.Export.FullAggregate,
		Imaging: imaging.Options{
			PreserveBitDepth: cfg.Export.PreserveBitDepth,
			Compress:         cfg.Export.Compress,
		},
		Workers: cfg.Export.Workers,
		Resume:  cfg.Export.Resume,
	}

	if cfg.Mirror.Enabled {
		mirror, err := storage.NewMinio(storage.Config{
			Endpoint:  cfg.Mirror.Endpoint,
			AccessKey: cfg.Mirror.AccessKey,
			SecretKey: cfg.Mirror.SecretKey,
			Bucket:    cfg.Mirror.Bucket,
			Prefix:    cfg.Mirror.Prefix,
			UseSSL:    cfg.Mirror.UseSSL,
		})
		if err != nil {
			return export.Config{}, fmt.Errorf("%w: mirror: %v", export.ErrFatalConfig, err)
		}
		if err := mirror.EnsureBucket(ctx); err != nil {
			return export.Config{}, fmt.Errorf("%w: mirror: %v", export.ErrFatalConfig, err)
		}
		opts.Mirror = mirror
	}
	return opts, nil
}

// ExitCode maps a command error onto the process exit status: 0 on success,
// 2 for configuration problems, 130 after cancellation, 1 otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 130
	case errors.Is(err, export.ErrFatalConfig):
		return 2
	}
	return 1
}

// Main runs the command tree and returns the exit status.
func Main(ctx context.Context) int {
	cmd := NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return ExitCode(err)
	}
	return 0
}
