package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"picture-export/internal/config"
	dcm "picture-export/internal/dicom"
	"picture-export/internal/export"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// progressBar draws batch progress on terminals and stays silent otherwise.
type progressBar struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func newProgressBar(w io.Writer) *progressBar {
	if !isTerminal(w) {
		return &progressBar{}
	}
	return &progressBar{w: w}
}

func (p *progressBar) update(pr export.Progress) {
	if p.w == nil {
		return
	}
	if p.bar == nil {
		p.bar = progressbar.NewOptions(pr.Total,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription("exporting"),
			progressbar.OptionClearOnFinish(),
		)
	}
	if pr.Failed > 0 {
		p.bar.Describe(fmt.Sprintf("exporting (%d failed)", pr.Failed))
	}
	_ = p.bar.Set(pr.Completed)
}

func (p *progressBar) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

func printHeader(out io.Writer, input string, cfg *config.Config, dryRun bool) {
	fmt.Fprintln(out, "Picture export")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintf(out, "Input:     %s\n", input)
	fmt.Fprintf(out, "Output:    %s\n", cfg.Paths.OutputDir)
	fmt.Fprintf(out, "Identity:  %s (%s, group %04X)\n", cfg.Identity.Mode, cfg.Identity.PrivateCreator, cfg.Identity.PrivateGroup)

	var options []string
	if cfg.Export.Deidentify {
		options = append(options, "De-identified")
	}
	if cfg.Export.Recursive {
		options = append(options, "Recursive")
	}
	if cfg.Export.Resume {
		options = append(options, "Resume")
	}
	if cfg.Mirror.Enabled {
		options = append(options, "Mirror "+cfg.Mirror.Bucket)
	}
	if dryRun {
		options = append(options, "Dry run")
	}
	if len(options) > 0 {
		fmt.Fprintf(out, "Options:   %s\n", strings.Join(options, ", "))
	}
	fmt.Fprintln(out)
}

func printReport(out io.Writer, report *export.Report) {
	s := report.Stats
	rows := [][]string{
		{"Sources", strconv.Itoa(s.Total)},
		{"Recorded", strconv.Itoa(s.Recorded)},
		{"Failed", strconv.Itoa(s.Failed)},
		{"Skipped", strconv.Itoa(s.Skipped)},
		{"Generated UIDs", strconv.Itoa(s.Generated)},
		{"Written back", strconv.Itoa(s.Persisted)},
		{"Warnings", strconv.Itoa(s.Warnings)},
	}
	if report.DryRun {
		rows = append(rows, []string{"Planned", strconv.Itoa(s.Planned)})
	}
	fmt.Fprintln(out, renderTable([]string{"", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))

	if failures := report.Failures(); len(failures) > 0 {
		var frows [][]string
		for _, f := range failures {
			frows = append(frows, []string{filepath.Base(f.Source), string(f.Err.Stage), string(f.Err.Kind), f.Err.Err.Error()})
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Failures:")
		fmt.Fprintln(out, renderTable([]string{"Source", "Stage", "Kind", "Reason"}, frows, nil))
	}

	var wrows [][]string
	for _, it := range report.Items {
		for _, w := range it.Warnings {
			wrows = append(wrows, []string{filepath.Base(it.Source), string(w.Stage), w.Err.Error()})
		}
	}
	if len(wrows) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Warnings:")
		fmt.Fprintln(out, renderTable([]string{"Source", "Stage", "Reason"}, wrows, nil))
	}

	for _, p := range report.Problems {
		fmt.Fprintf(out, "Problem:   %s\n", p)
	}

	fmt.Fprintln(out)
	if report.Cancelled {
		fmt.Fprintln(out, "Cancelled before all sources were processed.")
	}
	fmt.Fprintf(out, "Output:    %s\n", report.OutputDir)
	for _, agg := range report.Aggregates {
		fmt.Fprintf(out, "Metadata:  %s\n", agg)
	}
	if s.Failed > 0 && report.ErrorLog != "" {
		fmt.Fprintf(out, "Error log: %s\n", report.ErrorLog)
	}
}

// warnDcmtk tells the user how to enable JPEG-LS sources when dcmtk is
// missing.
func warnDcmtk(out io.Writer) {
	if dcm.CheckDcmtkInstalled() {
		return
	}
	fmt.Fprintln(out, "Note: dcmtk is not installed; JPEG-LS sources will fail extraction.")
	if installCmd := getDcmtkInstallCommand(); installCmd != "" {
		fmt.Fprintf(out, "      Install it with: %s\n", installCmd)
	}
	fmt.Fprintln(out)
}

// getDcmtkInstallCommand returns the platform-specific installation command
func getDcmtkInstallCommand() string {
	switch runtime.GOOS {
	case "darwin":
		return "brew install dcmtk"
	case "linux":
		return "sudo apt-get update && sudo apt-get install -y dcmtk"
	default:
		return ""
	}
}
