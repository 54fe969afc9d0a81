// Package naming maps resolved identities onto collision-free export paths
// and guards an output directory for the lifetime of a run.
package naming

import (
	"path/filepath"

	"picture-export/internal/identity"
)

// Directory names under the output root.
const (
	ImagesDir = "images"
	StateDir  = ".picexport"
)

// Layout describes where exports go inside an output root.
type Layout struct {
	Root          string
	ImageExt      string
	SidecarExt    string
	MaxStemLength int
	MaxProbe      int
}

// NewLayout returns the default layout rooted at root.
func NewLayout(root string) Layout {
	return Layout{
		Root:          root,
		ImageExt:      ".tiff",
		SidecarExt:    ".json",
		MaxStemLength: DefaultMaxStemLength,
		MaxProbe:      DefaultMaxProbe,
	}
}

// ImageDir is the directory holding exported images and their sidecars.
func (l Layout) ImageDir() string {
	return filepath.Join(l.Root, ImagesDir)
}

// StatePath returns a path inside the run-state directory.
func (l Layout) StatePath(name string) string {
	return filepath.Join(l.Root, StateDir, name)
}

// ExportTarget is the resolved destination of one export.
type ExportTarget struct {
	Directory   string
	Stem        string
	ImagePath   string
	SidecarPath string
}

// ImageName returns the exported image's base name.
func (t ExportTarget) ImageName() string {
	return filepath.Base(t.ImagePath)
}

// ResolveTarget claims a stem for id in claims and returns the paths derived
// from it. claims must reflect the contents of layout.ImageDir().
func ResolveTarget(layout Layout, id identity.Identity, claims *Claims) (ExportTarget, error) {
	base := Sanitize(id.Value, layout.MaxStemLength)
	stem, err := claims.Claim(base, layout.MaxStemLength, layout.MaxProbe)
	if err != nil {
		return ExportTarget{}, err
	}
	dir := layout.ImageDir()
	return ExportTarget{
		Directory:   dir,
		Stem:        stem,
		ImagePath:   filepath.Join(dir, stem+layout.ImageExt),
		SidecarPath: filepath.Join(dir, stem+layout.SidecarExt),
	}, nil
}

// ClaimAggregate picks the stem for batch-level files such as
// "metadata.jsonl" in the output root. Every aggregate of one run shares it,
// so a second run writes "metadata-2.jsonl", "metadata-2.csv", and so on.
func ClaimAggregate(layout Layout, base string) (string, error) {
	claims, err := ScanDir(layout.Root)
	if err != nil {
		return "", err
	}
	return claims.Claim(base, layout.MaxStemLength, layout.MaxProbe)
}
