package dicom

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SourceFormat identifies the container of a candidate source file.
type SourceFormat string

const (
	FormatUnknown SourceFormat = ""
	FormatDICOM   SourceFormat = "dicom"
	FormatTIFF    SourceFormat = "tiff"
)

// DicomExtensions are common DICOM file extensions
var DicomExtensions = map[string]bool{".dcm": true, ".dicom": true}

// ExcludedNames are filenames to skip
var ExcludedNames = map[string]bool{
	"DICOMDIR":    true,
	".DS_Store":   true,
	"Thumbs.db":   true,
	"desktop.ini": true,
}

// ExcludedExtensions are file extensions to skip without sniffing
var ExcludedExtensions = map[string]bool{
	".json":  true,
	".jsonl": true,
	".csv":   true,
	".txt":   true,
	".md":    true,
	".log":   true,
	".db":    true,
	".lock":  true,
	".tmp":   true,
	".png":   true,
	".jpg":   true,
	".jpeg":  true,
	".pdf":   true,
	".zip":   true,
	".toml":  true,
}

// ExcludedDirs are directory names to skip entirely
var ExcludedDirs = map[string]bool{
	".git":        true,
	".picexport":  true,
	"__pycache__": true,
	".venv":       true,
}

var (
	tiffLittleEndian = []byte("II\x2A\x00")
	tiffBigEndian    = []byte("MM\x00\x2A")
)

// FindSourceFiles finds all DICOM and TIFF sources under inputPath. Any
// directory listed in exclude (typically the export output) is skipped.
func FindSourceFiles(inputPath string, recursive bool, exclude ...string) ([]string, error) {
	var files []string

	excluded := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		if abs, err := filepath.Abs(e); err == nil {
			excluded[abs] = true
		}
	}

	walkFn := func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}

		if info.IsDir() {
			if path == inputPath {
				return nil
			}
			if ExcludedDirs[info.Name()] || !recursive {
				return filepath.SkipDir
			}
			if abs, absErr := filepath.Abs(path); absErr == nil && excluded[abs] {
				return filepath.SkipDir
			}
			return nil
		}

		if ExcludedNames[info.Name()] || strings.HasPrefix(info.Name(), ".") {
			return nil
		}

		if DetectFormat(path) != FormatUnknown {
			files = append(files, path)
		}
		return nil
	}

	if err := filepath.Walk(inputPath, walkFn); err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// DetectFormat classifies a file by extension, falling back to magic bytes.
func DetectFormat(path string) SourceFormat {
	ext := strings.ToLower(filepath.Ext(path))
	if ExcludedExtensions[ext] {
		return FormatUnknown
	}

	header := readHeader(path, 132)
	if len(header) >= 4 && (bytes.Equal(header[:4], tiffLittleEndian) || bytes.Equal(header[:4], tiffBigEndian)) {
		return FormatTIFF
	}
	if hasDicomMagic(header) || DicomExtensions[ext] {
		return FormatDICOM
	}
	return FormatUnknown
}

func hasDicomMagic(header []byte) bool {
	return len(header) >= 132 && string(header[128:132]) == "DICM"
}

func readHeader(path string, n int) []byte {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	header := make([]byte, n)
	read, _ := io.ReadFull(file, header)
	return header[:read]
}
