package dicom

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Transfer Syntax UIDs
const (
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	ExplicitVRBigEndian    = "1.2.840.10008.1.2.2"
	JPEGBaseline           = "1.2.840.10008.1.2.4.50"
	JPEGExtended           = "1.2.840.10008.1.2.4.51"
	JPEGLSLossless         = "1.2.840.10008.1.2.4.80"
	JPEGLSNearLossy        = "1.2.840.10008.1.2.4.81"
)

// SyntaxSupport says how the pixel data of a transfer syntax can be decoded.
type SyntaxSupport int

const (
	SyntaxUnsupported SyntaxSupport = iota
	SyntaxNative                    // decoded by the parser
	SyntaxJPEG                      // encapsulated baseline/extended JPEG, decoded in-process
	SyntaxNeedsDcmtk                // JPEG-LS, decoded through dcmdjpls
)

// ClassifyTransferSyntax reports how a transfer syntax UID can be decoded. An
// empty UID is treated as implicit little endian, matching the parser default.
func ClassifyTransferSyntax(ts string) SyntaxSupport {
	switch strings.TrimSpace(ts) {
	case "", ImplicitVRLittleEndian, ExplicitVRLittleEndian, ExplicitVRBigEndian:
		return SyntaxNative
	case JPEGBaseline, JPEGExtended:
		return SyntaxJPEG
	case JPEGLSLossless, JPEGLSNearLossy:
		return SyntaxNeedsDcmtk
	default:
		return SyntaxUnsupported
	}
}

// DecompressJPEGLS decompresses a JPEG-LS DICOM file using dcmtk.
// Returns the path to the decompressed temporary file.
func DecompressJPEGLS(inputPath string) (string, error) {
	if _, err := exec.LookPath("dcmdjpls"); err != nil {
		return "", fmt.Errorf("dcmtk not installed. Run: brew install dcmtk (macOS) or apt install dcmtk (Linux)")
	}

	tempFile, err := os.CreateTemp("", "picexport-*.dcm")
	if err != nil {
		return "", fmt.Errorf("could not create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	tempFile.Close()

	cmd := exec.Command("dcmdjpls", inputPath, tempPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("dcmdjpls failed: %s", string(output))
	}

	return tempPath, nil
}

// CheckDcmtkInstalled checks if dcmtk is installed.
// It checks both PATH and common installation directories.
func CheckDcmtkInstalled() bool {
	if _, err := exec.LookPath("dcmdjpls"); err == nil {
		return true
	}

	var commonPaths []string
	switch runtime.GOOS {
	case "darwin":
		commonPaths = []string{
			"/opt/homebrew/bin/dcmdjpls",
			"/usr/local/bin/dcmdjpls",
		}
	case "linux":
		commonPaths = []string{
			"/usr/bin/dcmdjpls",
			"/usr/local/bin/dcmdjpls",
		}
	case "windows":
		commonPaths = []string{
			"C:\\Program Files\\dcmtk\\bin\\dcmdjpls.exe",
			"C:\\dcmtk\\bin\\dcmdjpls.exe",
		}
	}

	for _, path := range commonPaths {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}

	return false
}
