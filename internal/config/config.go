package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains input and output locations.
type Paths struct {
	InputDir  string `toml:"input_dir"`
	OutputDir string `toml:"output_dir" validate:"required"`
}

// Identity controls Picture UID generation and write-back.
type Identity struct {
	Mode           string `toml:"mode" validate:"oneof=persist ephemeral read-only"`
	PrivateCreator string `toml:"private_creator" validate:"required,max=64,printascii"`
	PrivateGroup   int    `toml:"private_group" validate:"private_group"`
	PrivateElement int    `toml:"private_element" validate:"min=0,max=255"`
}

// Export controls what a batch writes.
type Export struct {
	Deidentify       bool     `toml:"deidentify"`
	PHIFields        []string `toml:"phi_fields"`
	CSV              bool     `toml:"csv"`
	FullAggregate    bool     `toml:"full_aggregate"`
	Sidecar          bool     `toml:"sidecar"`
	Workers          int      `toml:"workers" validate:"min=1,max=64"`
	Recursive        bool     `toml:"recursive"`
	Resume           bool     `toml:"resume"`
	PreserveBitDepth bool     `toml:"preserve_bit_depth"`
	Compress         bool     `toml:"compress"`
	ImageExtension   string   `toml:"image_extension" validate:"oneof=.tiff .tif"`
	MaxStemLength    int      `toml:"max_stem_length" validate:"min=16,max=200"`
	MaxProbe         int      `toml:"max_probe" validate:"min=2,max=1000000"`
	Exclude          []string `toml:"exclude"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=console json"`
}

// Mirror configures the optional S3-compatible copy of each export.
type Mirror struct {
	Enabled   bool   `toml:"enabled"`
	Endpoint  string `toml:"endpoint" validate:"required_if=Enabled true"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket" validate:"required_if=Enabled true"`
	Prefix    string `toml:"prefix"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Config encapsulates all configuration values.
//
// Sections:
//   - Paths: where sources are read and exports are written
//   - Identity: Picture UID mode and private tag location
//   - Export: outputs, de-identification, workers, naming bounds
//   - Logging: log format and level
//   - Mirror: optional object storage copy
type Config struct {
	Paths    Paths    `toml:"paths"`
	Identity Identity `toml:"identity"`
	Export   Export   `toml:"export"`
	Logging  Logging  `toml:"logging"`
	Mirror   Mirror   `toml:"mirror"`
}

const defaultConfigLocation = "~/.config/picexport/config.toml"

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigLocation)
}

// SampleConfig returns a commented configuration file.
func SampleConfig() string {
	return sampleConfig
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigLocation)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("picexport.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
