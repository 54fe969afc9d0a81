package config

import (
	"fmt"
	"strings"
)

// Normalize expands paths and canonicalizes enumerations. It is applied by
// Load and must be re-applied after command-line overrides.
func (c *Config) Normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeIdentity()
	c.normalizeExport()
	c.normalizeLogging()
	c.Mirror.Endpoint = strings.TrimSpace(c.Mirror.Endpoint)
	c.Mirror.Bucket = strings.TrimSpace(c.Mirror.Bucket)
	c.Mirror.Prefix = strings.Trim(strings.TrimSpace(c.Mirror.Prefix), "/")
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.InputDir, err = expandPath(strings.TrimSpace(c.Paths.InputDir)); err != nil {
		return fmt.Errorf("paths.input_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeIdentity() {
	mode := strings.ToLower(strings.TrimSpace(c.Identity.Mode))
	if mode == "readonly" {
		mode = "read-only"
	}
	if mode == "" {
		mode = "persist"
	}
	c.Identity.Mode = mode
	c.Identity.PrivateCreator = strings.TrimSpace(c.Identity.PrivateCreator)
}

func (c *Config) normalizeExport() {
	ext := strings.ToLower(strings.TrimSpace(c.Export.ImageExtension))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	c.Export.ImageExtension = ext

	fields := c.Export.PHIFields[:0]
	for _, f := range c.Export.PHIFields {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			fields = append(fields, f)
		}
	}
	c.Export.PHIFields = fields
}

func (c *Config) normalizeLogging() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "warning" {
		c.Logging.Level = "warn"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
}
