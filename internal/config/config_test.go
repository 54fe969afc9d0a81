package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")
	cfg, resolved, exists, err := Load(path)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, path, resolved)
	assert.Equal(t, "persist", cfg.Identity.Mode)
	assert.Equal(t, 0x0011, cfg.Identity.PrivateGroup)
	assert.True(t, filepath.IsAbs(cfg.Paths.OutputDir))
}

func TestLoadFile(t *testing.T) {
	out := t.TempDir()
	path := writeConfig(t, `
[paths]
output_dir = "`+filepath.ToSlash(out)+`"

[identity]
mode = "ReadOnly"
private_group = 0x0029

[export]
workers = 8
image_extension = "TIF"
phi_fields = [" Site ", ""]

[logging]
level = "WARNING"
format = "json"
`)

	cfg, _, exists, err := Load(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "read-only", cfg.Identity.Mode)
	assert.Equal(t, 0x0029, cfg.Identity.PrivateGroup)
	assert.Equal(t, 8, cfg.Export.Workers)
	assert.Equal(t, ".tif", cfg.Export.ImageExtension)
	assert.Equal(t, []string{"site"}, cfg.Export.PHIFields)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, filepath.Clean(out), cfg.Paths.OutputDir)
	assert.Equal(t, "VUWindsurf", cfg.Identity.PrivateCreator, "unset keys keep defaults")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "[export]\nworkerz = 3\n")
	_, _, _, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"even private group", func(c *Config) { c.Identity.PrivateGroup = 0x0010 }, "identity.private_group must be an odd group number"},
		{"bad mode", func(c *Config) { c.Identity.Mode = "sometimes" }, "identity.mode must be one of persist, ephemeral, read-only"},
		{"too many workers", func(c *Config) { c.Export.Workers = 65 }, "export.workers must be at most 64"},
		{"zero workers", func(c *Config) { c.Export.Workers = 0 }, "export.workers must be at least 1"},
		{"empty creator", func(c *Config) { c.Identity.PrivateCreator = "" }, "identity.private_creator is required"},
		{"mirror without bucket", func(c *Config) {
			c.Mirror.Enabled = true
			c.Mirror.Endpoint = "localhost:9000"
		}, "mirror.bucket is required"},
		{"disabled mirror needs nothing", func(c *Config) { c.Mirror.Enabled = false }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSampleConfigParsesAndValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, toml.Unmarshal([]byte(SampleConfig()), &cfg))
	require.NoError(t, cfg.Normalize())
	require.NoError(t, cfg.Validate())
	assert.True(t, strings.Contains(SampleConfig(), "private_creator"))
}

func TestExpandPathHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	got, err := ExpandPath("~/exports")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "exports"), got)
}
