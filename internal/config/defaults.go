package config

// Default returns a configuration populated with defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			InputDir:  ".",
			OutputDir: "./export",
		},
		Identity: Identity{
			Mode:           "persist",
			PrivateCreator: "VUWindsurf",
			PrivateGroup:   0x0011,
			PrivateElement: 0x01,
		},
		Export: Export{
			Deidentify:     true,
			CSV:            true,
			Sidecar:        true,
			Workers:        4,
			Recursive:      true,
			ImageExtension: ".tiff",
			MaxStemLength:  120,
			MaxProbe:       10000,
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
	}
}
