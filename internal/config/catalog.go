package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/dunamismax/pixelforge/internal/optimizer"
	"github.com/dunamismax/pixelforge/internal/source"
	"gopkg.in/yaml.v3"
)

// Catalog is the operator-edited part of the configuration: named transform
// presets, image volumes, per-volume generate lists and optimizer settings.
type Catalog struct {
	Presets map[string]map[string]any `yaml:"presets"`
	Volumes map[string]source.Volume  `yaml:"volumes"`
	// Generate lists the presets produced ahead of time per volume.
	Generate map[string][]string `yaml:"generate"`
	// Backends maps a volume to a transformer handle other than the default.
	Backends   map[string]string             `yaml:"backends"`
	Optimizers map[string]optimizer.Settings `yaml:"optimizers"`
	Chain      []string                      `yaml:"chain"`
	Strict     bool                          `yaml:"strict"`
}

// LoadCatalog parses the YAML catalog at path. An empty path yields an empty
// catalog.
func LoadCatalog(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Catalog{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(raw)
}

func ParseCatalog(raw []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}

	for handle, v := range c.Volumes {
		switch v.Kind {
		case "", source.VolumeLocal:
			if strings.TrimSpace(v.Root) == "" {
				return Catalog{}, fmt.Errorf("volume %q: root is required", handle)
			}
		case source.VolumeObject:
		default:
			return Catalog{}, fmt.Errorf("volume %q: unknown kind %q", handle, v.Kind)
		}
	}
	for volume, presets := range c.Generate {
		for _, p := range presets {
			if _, ok := c.Presets[p]; !ok {
				return Catalog{}, fmt.Errorf("generate %q: unknown preset %q", volume, p)
			}
		}
	}
	for _, handle := range c.Chain {
		if _, ok := c.Optimizers[handle]; ok {
			continue
		}
		if _, ok := optimizer.Builtins()[handle]; !ok {
			return Catalog{}, fmt.Errorf("chain: unknown optimizer %q", handle)
		}
	}
	return c, nil
}

func defaultVolumes(root string) map[string]source.Volume {
	return map[string]source.Volume{
		"local": {Kind: source.VolumeLocal, Root: root},
	}
}
