package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// File is the YAML overlay. Only non-empty fields replace environment values.
//
//	sources:
//	  - https://iptv-org.github.io/iptv/countries/th.m3u
//	  - ./local/extra.m3u
//	default_logo: https://example.com/tv.png
//	fallback:
//	  name: Test Stream
//	  url: https://example.com/test.m3u8
type File struct {
	Sources         []string         `yaml:"sources"`
	DefaultLogo     string           `yaml:"default_logo"`
	CheckExtensions []string         `yaml:"check_extensions"`
	PublicBaseURL   string           `yaml:"public_base_url"`
	Fallback        *FallbackChannel `yaml:"fallback"`
}

// LoadFile overlays the YAML file at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	c.apply(f)
	return nil
}

func (c *Config) apply(f File) {
	if len(f.Sources) > 0 {
		c.Sources = f.Sources
	}
	if f.DefaultLogo != "" {
		c.DefaultLogo = f.DefaultLogo
	}
	if len(f.CheckExtensions) > 0 {
		c.CheckExtensions = f.CheckExtensions
	}
	if f.PublicBaseURL != "" {
		c.PublicBaseURL = f.PublicBaseURL
	}
	if f.Fallback != nil {
		c.Fallback = *f.Fallback
	}
}
