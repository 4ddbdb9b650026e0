package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Profile defines a named set of conversion settings layered over the
// processing configuration.
type Profile struct {
	Profile  ProfileInfo     `toml:"profile" json:"profile" yaml:"profile"`
	PDF      ProfilePDF      `toml:"pdf" json:"pdf" yaml:"pdf"`
	OCR      ProfileOCR      `toml:"ocr" json:"ocr" yaml:"ocr"`
	Optimize ProfileOptimize `toml:"optimize" json:"optimize" yaml:"optimize"`
}

type ProfileInfo struct {
	Name        string `toml:"name" json:"name" yaml:"name"`
	Description string `toml:"description" json:"description" yaml:"description"`
}

type ProfilePDF struct {
	Compression string `toml:"compression" json:"compression,omitempty" yaml:"compression"`
	JPEGQuality int    `toml:"jpeg_quality" json:"jpeg_quality,omitempty" yaml:"jpeg_quality"`
	MaxDPI      int    `toml:"max_dpi" json:"max_dpi,omitempty" yaml:"max_dpi"`
}

type ProfileOCR struct {
	Enabled  *bool  `toml:"enabled" json:"enabled,omitempty" yaml:"enabled"`
	Language string `toml:"language" json:"language,omitempty" yaml:"language"`
}

type ProfileOptimize struct {
	Enabled *bool `toml:"enabled" json:"enabled,omitempty" yaml:"enabled"`
}

// Apply returns a copy of cfg with the profile's non-zero settings applied.
func (p *Profile) Apply(cfg ProcessingConfig) ProcessingConfig {
	if p == nil {
		return cfg
	}
	if p.PDF.Compression != "" {
		cfg.PDF.Compression = p.PDF.Compression
	}
	if p.PDF.JPEGQuality > 0 {
		cfg.PDF.JPEGQuality = p.PDF.JPEGQuality
	}
	if p.PDF.MaxDPI > 0 {
		cfg.PDF.MaxDPI = p.PDF.MaxDPI
	}
	if p.OCR.Enabled != nil {
		cfg.OCR.Enabled = *p.OCR.Enabled
	}
	if p.OCR.Language != "" {
		cfg.OCR.Language = p.OCR.Language
	}
	if p.Optimize.Enabled != nil {
		cfg.Optimize.Enabled = *p.Optimize.Enabled
	}
	return cfg
}

// ProfileStore manages conversion profiles loaded from TOML files.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewProfileStore creates a new profile store and loads profiles from the given directory.
func NewProfileStore(dir string) (*ProfileStore, error) {
	store := &ProfileStore{
		profiles: make(map[string]*Profile),
	}

	store.profiles["standard"] = defaultStandardProfile()
	store.profiles["archival"] = defaultArchivalProfile()
	store.profiles["compact"] = defaultCompactProfile()

	if dir != "" {
		if err := store.loadFromDirectory(dir); err != nil {
			return nil, err
		}
	}

	return store, nil
}

// Get returns a profile by name.
func (s *ProfileStore) Get(name string) (*Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[name]
	return p, ok
}

// Names returns the profile names in sorted order.
func (s *ProfileStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all available profiles.
func (s *ProfileStore) List() []Profile {
	names := s.Names()
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Profile, 0, len(names))
	for _, name := range names {
		result = append(result, *s.profiles[name])
	}
	return result
}

// Set adds or updates a profile.
func (s *ProfileStore) Set(name string, p *Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[name] = p
}

func (s *ProfileStore) loadFromDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read profiles directory: %w", err)
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		unmarshal, ok := profileDecoders[ext]
		if entry.IsDir() || !ok {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read profile %s: %w", entry.Name(), err)
		}

		var profile Profile
		if err := unmarshal(data, &profile); err != nil {
			return fmt.Errorf("parse profile %s: %w", entry.Name(), err)
		}

		s.profiles[strings.TrimSuffix(entry.Name(), ext)] = &profile
	}

	return nil
}

// Profiles may be written in TOML or YAML.
var profileDecoders = map[string]func([]byte, any) error{
	".toml": toml.Unmarshal,
	".yaml": yaml.Unmarshal,
	".yml":  yaml.Unmarshal,
}

func boolPtr(b bool) *bool { return &b }

// defaultStandardProfile leaves every setting to the processing config.
func defaultStandardProfile() *Profile {
	return &Profile{
		Profile: ProfileInfo{
			Name:        "Standard",
			Description: "Processing settings from the configuration file",
		},
	}
}

func defaultArchivalProfile() *Profile {
	return &Profile{
		Profile: ProfileInfo{
			Name:        "Archival",
			Description: "Lossless pages at full resolution with OCR text layer",
		},
		PDF: ProfilePDF{
			Compression: "flate",
		},
		OCR: ProfileOCR{
			Enabled: boolPtr(true),
		},
		Optimize: ProfileOptimize{
			Enabled: boolPtr(true),
		},
	}
}

func defaultCompactProfile() *Profile {
	return &Profile{
		Profile: ProfileInfo{
			Name:        "Compact",
			Description: "Downsampled to 200 DPI, JPEG quality 60",
		},
		PDF: ProfilePDF{
			Compression: "jpeg",
			JPEGQuality: 60,
			MaxDPI:      200,
		},
		OCR: ProfileOCR{
			Enabled: boolPtr(true),
		},
		Optimize: ProfileOptimize{
			Enabled: boolPtr(true),
		},
	}
}
