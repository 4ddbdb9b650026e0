package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/thoscut/tiffpress/internal/config"
	"github.com/thoscut/tiffpress/internal/processor"
	"github.com/thoscut/tiffpress/internal/textstore"
)

// newPipeline wires the text sink and the processing pipeline from cfg.
func newPipeline(ctx context.Context, cfg *config.Config) (*processor.Pipeline, error) {
	sink, err := textstore.New(ctx, cfg.Text, cfg.AWS)
	if err != nil {
		return nil, fmt.Errorf("create text sink: %w", err)
	}
	return processor.NewPipeline(processor.Options{
		Processing: cfg.Processing,
		DefaultDPI: cfg.Source.DefaultDPI,
		AWS:        cfg.AWS,
		Sink:       sink,
		TextPrefix: cfg.Text.Prefix,
	}), nil
}

// loadProfiles reads the profiles directory next to the config file and
// falls back to the built-in profiles.
func loadProfiles() *config.ProfileStore {
	if cfgFile == "" {
		profiles, _ := config.NewProfileStore("")
		return profiles
	}
	dir := filepath.Join(filepath.Dir(cfgFile), "profiles")
	profiles, err := config.NewProfileStore(dir)
	if err != nil {
		slog.Warn("failed to load profiles from directory, using defaults", "dir", dir, "error", err)
		profiles, _ = config.NewProfileStore("")
	}
	return profiles
}

// lookupProfile resolves name, or the configured default when empty.
func lookupProfile(profiles *config.ProfileStore, name string) (string, *config.Profile, error) {
	if name == "" {
		name = cfg.Processing.DefaultProfile
	}
	profile, ok := profiles.Get(name)
	if !ok {
		return "", nil, fmt.Errorf("unknown profile: %s", name)
	}
	return name, profile, nil
}
