package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZebulonRouseFrantzich/lbox/internal/platform"
)

// Dir returns the lbox directory: $LBOX_DIR, or ~/.config/lbox.
func Dir() (string, error) {
	if dir := os.Getenv("LBOX_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "lbox"), nil
}

// Load parses <dir>/lbox.lua with platform detection.
func Load(ctx context.Context, dir string, detector platform.Detector) (*Config, error) {
	return NewParser(detector, dir).ParseFile(ctx, filepath.Join(dir, FileName))
}
