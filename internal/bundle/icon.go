package bundle

import (
	"os"
	"path/filepath"
)

var iconExtensions = []string{"png", "jpg"}

// FindIcon returns the first icon file present in bundleDir. Declared icons
// are tried last-declared first, then AppIcon60x60 and AppIcon.
func FindIcon(bundleDir string, m *Manifest) string {
	if m != nil {
		names := m.iconNames()
		for i := len(names) - 1; i >= 0; i-- {
			if p := findIconFile(bundleDir, names[i]); p != "" {
				return p
			}
		}
	}
	if p := findIconFile(bundleDir, "AppIcon60x60"); p != "" {
		return p
	}
	return findIconFile(bundleDir, "AppIcon")
}

func findIconFile(dir, name string) string {
	candidates := []string{name, name + "@2x", name + "@3x", name + "60x60@2x"}
	for _, c := range candidates {
		for _, ext := range iconExtensions {
			p := filepath.Join(dir, c+"."+ext)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}
