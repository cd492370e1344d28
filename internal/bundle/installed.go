package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// App is one installed application, derived from the filesystem.
type App struct {
	Name     string
	BundleID string
	Version  string // empty when the manifest has none
	Path     string
	IconPath string // empty when no icon was found
}

// DirName is the bundle directory's base name, e.g. "Demo.app".
func (a App) DirName() string { return filepath.Base(a.Path) }

// HasMarker reports whether the bundle carries the post-install marker.
func (a App) HasMarker() bool { return HasMarker(a.Path) }

// MarkerPath is where the post-install marker lives inside the bundle.
func (a App) MarkerPath() string { return filepath.Join(a.Path, MarkerName) }

// HasMarker reports whether bundleDir contains the post-install marker.
func HasMarker(bundleDir string) bool {
	_, err := os.Stat(filepath.Join(bundleDir, MarkerName))
	return err == nil
}

// Load builds an App from a bundle directory. An unreadable manifest still
// yields an App named after the directory with UnknownID.
func Load(bundleDir string) App {
	app := App{
		Name:     DirTitle(bundleDir),
		BundleID: UnknownID,
		Path:     bundleDir,
	}
	m, err := ReadManifest(bundleDir)
	if err != nil {
		return app
	}
	app.BundleID = m.Identifier()
	app.Name = m.Title(app.Name)
	app.Version = m.VersionString()
	app.IconPath = FindIcon(bundleDir, m)
	return app
}

// Scan lists every *.app directory directly under appsDir. A missing
// directory is an empty result. Results are sorted by directory name.
func Scan(appsDir string) ([]App, error) {
	entries, err := os.ReadDir(appsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan installed apps: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var apps []App
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), Extension) {
			continue
		}
		apps = append(apps, Load(filepath.Join(appsDir, e.Name())))
	}
	return apps, nil
}

// Find returns the first installed app with bundleID.
func Find(apps []App, bundleID string) (App, bool) {
	for _, a := range apps {
		if a.BundleID == bundleID {
			return a, true
		}
	}
	return App{}, false
}
