// Package bundle reads application bundles: their Info.plist manifest, the
// post-install marker written by the execution environment, and the
// installed-apps view derived from scanning the apps directory.
package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"howett.net/plist"
)

const (
	// Extension tags application bundle directories.
	Extension = ".app"
	// ManifestName is the bundle manifest file.
	ManifestName = "Info.plist"
	// MarkerName is the post-install marker. Its presence means the bundle
	// was activated and may carry live user data.
	MarkerName = "LCAppInfo.plist"
	// UnknownID is substituted when a manifest lacks an identifier. Bundles
	// with this identifier never collide with installed apps.
	UnknownID = "unknown"
)

// ErrNoManifest is returned when a bundle has no Info.plist.
var ErrNoManifest = errors.New("bundle manifest not found")

type iconSet struct {
	Primary struct {
		Files []string `plist:"CFBundleIconFiles"`
	} `plist:"CFBundlePrimaryIcon"`
}

// Manifest holds the fields lbox reads from Info.plist.
type Manifest struct {
	BundleID     string   `plist:"CFBundleIdentifier"`
	DisplayName  string   `plist:"CFBundleDisplayName"`
	Name         string   `plist:"CFBundleName"`
	ShortVersion string   `plist:"CFBundleShortVersionString"`
	Version      string   `plist:"CFBundleVersion"`
	Icons        *iconSet `plist:"CFBundleIcons"`
	IPadIcons    *iconSet `plist:"CFBundleIcons~ipad"`
	IconFiles    []string `plist:"CFBundleIconFiles"`
}

// ReadManifest decodes <bundleDir>/Info.plist.
func ReadManifest(bundleDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(bundleDir, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoManifest
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if _, err := plist.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// Identifier returns the trimmed bundle identifier or UnknownID.
func (m *Manifest) Identifier() string {
	if id := strings.TrimSpace(m.BundleID); id != "" {
		return id
	}
	return UnknownID
}

// Title returns CFBundleDisplayName, then CFBundleName, then fallback.
func (m *Manifest) Title(fallback string) string {
	if s := strings.TrimSpace(m.DisplayName); s != "" {
		return s
	}
	if s := strings.TrimSpace(m.Name); s != "" {
		return s
	}
	return fallback
}

// VersionString returns CFBundleShortVersionString, then CFBundleVersion.
func (m *Manifest) VersionString() string {
	if m.ShortVersion != "" {
		return m.ShortVersion
	}
	return m.Version
}

// iconNames lists declared icon base names in declaration order: phone
// icons, iPad icons, then the legacy top-level list.
func (m *Manifest) iconNames() []string {
	var names []string
	if m.Icons != nil {
		names = append(names, m.Icons.Primary.Files...)
	}
	if m.IPadIcons != nil {
		names = append(names, m.IPadIcons.Primary.Files...)
	}
	return append(names, m.IconFiles...)
}

// DirTitle strips the bundle extension from a directory name.
func DirTitle(dir string) string {
	return strings.TrimSuffix(filepath.Base(dir), Extension)
}
