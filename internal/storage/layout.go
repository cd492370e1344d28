// Package storage resolves the managed directories lbox reads and writes.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZebulonRouseFrantzich/lbox/internal/config"
	"github.com/ZebulonRouseFrantzich/lbox/internal/fsutil"
)

// Roots is the current storage root accessor used by the core. Paths are
// re-evaluated on every call because the container layout can change on disk.
type Roots interface {
	DownloadsDir() string
	AppsDir() string
	DataDir() string
}

// Layout maps configured storage roots to concrete directories.
type Layout struct {
	downloads string
	container string
	state     string
}

// NewLayout builds a Layout from configured storage paths.
func NewLayout(s config.Storage) *Layout {
	return &Layout{downloads: s.Downloads, container: s.Container, state: s.State}
}

// DownloadsDir is the managed download folder.
func (l *Layout) DownloadsDir() string { return l.downloads }

// PartialDir holds in-flight transfer files. It is hidden inside the
// download folder so the final rename never crosses filesystems.
func (l *Layout) PartialDir() string { return filepath.Join(l.downloads, ".lbox-partial") }

// AppsDir is where bundles are installed: <container>/Applications when
// that directory exists, otherwise the container root itself.
func (l *Layout) AppsDir() string {
	apps := filepath.Join(l.container, "Applications")
	if fsutil.IsDir(apps) {
		return apps
	}
	return l.container
}

// DataDir holds per-app data containers.
func (l *Layout) DataDir() string {
	return filepath.Join(l.container, "Data", "Application")
}

// StateDir is the root for lbox's own persisted state.
func (l *Layout) StateDir() string { return l.state }

// ResumeDir holds resume token blobs.
func (l *Layout) ResumeDir() string { return filepath.Join(l.state, "resume") }

// ResumeIndexPath is the SQLite URL index of resume tokens.
func (l *Layout) ResumeIndexPath() string { return filepath.Join(l.state, "resume.db") }

// BackupsDir holds update backup folders.
func (l *Layout) BackupsDir() string { return filepath.Join(l.state, "backups") }

// LedgerPath is the persisted backup ledger.
func (l *Layout) LedgerPath() string { return filepath.Join(l.state, "backups.json") }

// CatalogPath is the persisted repository tree.
func (l *Layout) CatalogPath() string { return filepath.Join(l.state, "repositories.json") }

// Ensure creates every managed directory that must exist up front.
func (l *Layout) Ensure() error {
	for _, dir := range []string{l.downloads, l.PartialDir(), l.container, l.state, l.ResumeDir(), l.BackupsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
