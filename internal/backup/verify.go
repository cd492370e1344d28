package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/lbox/internal/bundle"
	"github.com/ZebulonRouseFrantzich/lbox/internal/fsutil"
)

// installedFor finds the live install b refers to: the bundle at its
// original path when it still carries b's identifier, else the first app
// with that identifier.
func (l *Ledger) installedFor(b AppBackup) (bundle.App, bool, error) {
	apps, err := bundle.Scan(l.roots.AppsDir())
	if err != nil {
		return bundle.App{}, false, err
	}
	for _, a := range apps {
		if a.BundleID == b.BundleID && a.DirName() == b.OriginalPathName {
			return a, true, nil
		}
	}
	a, ok := bundle.Find(apps, b.BundleID)
	return a, ok, nil
}

// CheckUpdateStatus reports whether the update b guards has been resolved.
// It returns false, with no side effects, while the new version is not
// installed or not yet activated. Once the new version carries the
// post-install marker the backup is finalized (when the old one had a
// marker too) or discarded, and true is returned.
func (l *Ledger) CheckUpdateStatus(b AppBackup) (bool, error) {
	app, ok, err := l.installedFor(b)
	if err != nil {
		return false, fmt.Errorf("check update status: %w", err)
	}
	if !ok || !app.HasMarker() {
		return false, nil
	}

	if b.HadMarker {
		return true, l.FinalizeUpdate(b)
	}
	return true, l.Discard(b)
}

// FinalizeUpdate carries the data container fields from the backed-up
// marker onto the newly activated one, then discards the backup. A marker
// that cannot be read or patched is logged and never blocks the discard.
func (l *Ledger) FinalizeUpdate(b AppBackup) error {
	app, ok, err := l.installedFor(b)
	if err != nil {
		l.log.Warn("scan failed during finalize", "bundle_id", b.BundleID, "error", err)
	}
	if ok {
		if err := l.patchMarker(b, app); err != nil {
			l.log.Warn("skipping data carry-forward", "bundle_id", b.BundleID, "error", err)
		}
	}
	return l.Discard(b)
}

func (l *Ledger) patchMarker(b AppBackup, app bundle.App) error {
	newPath := app.MarkerPath()
	oldPath := filepath.Join(l.BundlePath(b), bundle.MarkerName)
	if !fsutil.Exists(newPath) || !fsutil.Exists(oldPath) {
		return nil
	}

	old, err := bundle.ReadMarker(oldPath)
	if err != nil {
		return fmt.Errorf("%w: backed-up marker: %v", ErrManifestUnreadable, err)
	}
	cur, err := bundle.ReadMarker(newPath)
	if err != nil {
		return fmt.Errorf("%w: new marker: %v", ErrManifestUnreadable, err)
	}

	keep := make(map[string]bool)
	for _, name := range old.ContainerFolders() {
		keep[name] = true
	}
	dataDir := l.roots.DataDir()
	for _, name := range cur.ContainerFolders() {
		if keep[name] || strings.ContainsAny(name, `/\`) || name == ".." {
			continue
		}
		p := filepath.Join(dataDir, name)
		if !fsutil.Exists(p) {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			l.log.Warn("failed to remove first-run data container", "folder", name, "error", err)
			continue
		}
		l.log.Debug("removed first-run data container", "folder", name)
	}

	cur.CarryForward(old)
	if err := cur.Write(newPath); err != nil {
		return fmt.Errorf("write patched marker: %w", err)
	}
	l.log.Info("carried app data forward", "bundle_id", b.BundleID)
	return nil
}

// Restore moves the backed-up bundle back to its original path, replacing
// whatever is installed there, then discards the entry.
func (l *Ledger) Restore(b AppBackup) error {
	src, err := l.backedUpBundle(b)
	if err != nil {
		return err
	}

	dest := filepath.Join(l.roots.AppsDir(), filepath.Base(b.OriginalPathName))
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("remove current install: %w", err)
	}
	if err := fsutil.Move(src, dest); err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}
	l.log.Info("backup restored", "bundle_id", b.BundleID, "path", dest)
	return l.Discard(b)
}

// backedUpBundle locates the bundle directory inside b's folder.
func (l *Ledger) backedUpBundle(b AppBackup) (string, error) {
	if p := l.BundlePath(b); fsutil.IsDir(p) {
		return p, nil
	}
	entries, err := os.ReadDir(l.FolderPath(b.Token))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrBackupMissing, b.Token)
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), bundle.Extension) {
			return filepath.Join(l.FolderPath(b.Token), e.Name()), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrBackupMissing, b.Token)
}
