package install

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/lbox/internal/archive"
	"github.com/ZebulonRouseFrantzich/lbox/internal/backup"
	"github.com/ZebulonRouseFrantzich/lbox/internal/bundle"
	"github.com/ZebulonRouseFrantzich/lbox/internal/fsutil"
	"github.com/ZebulonRouseFrantzich/lbox/internal/logging"
	"github.com/ZebulonRouseFrantzich/lbox/internal/storage"
	"github.com/google/uuid"
)

// ErrMoveFailed means a placement step failed part way. Steps already
// completed are not rolled back.
var ErrMoveFailed = errors.New("filesystem move failed")

// Ledger records bundles moved aside by an update. backup.Ledger
// implements it.
type Ledger interface {
	FolderPath(token string) string
	Add(b backup.AppBackup) error
}

// Finalizer places staged bundles into the apps directory.
type Finalizer struct {
	roots  storage.Roots
	ledger Ledger
	log    logging.Logger
	now    func() time.Time
}

// NewFinalizer creates a Finalizer. now may be nil.
func NewFinalizer(roots storage.Roots, ledger Ledger, log logging.Logger, now func() time.Time) *Finalizer {
	if now == nil {
		now = time.Now
	}
	return &Finalizer{roots: roots, ledger: ledger, log: logging.OrNop(log), now: now}
}

// Install places a bundle that collides with nothing and returns its path.
func (f *Finalizer) Install(staged *archive.StagedBundle) (string, error) {
	dest, err := f.placeSeparate(staged)
	if err != nil {
		f.log.Error("install failed", "bundle_id", staged.BundleID, "error", err)
	}
	f.cleanup(staged, err == nil)
	return dest, err
}

// Finalize applies action to p and returns the installed path (empty for
// Cancel). The staging directory is always removed; the source archive is
// removed after a successful placement when it lives in the download folder.
func (f *Finalizer) Finalize(p *Pending, action Action) (string, error) {
	var dest string
	var err error
	switch action {
	case InstallSeparate:
		dest, err = f.placeSeparate(p.Staged)
	case UpdateExisting:
		dest, err = f.updateExisting(p)
	case Cancel:
		f.log.Info("installation cancelled", "bundle_id", p.BundleID)
	default:
		err = fmt.Errorf("unknown install action %d", int(action))
	}
	if err != nil {
		f.log.Error("finalize install failed", "bundle_id", p.BundleID, "action", action.String(), "error", err)
	}
	f.cleanup(p.Staged, action != Cancel && err == nil)
	return dest, err
}

// placeSeparate moves the bundle to <bundleID>.app, or its own directory
// name for unknown bundles, adding _N until the name is free.
func (f *Finalizer) placeSeparate(staged *archive.StagedBundle) (string, error) {
	name := staged.DirName()
	if id := staged.BundleID; id != "" && id != bundle.UnknownID {
		name = id + bundle.Extension
	}
	dest := uniquePath(f.roots.AppsDir(), filepath.Base(name))
	if err := fsutil.Move(staged.BundlePath, dest); err != nil {
		return "", fmt.Errorf("%w: place bundle: %v", ErrMoveFailed, err)
	}
	f.log.Info("app installed", "bundle_id", staged.BundleID, "path", dest)
	return dest, nil
}

// updateExisting replaces the installed bundle. An activated bundle is
// moved into a fresh backup folder and recorded before the new one takes
// its path; an unactivated one is simply removed.
func (f *Finalizer) updateExisting(p *Pending) (string, error) {
	existing := p.Existing.Path
	if existing == "" {
		return "", fmt.Errorf("%w: pending installation has no existing app", ErrMoveFailed)
	}

	if !bundle.HasMarker(existing) {
		if err := os.RemoveAll(existing); err != nil {
			return "", fmt.Errorf("%w: remove old bundle: %v", ErrMoveFailed, err)
		}
		if err := fsutil.Move(p.Staged.BundlePath, existing); err != nil {
			return "", fmt.Errorf("%w: place bundle: %v", ErrMoveFailed, err)
		}
		f.log.Info("app replaced", "bundle_id", p.BundleID, "path", existing)
		return existing, nil
	}

	token := uuid.NewString()
	dirName := filepath.Base(existing)
	if err := fsutil.Move(existing, filepath.Join(f.ledger.FolderPath(token), dirName)); err != nil {
		return "", fmt.Errorf("%w: back up old bundle: %v", ErrMoveFailed, err)
	}

	record := backup.AppBackup{
		BundleID:         p.Existing.BundleID,
		AppName:          p.Existing.Name,
		Version:          p.Existing.Version,
		Token:            token,
		OriginalPathName: dirName,
		CreatedAt:        f.now().UTC(),
		HadMarker:        true,
	}
	if err := f.ledger.Add(record); err != nil {
		f.log.Warn("backup recorded in memory only", "bundle_id", p.BundleID, "error", err)
	}

	if err := fsutil.Move(p.Staged.BundlePath, existing); err != nil {
		return "", fmt.Errorf("%w: place bundle: %v", ErrMoveFailed, err)
	}
	f.log.Info("app updated, previous version backed up", "bundle_id", p.BundleID, "token", token)
	return existing, nil
}

func (f *Finalizer) cleanup(staged *archive.StagedBundle, removeArchive bool) {
	if err := staged.Discard(); err != nil {
		f.log.Warn("failed to remove staging directory", "path", staged.TempRoot, "error", err)
	}
	if !removeArchive || !within(f.roots.DownloadsDir(), staged.SourceArchive) {
		return
	}
	if err := os.Remove(staged.SourceArchive); err != nil && !os.IsNotExist(err) {
		f.log.Warn("failed to remove source archive", "path", staged.SourceArchive, "error", err)
	}
}

func uniquePath(dir, name string) string {
	p := filepath.Join(dir, name)
	base := strings.TrimSuffix(name, filepath.Ext(name))
	for n := 1; fsutil.Exists(p); n++ {
		p = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, n, bundle.Extension))
	}
	return p
}

// within reports whether path is inside dir.
func within(dir, path string) bool {
	if dir == "" || path == "" {
		return false
	}
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != "." && filepath.IsLocal(rel)
}
