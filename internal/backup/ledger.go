// Package backup keeps the ledger of app bundles moved aside during an
// in-place update, and drives each entry to a terminal state once the
// update has been verified, discarded or rolled back.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ZebulonRouseFrantzich/lbox/internal/fsutil"
	"github.com/ZebulonRouseFrantzich/lbox/internal/logging"
	"github.com/ZebulonRouseFrantzich/lbox/internal/storage"
)

var (
	// ErrPersistenceWrite means the ledger file could not be rewritten. The
	// in-memory ledger is still updated.
	ErrPersistenceWrite = errors.New("ledger write failed")
	// ErrManifestUnreadable means a post-install marker could not be decoded
	// while carrying data forward.
	ErrManifestUnreadable = errors.New("manifest unreadable")
	// ErrNotFound means no ledger entry matched.
	ErrNotFound = errors.New("backup not found")
	// ErrBackupMissing means the entry's folder holds no bundle to restore.
	ErrBackupMissing = errors.New("backup folder has no app bundle")
)

const ledgerVersion = 1

// AppBackup records one bundle moved aside by an update.
type AppBackup struct {
	BundleID string `json:"bundleID"`
	AppName  string `json:"appName"`
	Version  string `json:"version,omitempty"`
	// Token names the folder under the backups directory holding the bundle.
	Token string `json:"backupPath"`
	// OriginalPathName is the bundle's directory name in the apps directory.
	OriginalPathName string    `json:"originalInstallPath"`
	CreatedAt        time.Time `json:"date"`
	HadMarker        bool      `json:"hadLCAppInfo"`
}

type ledgerFile struct {
	Version int         `json:"version"`
	Backups []AppBackup `json:"backups"`
}

// Ledger is the durable, ordered list of pending backups. It is rewritten
// in full on every mutation.
type Ledger struct {
	path  string
	dir   string
	roots storage.Roots
	log   logging.Logger

	mu      sync.Mutex
	entries []AppBackup
}

// Open loads the ledger at path. Backup folders live under dir. A missing
// ledger file is an empty ledger.
func Open(path, dir string, roots storage.Roots, log logging.Logger) (*Ledger, error) {
	l := &Ledger{path: path, dir: dir, roots: roots, log: logging.OrNop(log)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("read backup ledger: %w", err)
	}
	var f ledgerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode backup ledger: %w", err)
	}
	l.entries = f.Backups
	return l, nil
}

// FolderPath is the directory a backup token's bundle is moved into.
func (l *Ledger) FolderPath(token string) string {
	return filepath.Join(l.dir, filepath.Base(token))
}

// BundlePath is where b's backed-up bundle directory lives.
func (l *Ledger) BundlePath(b AppBackup) string {
	return filepath.Join(l.FolderPath(b.Token), filepath.Base(b.OriginalPathName))
}

// Add appends b. A persistence failure is returned wrapped in
// ErrPersistenceWrite but the entry is kept in memory.
func (l *Ledger) Add(b AppBackup) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, b)
	return l.saveLocked()
}

// List returns a copy of the ledger in insertion order.
func (l *Ledger) List() []AppBackup {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]AppBackup(nil), l.entries...)
}

// Get finds an entry by token, or else the first entry for a bundle ID.
func (l *Ledger) Get(id string) (AppBackup, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.entries {
		if b.Token == id {
			return b, true
		}
	}
	for _, b := range l.entries {
		if b.BundleID == id {
			return b, true
		}
	}
	return AppBackup{}, false
}

// Discard deletes b's folder and ledger entry. Discarding an entry that is
// already gone is a no-op.
func (l *Ledger) Discard(b AppBackup) error {
	if b.Token != "" {
		if err := os.RemoveAll(l.FolderPath(b.Token)); err != nil {
			l.log.Warn("failed to remove backup folder", "bundle_id", b.BundleID, "token", b.Token, "error", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.entries[:0]
	removed := false
	for _, e := range l.entries {
		if e.Token == b.Token {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	if !removed {
		return nil
	}
	l.log.Info("backup discarded", "bundle_id", b.BundleID, "token", b.Token)
	return l.saveLocked()
}

func (l *Ledger) saveLocked() error {
	f := ledgerFile{Version: ledgerVersion, Backups: l.entries}
	if f.Backups == nil {
		f.Backups = []AppBackup{}
	}
	if err := fsutil.WriteJSONAtomic(l.path, f, 0o644); err != nil {
		l.log.Error("failed to persist backup ledger", "path", l.path, "error", err)
		return fmt.Errorf("%w: %v", ErrPersistenceWrite, err)
	}
	return nil
}
