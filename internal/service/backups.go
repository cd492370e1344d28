package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ZebulonRouseFrantzich/lbox/internal/backup"
	"github.com/ZebulonRouseFrantzich/lbox/internal/catalog"
)

// Backups lists the update backups awaiting verification.
func (c *Client) Backups() []backup.AppBackup { return c.ledger.List() }

func (c *Client) backup(id string) (backup.AppBackup, error) {
	b, ok := c.ledger.Get(id)
	if !ok {
		return backup.AppBackup{}, fmt.Errorf("%w: %s", backup.ErrNotFound, id)
	}
	return b, nil
}

// CheckUpdateStatus verifies one backup, selected by token or bundle
// identifier. It reports true once the update has been activated and the
// backup was finalized or discarded.
func (c *Client) CheckUpdateStatus(id string) (bool, error) {
	b, err := c.backup(id)
	if err != nil {
		return false, err
	}
	c.installMu.Lock()
	defer c.installMu.Unlock()
	return c.ledger.CheckUpdateStatus(b)
}

// RestoreBackup puts the backed-up bundle back at its original path.
func (c *Client) RestoreBackup(id string) error {
	b, err := c.backup(id)
	if err != nil {
		return err
	}
	c.installMu.Lock()
	defer c.installMu.Unlock()
	return c.ledger.Restore(b)
}

// DiscardBackup deletes a backup without restoring it.
func (c *Client) DiscardBackup(id string) error {
	b, err := c.backup(id)
	if err != nil {
		return err
	}
	return c.ledger.Discard(b)
}

// VerifyBackups runs CheckUpdateStatus over every backup and returns how
// many were resolved.
func (c *Client) VerifyBackups() (int, error) {
	c.installMu.Lock()
	defer c.installMu.Unlock()

	resolved := 0
	var firstErr error
	for _, b := range c.ledger.List() {
		done, err := c.ledger.CheckUpdateStatus(b)
		if err != nil {
			c.log.Warn("backup verification failed", "bundle_id", b.BundleID, "token", b.Token, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if done {
			resolved++
		}
	}
	return resolved, firstErr
}

// WatchUpdates verifies backups every interval until ctx is done.
func (c *Client) WatchUpdates(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.cfg.Verify.Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if len(c.ledger.List()) == 0 {
				continue
			}
			if n, _ := c.VerifyBackups(); n > 0 {
				c.log.Info("updates verified", "resolved", n)
			}
		}
	}
}

// Catalog returns the repository catalog.
func (c *Client) Catalog() *catalog.Catalog { return c.catalog }

// CheckUpdates compares installed apps with the newest catalog versions.
func (c *Client) CheckUpdates() ([]catalog.Update, error) {
	installed, err := c.InstalledApps()
	if err != nil {
		return nil, err
	}
	return catalog.Updates(c.catalog.Apps(), installed), nil
}
