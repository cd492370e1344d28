package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/lbox/internal/bundle"
	"github.com/ZebulonRouseFrantzich/lbox/internal/install"
)

// ConvertResult is the outcome of converting an archive. Exactly one of
// Path and Pending is set.
type ConvertResult struct {
	Path    string           // installed bundle path
	Pending *install.Pending // collision awaiting Resolve
}

// Convert extracts archivePath and installs it, or parks it in the pending
// slot when an installed app has the same identifier. A collision while the
// slot is occupied discards the new bundle and returns ErrPendingInstallation.
func (c *Client) Convert(ctx context.Context, archivePath string) (*ConvertResult, error) {
	staged, err := c.extractor.Extract(ctx, archivePath, c.layout.AppsDir())
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", filepath.Base(archivePath), err)
	}

	c.installMu.Lock()
	defer c.installMu.Unlock()

	installed, err := bundle.Scan(c.layout.AppsDir())
	if err != nil {
		staged.Discard()
		return nil, err
	}

	decision := install.Resolve(staged, installed)
	if decision.Fresh() {
		path, err := c.finalizer.Install(staged)
		if err != nil {
			return nil, err
		}
		return &ConvertResult{Path: path}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		staged.Discard()
		return nil, fmt.Errorf("%w: %s", ErrPendingInstallation, c.pending.BundleID)
	}
	c.pending = decision.Pending
	c.log.Info("installation awaiting decision",
		"bundle_id", decision.Pending.BundleID, "existing", decision.Pending.Existing.DirName())
	return &ConvertResult{Pending: decision.Pending}, nil
}

// PendingInstallation returns the collision awaiting a decision, if any.
func (c *Client) PendingInstallation() *install.Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// InstallResult is delivered once a resolution has been applied.
type InstallResult struct {
	Path string // empty for Cancel
	Err  error
}

// Resolve applies action to the pending installation in the background.
// The slot is freed immediately; the returned channel receives exactly
// one result.
func (c *Client) Resolve(action install.Action) (<-chan InstallResult, error) {
	c.mu.Lock()
	p := c.pending
	c.pending = nil
	c.mu.Unlock()
	if p == nil {
		return nil, ErrNoPendingInstallation
	}

	done := make(chan InstallResult, 1)
	run := func() {
		c.installMu.Lock()
		defer c.installMu.Unlock()
		path, err := c.finalizer.Finalize(p, action)
		done <- InstallResult{Path: path, Err: err}
	}
	if !c.goBackground(run) {
		run()
	}
	return done, nil
}

// InstalledApps scans the installed-apps directory.
func (c *Client) InstalledApps() ([]bundle.App, error) {
	return bundle.Scan(c.layout.AppsDir())
}

// findApp matches a directory name first, then a bundle identifier.
func findApp(apps []bundle.App, key string) (bundle.App, bool) {
	for _, a := range apps {
		if a.DirName() == key {
			return a, true
		}
	}
	return bundle.Find(apps, key)
}

// DeleteApp removes an installed app, selected by directory name or bundle
// identifier, together with the data containers its marker lists.
func (c *Client) DeleteApp(key string) (bundle.App, error) {
	c.installMu.Lock()
	defer c.installMu.Unlock()

	apps, err := bundle.Scan(c.layout.AppsDir())
	if err != nil {
		return bundle.App{}, err
	}
	app, ok := findApp(apps, key)
	if !ok {
		return bundle.App{}, fmt.Errorf("%w: %s", ErrAppNotFound, key)
	}

	if app.HasMarker() {
		m, err := bundle.ReadMarker(app.MarkerPath())
		if err != nil {
			c.log.Warn("cannot read marker, leaving data containers", "app", app.DirName(), "error", err)
		} else {
			for _, name := range m.ContainerFolders() {
				if !safeName(name) {
					continue
				}
				if err := os.RemoveAll(filepath.Join(c.layout.DataDir(), name)); err != nil {
					c.log.Warn("failed to remove data container", "app", app.DirName(), "container", name, "error", err)
				}
			}
		}
	}

	if err := os.RemoveAll(app.Path); err != nil {
		return bundle.App{}, fmt.Errorf("remove %s: %w", app.DirName(), err)
	}
	c.log.Info("app deleted", "app", app.DirName(), "bundle_id", app.BundleID)
	return app, nil
}

// safeName reports whether name is a single path element.
func safeName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`)
}
