// Package service provides the lbox Client, the single owner of shared
// download and install state.
//
// A Client wires the transfer engine, archive extractor, install finalizer,
// backup ledger and repository catalog together. Transfers and extraction
// run in the background; every mutation of the installed-apps directory and
// the pending-installation slot is serialized by the Client.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ZebulonRouseFrantzich/lbox/internal/archive"
	"github.com/ZebulonRouseFrantzich/lbox/internal/backup"
	"github.com/ZebulonRouseFrantzich/lbox/internal/catalog"
	"github.com/ZebulonRouseFrantzich/lbox/internal/config"
	"github.com/ZebulonRouseFrantzich/lbox/internal/install"
	"github.com/ZebulonRouseFrantzich/lbox/internal/logging"
	"github.com/ZebulonRouseFrantzich/lbox/internal/platform"
	"github.com/ZebulonRouseFrantzich/lbox/internal/resumestore"
	"github.com/ZebulonRouseFrantzich/lbox/internal/storage"
	"github.com/ZebulonRouseFrantzich/lbox/internal/transfer"
)

var (
	// ErrPendingInstallation means a collision is already awaiting a decision.
	ErrPendingInstallation = errors.New("another installation is awaiting a decision")
	// ErrNoPendingInstallation means Resolve was called with an empty slot.
	ErrNoPendingInstallation = errors.New("no installation is awaiting a decision")
	// ErrAppNotFound means no installed app matches the request.
	ErrAppNotFound = errors.New("app not installed")
)

// Notifier delivers user-facing notices such as a finished download.
type Notifier interface {
	Notify(title, body string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(title, body string) {}

// Options configures a Client. Config is required.
type Options struct {
	Config *config.Config
	// Space is used for free-space preflight checks. nil disables them.
	Space      platform.SpaceChecker
	HTTPClient *http.Client // nil uses per-component defaults
	UserAgent  string
	Notifier   Notifier
	Clock      Clock
	Logger     logging.Logger
}

// Client is the owner context for all lbox operations.
type Client struct {
	cfg       *config.Config
	layout    *storage.Layout
	store     *resumestore.Store
	engine    *transfer.Engine
	extractor *archive.Extractor
	finalizer *install.Finalizer
	ledger    *backup.Ledger
	catalog   *catalog.Catalog
	notifier  Notifier
	clock     Clock
	log       logging.Logger

	// installMu serializes changes to the installed-apps directory.
	installMu sync.Mutex

	mu      sync.Mutex
	pending *install.Pending
	closed  bool

	bg sync.WaitGroup
}

// Open creates the managed directories and opens every persistent store.
func Open(ctx context.Context, opts Options) (*Client, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("service: config is required")
	}
	c := &Client{
		cfg:      opts.Config,
		layout:   storage.NewLayout(opts.Config.Storage),
		notifier: opts.Notifier,
		clock:    opts.Clock,
		log:      logging.OrNop(opts.Logger),
	}
	if c.notifier == nil {
		c.notifier = nopNotifier{}
	}
	if c.clock == nil {
		c.clock = RealClock{}
	}

	if err := c.layout.Ensure(); err != nil {
		return nil, fmt.Errorf("prepare storage: %w", err)
	}
	c.removeStaleStaging()

	store, err := resumestore.Open(ctx, c.layout.ResumeIndexPath(), c.layout.ResumeDir(), c.log)
	if err != nil {
		return nil, fmt.Errorf("open resume store: %w", err)
	}
	c.store = store

	c.ledger, err = backup.Open(c.layout.LedgerPath(), c.layout.BackupsDir(), c.layout, c.log)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open backup ledger: %w", err)
	}
	c.extractor = archive.NewExtractor(opts.Space, c.log)
	c.finalizer = install.NewFinalizer(c.layout, c.ledger, c.log, c.clock.Now)

	c.catalog, err = catalog.Open(c.layout.CatalogPath(), catalog.Options{
		Client:      opts.HTTPClient,
		UserAgent:   opts.UserAgent,
		Concurrency: c.cfg.Transfer.FetchConcurrency,
		Logger:      c.log,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if err := c.seedRepositories(); err != nil {
		store.Close()
		return nil, err
	}

	c.engine, err = transfer.Open(ctx, store, transfer.Options{
		Dir:            c.layout.DownloadsDir(),
		PartialDir:     c.layout.PartialDir(),
		Client:         opts.HTTPClient,
		ConnectTimeout: c.cfg.Transfer.ConnectTimeout,
		UserAgent:      opts.UserAgent,
		RateLimit:      c.cfg.Transfer.RateLimit,
		MaxReconnects:  c.cfg.Transfer.Retries,
		Space:          opts.Space,
		Observer:       c.onTransfer,
		Logger:         c.log,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open transfer engine: %w", err)
	}
	return c, nil
}

// Close pauses active transfers, waits for background work, drops any
// undecided installation (its archive is kept) and closes the stores.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.engine.Close()
	c.bg.Wait()

	c.mu.Lock()
	p := c.pending
	c.pending = nil
	c.mu.Unlock()
	if p != nil {
		c.log.Warn("dropping undecided installation", "bundle_id", p.BundleID, "archive", p.Staged.SourceArchive)
		c.installMu.Lock()
		c.finalizer.Finalize(p, install.Cancel)
		c.installMu.Unlock()
	}

	return c.store.Close()
}

// Layout exposes the resolved storage directories.
func (c *Client) Layout() *storage.Layout { return c.layout }

// Config returns the configuration the client was opened with.
func (c *Client) Config() *config.Config { return c.cfg }

// Settle blocks until background conversions started by finished
// downloads have completed.
func (c *Client) Settle() { c.bg.Wait() }

// seedRepositories adds configured repositories missing from the catalog.
func (c *Client) seedRepositories() error {
	if len(c.cfg.Repositories) == 0 {
		return nil
	}
	err := c.catalog.Update(func(t *catalog.Tree) error {
		for _, r := range c.cfg.Repositories {
			n, err := t.AddRepo(r.URL, r.Name, "")
			if errors.Is(err, catalog.ErrExists) {
				continue
			}
			if err != nil {
				return err
			}
			n.Enabled = r.Enabled
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed repositories: %w", err)
	}
	return nil
}

// removeStaleStaging deletes extraction directories left behind by a
// previous process that exited before finalizing.
func (c *Client) removeStaleStaging() {
	dir := c.layout.AppsDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), archive.TempPrefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			c.log.Warn("failed to remove stale staging directory", "dir", e.Name(), "error", err)
			continue
		}
		c.log.Debug("removed stale staging directory", "dir", e.Name())
	}
}

// goBackground runs fn unless the client is closing.
func (c *Client) goBackground(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		fn()
	}()
	return true
}
