package catalog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ZebulonRouseFrantzich/lbox/internal/fsutil"
	"github.com/ZebulonRouseFrantzich/lbox/internal/logging"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultConcurrency bounds simultaneous repository fetches.
	DefaultConcurrency = 3

	maxDocumentSize = 32 << 20
	fileVersion     = 1
)

// Options configures a Catalog.
type Options struct {
	Client      *http.Client
	UserAgent   string
	Concurrency int
	Logger      logging.Logger
}

// Catalog owns the repository tree and its persisted copy.
type Catalog struct {
	path   string
	client *http.Client
	ua     string
	limit  int
	log    logging.Logger

	mu   sync.Mutex
	tree *Tree
}

type catalogFile struct {
	Version int   `json:"version"`
	Tree    *Tree `json:"tree"`
}

// Open loads the catalog stored at path. A missing file is an empty tree.
func Open(path string, opts Options) (*Catalog, error) {
	c := &Catalog{
		path:   path,
		client: opts.Client,
		ua:     opts.UserAgent,
		limit:  opts.Concurrency,
		log:    logging.OrNop(opts.Logger),
		tree:   NewTree(),
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: time.Minute}
	}
	if c.limit <= 0 {
		c.limit = DefaultConcurrency
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f catalogFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if f.Tree != nil {
		if f.Tree.Nodes == nil {
			f.Tree.Nodes = make(map[string]*Node)
		}
		c.tree = f.Tree
	}
	return c, nil
}

// Save writes the tree atomically.
func (c *Catalog) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

func (c *Catalog) saveLocked() error {
	if err := fsutil.WriteJSONAtomic(c.path, catalogFile{Version: fileVersion, Tree: c.tree}, 0o644); err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	return nil
}

// Update applies fn to the tree and persists the result when fn succeeds.
func (c *Catalog) Update(fn func(t *Tree) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := fn(c.tree); err != nil {
		return err
	}
	return c.saveLocked()
}

// View calls fn with the tree under the catalog lock. fn must not keep
// references to nodes.
func (c *Catalog) View(fn func(t *Tree)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.tree)
}

// Apps returns the cached listings of every enabled repository.
func (c *Catalog) Apps() []AppItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	var apps []AppItem
	for _, n := range c.tree.EnabledLeaves() {
		apps = append(apps, n.Apps...)
	}
	return apps
}

// Summary reports the outcome of a refresh.
type Summary struct {
	Repos  int
	Failed int
	Apps   int
}

type leafRef struct{ id, url string }

// Refresh re-reads remote folder lists, then fetches every enabled
// repository, at most Concurrency at a time. A repository that fails to
// fetch is disabled and keeps the error. The tree is saved once at the end.
func (c *Catalog) Refresh(ctx context.Context) (Summary, error) {
	c.refreshFolders(ctx)

	c.mu.Lock()
	var leaves []leafRef
	for _, n := range c.tree.EnabledLeaves() {
		n.Status = StatusWaiting
		leaves = append(leaves, leafRef{id: n.ID, url: n.URL})
	}
	c.mu.Unlock()

	var (
		g       errgroup.Group
		summary = Summary{Repos: len(leaves)}
		smu     sync.Mutex
	)
	g.SetLimit(c.limit)
	for _, leaf := range leaves {
		g.Go(func() error {
			c.setStatus(leaf.id, StatusLoading)
			repo, err := c.fetchRepo(ctx, leaf.url)
			if err != nil && ctx.Err() != nil {
				// Interrupted, not broken: keep the repository enabled.
				c.setStatus(leaf.id, StatusIdle)
				return nil
			}
			c.applyRepo(leaf.id, repo, err)

			smu.Lock()
			if err != nil {
				summary.Failed++
			} else {
				summary.Apps += len(repo.Apps)
			}
			smu.Unlock()
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	c.log.Info("catalog refreshed", "repos", summary.Repos, "failed", summary.Failed, "apps", summary.Apps)
	return summary, c.Save()
}

func (c *Catalog) refreshFolders(ctx context.Context) {
	c.mu.Lock()
	var folders []leafRef
	for _, n := range c.tree.RemoteFolders() {
		folders = append(folders, leafRef{id: n.ID, url: n.ChildrenURL})
	}
	c.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(c.limit)
	for _, f := range folders {
		g.Go(func() error {
			urls, err := c.fetchList(ctx, f.url)

			c.mu.Lock()
			defer c.mu.Unlock()
			n, ok := c.tree.Get(f.id)
			if !ok {
				return nil
			}
			if err != nil {
				c.log.Warn("remote folder fetch failed", "folder", n.Name, "error", err)
				n.Status, n.Error = StatusError, err.Error()
				return nil
			}
			if len(urls) > 0 {
				c.tree.replaceChildren(n, urls)
			}
			n.Status, n.Error = StatusSuccess, ""
			return nil
		})
	}
	g.Wait()
}

func (c *Catalog) setStatus(id string, s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.tree.Get(id); ok {
		n.Status = s
	}
}

func (c *Catalog) applyRepo(id string, repo *repoResponse, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.tree.Get(id)
	if !ok {
		return
	}
	if err != nil {
		c.log.Warn("repository fetch failed, disabling", "repo", n.URL, "error", err)
		n.Enabled = false
		n.Status, n.Error = StatusError, err.Error()
		return
	}

	n.Name = repo.Name
	if icon := repo.bestIcon(); icon != "" {
		n.IconURL = icon
	}
	apps := make([]AppItem, len(repo.Apps))
	for i, a := range repo.Apps {
		a.Source = repo.Name
		apps[i] = a
	}
	n.Apps = apps
	n.AppCount = len(apps)
	n.Status, n.Error = StatusSuccess, ""
}

func (c *Catalog) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", rawURL, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return data, nil
}

func (c *Catalog) fetchRepo(ctx context.Context, rawURL string) (*repoResponse, error) {
	data, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	var repo repoResponse
	if err := json.Unmarshal(data, &repo); err != nil {
		return nil, fmt.Errorf("decode repository: %w", err)
	}
	if repo.Name == "" {
		return nil, fmt.Errorf("decode repository: missing name")
	}
	return &repo, nil
}

// fetchList reads a newline-separated list of repository URLs.
func (c *Catalog) fetchList(ctx context.Context, rawURL string) ([]string, error) {
	data, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	var urls []string
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		u, err := NormalizeURL(line)
		if err != nil {
			c.log.Debug("skipping invalid list entry", "entry", line)
			continue
		}
		urls = append(urls, u)
	}
	return urls, sc.Err()
}
