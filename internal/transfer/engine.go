// Package transfer runs resumable HTTP downloads, one task per URL.
//
// Every URL is in exactly one State. Pausing captures a continuation token
// into the resume store; cancelling purges it. Connectivity failures are
// retried automatically with backoff from the byte offset already on disk.
// Completed files are renamed atomically into the download folder.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ZebulonRouseFrantzich/lbox/internal/logging"
	"github.com/ZebulonRouseFrantzich/lbox/internal/platform"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrTransferFailed wraps every non-recoverable transfer error.
var ErrTransferFailed = errors.New("transfer failed")

const (
	// DefaultConnectTimeout bounds dialing and waiting for response headers.
	DefaultConnectTimeout = 30 * time.Second
	// DefaultUserAgent is the User-Agent header sent with requests
	DefaultUserAgent = "lbox/1.0"

	partialSuffix    = ".part"
	readBufferSize   = 32 * 1024
	progressInterval = 100 * time.Millisecond
	maxBackoff       = 30 * time.Second
)

// Store persists continuation tokens keyed by URL. resumestore.Store
// implements it.
type Store interface {
	Save(ctx context.Context, url string, blob []byte) error
	Load(ctx context.Context, url string) ([]byte, error)
	Delete(ctx context.Context, url string) error
	URLs(ctx context.Context) ([]string, error)
}

// Options configures an Engine.
type Options struct {
	// Dir is the download folder completed files are moved into.
	Dir string
	// PartialDir holds in-flight files. It must be on the same filesystem as Dir.
	PartialDir string

	Client         *http.Client // nil builds one from ConnectTimeout
	ConnectTimeout time.Duration
	UserAgent      string
	RateLimit      int64 // bytes/second across all transfers, 0 = unlimited
	// MaxReconnects bounds consecutive connectivity failures before the
	// transfer gives up. 0 retries until paused or cancelled.
	MaxReconnects int
	// Backoff returns the delay before reconnect attempt n (1-based).
	Backoff func(n int) time.Duration

	Space    platform.SpaceChecker // optional free-space preflight
	Observer Observer
	Logger   logging.Logger
}

type stopMode int

const (
	stopNone stopMode = iota
	stopPause
	stopCancel
)

type task struct {
	url    string
	cancel context.CancelFunc
	done   chan struct{}

	// guarded by Engine.mu
	mode       stopMode
	state      State
	lastNotify time.Time
	path       string
	err        error
}

// Engine manages concurrent downloads. All methods are safe for concurrent
// use.
type Engine struct {
	opts    Options
	store   Store
	client  *http.Client
	limiter *rate.Limiter
	log     logging.Logger

	mu       sync.Mutex
	tasks    map[string]*task
	states   map[string]State // non-idle states of URLs without a task
	finished map[string]*task // most recent ended task per URL
}

// Open creates an Engine and reconciles persisted tokens with partial files
// left on disk by a previous process.
func Open(ctx context.Context, store Store, opts Options) (*Engine, error) {
	if opts.Dir == "" || opts.PartialDir == "" {
		return nil, fmt.Errorf("transfer: download and partial directories are required")
	}
	for _, dir := range []string{opts.Dir, opts.PartialDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Backoff == nil {
		opts.Backoff = exponentialBackoff
	}

	e := &Engine{
		opts:     opts,
		store:    store,
		client:   opts.Client,
		log:      logging.OrNop(opts.Logger),
		tasks:    make(map[string]*task),
		finished: make(map[string]*task),
		states:   make(map[string]State),
	}
	if e.client == nil {
		e.client = newHTTPClient(opts.ConnectTimeout)
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < readBufferSize {
			burst = readBufferSize
		}
		e.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	if err := e.reconcile(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func newHTTPClient(connectTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.ResponseHeaderTimeout = connectTimeout
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			return nil
		},
	}
}

func exponentialBackoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if n > 6 {
		return maxBackoff
	}
	d := time.Duration(1<<uint(n-1)) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// reconcile rebuilds Paused states from stored tokens, recomputing byte
// counts from the partial files actually on disk. Journals of transfers
// interrupted by a crash are turned back into tokens. Partial files nothing
// references are removed.
func (e *Engine) reconcile(ctx context.Context) error {
	urls, err := e.store.URLs(ctx)
	if err != nil {
		return fmt.Errorf("list resume tokens: %w", err)
	}

	referenced := make(map[string]bool)
	for _, u := range urls {
		tok, err := e.loadToken(ctx, u)
		if err != nil || tok == nil {
			e.log.Warn("dropping unreadable resume token", "url", u, "error", err)
			e.store.Delete(ctx, u)
			continue
		}
		info, err := os.Stat(e.partialPath(tok))
		if err != nil {
			e.log.Warn("partial file missing, dropping resume token", "url", u, "file", tok.PartialName)
			e.store.Delete(ctx, u)
			continue
		}
		referenced[tok.PartialName] = true
		e.states[u] = State{Kind: Paused, BytesWritten: info.Size(), BytesTotal: tok.BytesTotal}
	}

	entries, err := os.ReadDir(e.opts.PartialDir)
	if err != nil {
		return fmt.Errorf("read partial directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && isJournal(entry.Name()) {
			e.recoverJournal(ctx, entry.Name(), referenced)
		}
	}
	for _, entry := range entries {
		if entry.IsDir() || isJournal(entry.Name()) || referenced[entry.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(e.opts.PartialDir, entry.Name())); err == nil {
			e.log.Debug("removed orphaned partial file", "file", entry.Name())
		}
	}
	return nil
}

// Start begins downloading url. It is a no-op when the URL is already
// active or a completed file exists; a paused URL is resumed.
func (e *Engine) Start(ctx context.Context, url string) error {
	e.mu.Lock()
	_, active := e.tasks[url]
	e.mu.Unlock()
	if active {
		return nil
	}
	if path, ok := e.LocalFile(url); ok {
		e.log.Debug("download already on disk", "url", url, "path", path)
		return nil
	}
	return e.Resume(ctx, url)
}

// Resume continues url from its stored token, or starts it fresh when no
// token exists.
func (e *Engine) Resume(ctx context.Context, url string) error {
	t, runCtx, ok := e.reserve(url)
	if !ok {
		return nil
	}

	tok, err := e.loadToken(ctx, url)
	if err != nil {
		e.log.Warn("discarding unreadable resume token", "url", url, "error", err)
		tok = nil
	}
	if tok != nil {
		// The token is consumed: it must not exist while a task owns the URL.
		// The journal keeps the partial file recoverable after a crash.
		e.writeJournal(tok)
		if err := e.store.Delete(ctx, url); err != nil {
			e.log.Warn("failed to consume resume token", "url", url, "error", err)
		}
		if info, err := os.Stat(e.partialPath(tok)); err != nil {
			tok.BytesWritten = 0
		} else if info.Size() < tok.BytesWritten {
			tok.BytesWritten = info.Size()
		}
	} else {
		tok = &token{
			Version:     1,
			URL:         url,
			PartialName: uuid.NewString() + partialSuffix,
			BytesTotal:  UnknownSize,
			CreatedAt:   time.Now().UTC(),
		}
	}

	st := State{Kind: Downloading, BytesWritten: tok.BytesWritten, BytesTotal: tok.BytesTotal}
	e.mu.Lock()
	t.state = st
	e.mu.Unlock()

	e.log.Info("transfer started", "url", url, "offset", tok.BytesWritten)
	e.notify(Event{URL: url, State: st})
	go e.run(runCtx, t, tok)
	return nil
}

// reserve registers a task for url unless one is already active. The check
// and the registration happen under one lock so concurrent callers start
// at most one transfer.
func (e *Engine) reserve(url string) (*task, context.Context, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, active := e.tasks[url]; active {
		return nil, nil, false
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		url:    url,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  State{Kind: Downloading, BytesTotal: UnknownSize},
	}
	if prev, ok := e.states[url]; ok {
		t.state.BytesWritten, t.state.BytesTotal = prev.BytesWritten, prev.BytesTotal
	}
	e.tasks[url] = t
	delete(e.states, url)
	delete(e.finished, url)
	return t, ctx, true
}

// Pause stops url and keeps a continuation token. When the server cannot
// resume, the partial data is dropped and the URL returns to Idle.
func (e *Engine) Pause(url string) {
	e.stop(url, stopPause)
}

// Cancel stops url and purges its token and partial data. The next Start
// begins from zero.
func (e *Engine) Cancel(ctx context.Context, url string) error {
	e.stop(url, stopCancel)

	e.mu.Lock()
	delete(e.states, url)
	e.mu.Unlock()

	tok, _ := e.loadToken(ctx, url)
	if tok != nil {
		os.Remove(e.partialPath(tok))
		e.removeJournal(tok)
	}
	if err := e.store.Delete(ctx, url); err != nil {
		return fmt.Errorf("purge resume token: %w", err)
	}
	e.notify(Event{URL: url, State: State{Kind: Idle, BytesTotal: UnknownSize}})
	return nil
}

func (e *Engine) stop(url string, mode stopMode) {
	e.mu.Lock()
	t, ok := e.tasks[url]
	if ok {
		t.mode = mode
		t.cancel()
	}
	e.mu.Unlock()
	if ok {
		<-t.done
	}
}

// Status returns the current state of url.
func (e *Engine) Status(url string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tasks[url]; ok {
		return t.state
	}
	if s, ok := e.states[url]; ok {
		return s
	}
	return State{Kind: Idle, BytesTotal: UnknownSize}
}

// Transfers returns every URL that is not Idle, sorted.
func (e *Engine) Transfers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	urls := make([]string, 0, len(e.tasks)+len(e.states))
	for u := range e.tasks {
		urls = append(urls, u)
	}
	for u := range e.states {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// Wait blocks until the active task for url ends and returns the completed
// file path (empty when paused or failed) and the failure, if any. When
// no task is active it reports the outcome of the last one.
func (e *Engine) Wait(ctx context.Context, url string) (string, error) {
	e.mu.Lock()
	t, ok := e.tasks[url]
	if !ok {
		t, ok = e.finished[url]
	}
	e.mu.Unlock()
	if !ok {
		if path, ok := e.LocalFile(url); ok {
			return path, nil
		}
		return "", nil
	}

	select {
	case <-t.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return t.path, t.err
}

// LocalFile returns the completed file for url, checking the ".ipa" name,
// the raw last path element and the ".zip" variant.
func (e *Engine) LocalFile(url string) (string, bool) {
	for _, name := range candidateNames(url) {
		p := filepath.Join(e.opts.Dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// Close pauses every active transfer so its token survives the process.
func (e *Engine) Close() {
	e.mu.Lock()
	urls := make([]string, 0, len(e.tasks))
	for u := range e.tasks {
		urls = append(urls, u)
	}
	e.mu.Unlock()
	for _, u := range urls {
		e.Pause(u)
	}
}

func (e *Engine) loadToken(ctx context.Context, url string) (*token, error) {
	blob, err := e.store.Load(ctx, url)
	if err != nil || blob == nil {
		return nil, err
	}
	return decodeToken(blob)
}

func (e *Engine) partialPath(tok *token) string {
	return filepath.Join(e.opts.PartialDir, filepath.Base(tok.PartialName))
}

func (e *Engine) notify(ev Event) {
	if e.opts.Observer != nil {
		e.opts.Observer(ev)
	}
}
