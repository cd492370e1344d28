package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/lbox/internal/resumestore"
)

// memStore is an in-memory Store.
type memStore struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemStore() *memStore { return &memStore{m: map[string][]byte{}} }

func (s *memStore) Save(ctx context.Context, url string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[url] = append([]byte(nil), blob...)
	return nil
}

func (s *memStore) Load(ctx context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[url], nil
}

func (s *memStore) Delete(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, url)
	return nil
}

func (s *memStore) URLs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var urls []string
	for u := range s.m {
		urls = append(urls, u)
	}
	return urls, nil
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

type fakeSpace struct{ free uint64 }

func (f fakeSpace) FreeBytes(ctx context.Context, path string) (uint64, error) { return f.free, nil }

// eventLog records observed events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) observe(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) sawKind(k Kind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.State.Kind == k {
			return true
		}
	}
	return false
}

func (l *eventLog) completedPath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Path != "" {
			return ev.Path
		}
	}
	return ""
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func testOptions(t *testing.T) Options {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "Downloads")
	return Options{
		Dir:        dir,
		PartialDir: filepath.Join(dir, ".lbox-partial"),
		Backoff:    func(int) time.Duration { return 5 * time.Millisecond },
	}
}

func openEngine(t *testing.T, store Store, opts Options) *Engine {
	t.Helper()
	e, err := Open(context.Background(), store, opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitDone(t *testing.T, e *Engine, url string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Wait(ctx, url)
}

// rangeServer serves data with ETag-validated Range support. When blockAt
// is set, the first request sends only blockAt bytes and then stalls until
// the client goes away.
type rangeServer struct {
	mu           sync.Mutex
	data         []byte
	etag         string
	blockAt      int
	acceptRanges bool
	ranges       []string
	release      chan struct{}
}

func newRangeServer(t *testing.T, data []byte, blockAt int) (*rangeServer, *httptest.Server) {
	t.Helper()
	rs := &rangeServer{data: data, etag: `"v1"`, blockAt: blockAt, acceptRanges: true, release: make(chan struct{})}
	srv := httptest.NewServer(rs)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(rs.release) })
	return rs, srv
}

func (rs *rangeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rs.mu.Lock()
	rs.ranges = append(rs.ranges, r.Header.Get("Range"))
	first := len(rs.ranges) == 1
	data, etag, acceptRanges := rs.data, rs.etag, rs.acceptRanges
	rs.mu.Unlock()

	if first && rs.blockAt > 0 {
		if acceptRanges {
			w.Header().Set("Accept-Ranges", "bytes")
		}
		w.Header().Set("ETag", etag)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		w.Write(data[:rs.blockAt])
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-rs.release:
		}
		return
	}

	w.Header().Set("ETag", etag)
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
}

func (rs *rangeServer) requestRanges() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.ranges...)
}

func TestEngine_FreshDownload(t *testing.T) {
	data := payload(200 * 1024)
	_, srv := newRangeServer(t, data, 0)

	log := &eventLog{}
	opts := testOptions(t)
	opts.Observer = log.observe
	e := openEngine(t, newMemStore(), opts)

	url := srv.URL + "/apps/Demo"
	if err := e.Start(context.Background(), url); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	path, err := waitDone(t, e, url)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if want := filepath.Join(opts.Dir, "Demo.ipa"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, data) {
		t.Errorf("downloaded %d bytes, content mismatch", len(got))
	}
	if st := e.Status(url); st.Kind != Idle {
		t.Errorf("Status() = %v, want idle", st.Kind)
	}
	if !log.sawKind(Downloading) {
		t.Error("observer never saw Downloading")
	}
	if log.completedPath() != path {
		t.Errorf("completion event path = %q", log.completedPath())
	}
	entries, _ := os.ReadDir(opts.PartialDir)
	if len(entries) != 0 {
		t.Errorf("partial dir not empty after completion: %d entries", len(entries))
	}
}

func TestEngine_StartNoopWhenFileExists(t *testing.T) {
	rs, srv := newRangeServer(t, payload(10), 0)
	opts := testOptions(t)
	e := openEngine(t, newMemStore(), opts)

	existing := filepath.Join(opts.Dir, "Demo.zip")
	os.WriteFile(existing, []byte("done"), 0o644)

	url := srv.URL + "/Demo.ipa"
	if err := e.Start(context.Background(), url); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	path, err := waitDone(t, e, url)
	if err != nil || path != existing {
		t.Errorf("Wait() = %q, %v; want existing file", path, err)
	}
	if n := len(rs.requestRanges()); n != 0 {
		t.Errorf("server was hit %d times, want 0", n)
	}
}

func TestEngine_CompletionReplacesSameNamedFile(t *testing.T) {
	data := payload(4096)
	_, srv := newRangeServer(t, data, 0)
	opts := testOptions(t)
	e := openEngine(t, newMemStore(), opts)

	dest := filepath.Join(opts.Dir, "Demo.ipa")
	os.WriteFile(dest, []byte("stale"), 0o644)

	url := srv.URL + "/Demo.ipa"
	// Resume bypasses the completed-file check, so the name collides.
	if err := e.Resume(context.Background(), url); err != nil {
		t.Fatal(err)
	}
	if _, err := waitDone(t, e, url); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, data) {
		t.Error("existing file was not replaced")
	}
}

func TestEngine_PauseResumeAcrossRestart(t *testing.T) {
	const size = 1 << 20
	blockAt := size * 40 / 100
	data := payload(size)
	rs, srv := newRangeServer(t, data, blockAt)

	opts := testOptions(t)
	stateDir := t.TempDir()
	ctx := context.Background()

	store1, err := resumestore.Open(ctx, filepath.Join(stateDir, "resume.db"), filepath.Join(stateDir, "resume"), nil)
	if err != nil {
		t.Fatalf("resumestore.Open() error = %v", err)
	}
	e1, err := Open(ctx, store1, opts)
	if err != nil {
		t.Fatal(err)
	}

	url := srv.URL + "/big.ipa"
	if err := e1.Start(ctx, url); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "40% written", func() bool { return e1.Status(url).BytesWritten == int64(blockAt) })

	e1.Pause(url)
	st := e1.Status(url)
	if st.Kind != Paused || st.BytesWritten != int64(blockAt) {
		t.Fatalf("Status() after pause = %+v", st)
	}
	if st.Progress() < 0.39 || st.Progress() > 0.41 {
		t.Errorf("Progress() = %v, want ~0.4", st.Progress())
	}

	// Simulate process restart.
	e1.Close()
	store1.Close()

	store2, err := resumestore.Open(ctx, filepath.Join(stateDir, "resume.db"), filepath.Join(stateDir, "resume"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store2.Close()
	e2 := openEngine(t, store2, opts)

	st = e2.Status(url)
	if st.Kind != Paused || st.BytesWritten != int64(blockAt) {
		t.Fatalf("Status() after restart = %+v, want paused at %d", st, blockAt)
	}

	if err := e2.Resume(ctx, url); err != nil {
		t.Fatal(err)
	}
	path, err := waitDone(t, e2, url)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	ranges := rs.requestRanges()
	if len(ranges) != 2 {
		t.Fatalf("server saw %d requests, want 2: %v", len(ranges), ranges)
	}
	if want := fmt.Sprintf("bytes=%d-", blockAt); ranges[1] != want {
		t.Errorf("resume Range = %q, want %q", ranges[1], want)
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, data) {
		t.Error("resumed file content mismatch")
	}
	urls, _ := store2.URLs(ctx)
	if len(urls) != 0 {
		t.Errorf("token not consumed: %v", urls)
	}
}

func TestEngine_CancelThenStartIsFresh(t *testing.T) {
	data := payload(64 * 1024)
	rs, srv := newRangeServer(t, data, 16*1024)
	store := newMemStore()
	opts := testOptions(t)
	e := openEngine(t, store, opts)
	ctx := context.Background()

	url := srv.URL + "/c.ipa"
	e.Start(ctx, url)
	waitFor(t, "partial data", func() bool { return e.Status(url).BytesWritten == 16*1024 })
	e.Pause(url)
	if store.len() != 1 {
		t.Fatalf("expected a stored token after pause")
	}

	if err := e.Cancel(ctx, url); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if store.len() != 0 {
		t.Error("Cancel() left a token behind")
	}
	if st := e.Status(url); st.Kind != Idle {
		t.Errorf("Status() after cancel = %v", st.Kind)
	}
	entries, _ := os.ReadDir(opts.PartialDir)
	if len(entries) != 0 {
		t.Errorf("Cancel() left %d partial files", len(entries))
	}

	e.Start(ctx, url)
	if _, err := waitDone(t, e, url); err != nil {
		t.Fatal(err)
	}
	ranges := rs.requestRanges()
	if last := ranges[len(ranges)-1]; last != "" {
		t.Errorf("start after cancel sent Range %q, want none", last)
	}
}

func TestEngine_PauseWithoutRangeSupportClears(t *testing.T) {
	rs, srv := newRangeServer(t, payload(64*1024), 8*1024)
	rs.acceptRanges = false
	store := newMemStore()
	opts := testOptions(t)
	e := openEngine(t, store, opts)

	url := srv.URL + "/n.ipa"
	e.Start(context.Background(), url)
	waitFor(t, "partial data", func() bool { return e.Status(url).BytesWritten == 8*1024 })
	e.Pause(url)

	if st := e.Status(url); st.Kind != Idle {
		t.Errorf("Status() = %v, want idle", st.Kind)
	}
	if store.len() != 0 {
		t.Error("non-resumable pause stored a token")
	}
	entries, _ := os.ReadDir(opts.PartialDir)
	if len(entries) != 0 {
		t.Error("partial file kept for non-resumable transfer")
	}
}

func TestEngine_RemoteChangeRestartsFromZero(t *testing.T) {
	old := payload(64 * 1024)
	rs, srv := newRangeServer(t, old, 32*1024)
	e := openEngine(t, newMemStore(), testOptions(t))
	ctx := context.Background()

	url := srv.URL + "/changed.ipa"
	e.Start(ctx, url)
	waitFor(t, "partial data", func() bool { return e.Status(url).BytesWritten == 32*1024 })
	e.Pause(url)

	updated := bytes.Repeat([]byte{0xAB}, 50*1024)
	rs.mu.Lock()
	rs.data = updated
	rs.etag = `"v2"`
	rs.mu.Unlock()

	e.Resume(ctx, url)
	path, err := waitDone(t, e, url)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, updated) {
		t.Errorf("got %d bytes, want the updated %d-byte file", len(got), len(updated))
	}
}

func TestEngine_ReconnectsAfterConnectionDrop(t *testing.T) {
	data := payload(32 * 1024)
	var mu sync.Mutex
	var ranges []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ranges = append(ranges, r.Header.Get("Range"))
		first := len(ranges) == 1
		mu.Unlock()

		if first {
			conn, buf, err := w.(http.Hijacker).Hijack()
			if err != nil {
				return
			}
			defer conn.Close()
			fmt.Fprintf(buf, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\nAccept-Ranges: bytes\r\nETag: \"v1\"\r\n\r\n", len(data))
			buf.Write(data[:1000])
			buf.Flush()
			return
		}
		w.Header().Set("ETag", `"v1"`)
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}))
	defer srv.Close()

	log := &eventLog{}
	opts := testOptions(t)
	opts.Observer = log.observe
	e := openEngine(t, newMemStore(), opts)

	url := srv.URL + "/flaky.ipa"
	e.Start(context.Background(), url)
	path, err := waitDone(t, e, url)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if !log.sawKind(WaitingForConnectivity) {
		t.Error("observer never saw WaitingForConnectivity")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(ranges) < 2 || ranges[1] != "bytes=1000-" {
		t.Errorf("reconnect ranges = %v, want second request from byte 1000", ranges)
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, data) {
		t.Error("content mismatch after reconnect")
	}
}

func TestEngine_GivesUpAfterMaxReconnects(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/gone.ipa"
	srv.Close()

	log := &eventLog{}
	opts := testOptions(t)
	opts.MaxReconnects = 2
	opts.Observer = log.observe
	e := openEngine(t, newMemStore(), opts)

	e.Start(context.Background(), url)
	_, err := waitDone(t, e, url)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("Wait() error = %v, want ErrTransferFailed", err)
	}
	if !log.sawKind(WaitingForConnectivity) {
		t.Error("expected WaitingForConnectivity before giving up")
	}
	if st := e.Status(url); st.Kind != Idle {
		t.Errorf("Status() = %v, want idle", st.Kind)
	}
}

func TestEngine_HTTPErrorIsNotRetried(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		http.NotFound(w, r)
	}))
	defer srv.Close()

	e := openEngine(t, newMemStore(), testOptions(t))
	url := srv.URL + "/missing.ipa"
	e.Start(context.Background(), url)
	_, err := waitDone(t, e, url)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("Wait() error = %v, want ErrTransferFailed", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if hits != 1 {
		t.Errorf("server hit %d times, want 1", hits)
	}
}

func TestEngine_InsufficientSpace(t *testing.T) {
	_, srv := newRangeServer(t, payload(4096), 0)
	opts := testOptions(t)
	opts.Space = fakeSpace{free: 100}
	e := openEngine(t, newMemStore(), opts)

	url := srv.URL + "/big.ipa"
	e.Start(context.Background(), url)
	_, err := waitDone(t, e, url)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("Wait() error = %v, want ErrTransferFailed", err)
	}
}

func TestEngine_RateLimited(t *testing.T) {
	data := payload(96 * 1024)
	_, srv := newRangeServer(t, data, 0)
	opts := testOptions(t)
	opts.RateLimit = 4 << 20
	e := openEngine(t, newMemStore(), opts)

	url := srv.URL + "/slow.ipa"
	e.Start(context.Background(), url)
	path, err := waitDone(t, e, url)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, data) {
		t.Error("content mismatch with rate limit")
	}
}

func TestOpen_Reconcile(t *testing.T) {
	opts := testOptions(t)
	os.MkdirAll(opts.PartialDir, 0o755)
	store := newMemStore()
	ctx := context.Background()

	kept := &token{URL: "https://x/kept.ipa", PartialName: "kept.part", BytesWritten: 999, BytesTotal: 50, Resumable: true}
	blob, _ := kept.encode()
	store.Save(ctx, kept.URL, blob)
	os.WriteFile(filepath.Join(opts.PartialDir, "kept.part"), make([]byte, 10), 0o644)

	lost := &token{URL: "https://x/lost.ipa", PartialName: "lost.part", BytesWritten: 5, Resumable: true}
	blob, _ = lost.encode()
	store.Save(ctx, lost.URL, blob)

	store.Save(ctx, "https://x/garbage.ipa", []byte("{not json"))

	orphan := filepath.Join(opts.PartialDir, "orphan.part")
	os.WriteFile(orphan, []byte("x"), 0o644)

	e := openEngine(t, store, opts)

	st := e.Status(kept.URL)
	if st.Kind != Paused || st.BytesWritten != 10 {
		t.Errorf("kept Status() = %+v, want paused with 10 bytes from disk", st)
	}
	if st := e.Status(lost.URL); st.Kind != Idle {
		t.Errorf("lost Status() = %v, want idle", st.Kind)
	}
	if store.len() != 1 {
		t.Errorf("store has %d tokens, want only the reconciled one", store.len())
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Error("orphan partial file was not removed")
	}
	if got := e.Transfers(); len(got) != 1 || got[0] != kept.URL {
		t.Errorf("Transfers() = %v", got)
	}
}

// slowStore widens the window between reserving a URL and launching it.
type slowStore struct {
	*memStore
	delay time.Duration
}

func (s slowStore) Load(ctx context.Context, url string) ([]byte, error) {
	time.Sleep(s.delay)
	return s.memStore.Load(ctx, url)
}

func TestEngine_ConcurrentStartLaunchesOnce(t *testing.T) {
	rs, srv := newRangeServer(t, payload(64*1024), 8*1024)
	e := openEngine(t, slowStore{memStore: newMemStore(), delay: time.Millisecond}, testOptions(t))
	ctx := context.Background()
	url := srv.URL + "/race.ipa"

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.Start(ctx, url); err != nil {
				t.Errorf("Start() error = %v", err)
			}
		}()
	}
	wg.Wait()

	waitFor(t, "first bytes", func() bool { return e.Status(url).BytesWritten == 8*1024 })
	if got := len(rs.requestRanges()); got != 1 {
		t.Fatalf("server saw %d requests for one URL, want 1", got)
	}

	e.Pause(url)
	if st := e.Status(url); st.Kind != Paused {
		t.Errorf("Status() after pause = %v, want paused", st.Kind)
	}
	if got := e.Transfers(); len(got) != 1 {
		t.Errorf("Transfers() = %v, want one entry", got)
	}
}

func TestOpen_RecoversTransferInterruptedByCrash(t *testing.T) {
	data := payload(128 * 1024)
	blockAt := 32 * 1024
	rs, srv := newRangeServer(t, data, blockAt)
	ctx := context.Background()

	opts := testOptions(t)
	e1 := openEngine(t, newMemStore(), opts)
	url := srv.URL + "/crash.ipa"
	if err := e1.Start(ctx, url); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "partial data", func() bool { return e1.Status(url).BytesWritten == int64(blockAt) })

	// A crash leaves the partial directory as it is while the store holds
	// no token. Copy it before the first engine shuts down cleanly.
	crashed := testOptions(t)
	if err := os.MkdirAll(crashed.PartialDir, 0o755); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(opts.PartialDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		b, err := os.ReadFile(filepath.Join(opts.PartialDir, entry.Name()))
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(crashed.PartialDir, entry.Name()), b, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	store := newMemStore()
	e2 := openEngine(t, store, crashed)
	st := e2.Status(url)
	if st.Kind != Paused || st.BytesWritten != int64(blockAt) {
		t.Fatalf("Status() after crash = %+v, want paused at %d", st, blockAt)
	}
	if store.len() != 1 {
		t.Errorf("store has %d tokens, want the recovered one", store.len())
	}

	if err := e2.Resume(ctx, url); err != nil {
		t.Fatal(err)
	}
	path, err := waitDone(t, e2, url)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	ranges := rs.requestRanges()
	if want := fmt.Sprintf("bytes=%d-", blockAt); ranges[len(ranges)-1] != want {
		t.Errorf("recovery Range = %q, want %q", ranges[len(ranges)-1], want)
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, data) {
		t.Error("recovered file content mismatch")
	}
	left, _ := os.ReadDir(crashed.PartialDir)
	if len(left) != 0 {
		t.Errorf("partial directory not empty after completion: %d entries", len(left))
	}
}

func TestOpen_DropsJournalWithoutResumableData(t *testing.T) {
	opts := testOptions(t)
	os.MkdirAll(opts.PartialDir, 0o755)
	store := newMemStore()

	tok := &token{URL: "https://x/plain.ipa", PartialName: "plain.part", Resumable: false}
	blob, _ := tok.encode()
	os.WriteFile(filepath.Join(opts.PartialDir, "plain.part"), make([]byte, 10), 0o644)
	os.WriteFile(filepath.Join(opts.PartialDir, "plain.part"+journalSuffix), blob, 0o644)

	e := openEngine(t, store, opts)
	if st := e.Status(tok.URL); st.Kind != Idle {
		t.Errorf("Status() = %v, want idle", st.Kind)
	}
	if store.len() != 0 {
		t.Error("non-resumable journal produced a token")
	}
	if left, _ := os.ReadDir(opts.PartialDir); len(left) != 0 {
		t.Errorf("partial directory has %d entries, want 0", len(left))
	}
}
