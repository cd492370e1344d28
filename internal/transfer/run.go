package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ZebulonRouseFrantzich/lbox/internal/fsutil"
	"github.com/ZebulonRouseFrantzich/lbox/internal/units"
)

// errRestart asks the run loop to fetch again from byte zero.
var errRestart = errors.New("remote file changed, restarting from zero")

func (e *Engine) run(ctx context.Context, t *task, tok *token) {
	defer close(t.done)

	failures := 0
	for {
		before := tok.BytesWritten
		err := e.fetch(ctx, t, tok)
		if err == nil {
			e.complete(t, tok)
			return
		}
		if ctx.Err() != nil {
			e.stopped(t, tok)
			return
		}
		if errors.Is(err, errRestart) {
			e.log.Info("restarting transfer from zero", "url", t.url)
			continue
		}
		if !isConnectionError(err) {
			e.fail(t, tok, err)
			return
		}

		if tok.BytesWritten > before {
			failures = 0
		}
		failures++
		if e.opts.MaxReconnects > 0 && failures > e.opts.MaxReconnects {
			e.fail(t, tok, fmt.Errorf("connection lost after %d attempts: %w", failures-1, err))
			return
		}

		e.setState(t, State{Kind: WaitingForConnectivity, BytesWritten: tok.BytesWritten, BytesTotal: tok.BytesTotal}, true)
		e.log.Warn("connection lost, waiting to retry", "url", t.url, "attempt", failures, "error", err)

		select {
		case <-time.After(e.opts.Backoff(failures)):
		case <-ctx.Done():
			e.stopped(t, tok)
			return
		}
	}
}

// fetch performs one HTTP request, appending to the partial file from
// tok.BytesWritten. It returns nil once the body has been fully written.
func (e *Engine) fetch(ctx context.Context, t *task, tok *token) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", e.opts.UserAgent)

	offset := tok.BytesWritten
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		if v := tok.validator(); v != "" {
			req.Header.Set("If-Range", v)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		start, total, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if !ok || start != offset {
			e.resetToken(tok)
			return errRestart
		}
		tok.BytesTotal = total
		tok.Resumable = true
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
		// Full body: either a fresh start or the server ignored Range
		// because the file changed.
		if offset > 0 {
			e.log.Info("server sent full content, discarding partial data", "url", t.url)
		}
		offset = 0
		tok.BytesWritten = 0
		tok.BytesTotal = resp.ContentLength
		if tok.BytesTotal < 0 {
			tok.BytesTotal = UnknownSize
		}
		tok.ETag = resp.Header.Get("ETag")
		tok.LastModified = resp.Header.Get("Last-Modified")
		tok.Resumable = resp.Header.Get("Accept-Ranges") == "bytes"
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		e.resetToken(tok)
		return errRestart
	default:
		return fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	e.writeJournal(tok)
	if err := e.checkSpace(ctx, tok); err != nil {
		return err
	}

	f, err := os.OpenFile(e.partialPath(tok), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open partial file: %w", err)
	}
	defer f.Close()
	if err := f.Truncate(offset); err != nil {
		return fmt.Errorf("truncate partial file: %w", err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek partial file: %w", err)
	}

	e.setState(t, State{Kind: Downloading, BytesWritten: tok.BytesWritten, BytesTotal: tok.BytesTotal}, true)

	buf := make([]byte, readBufferSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if e.limiter != nil {
				if err := e.limiter.WaitN(ctx, n); err != nil {
					return err
				}
			}
			if _, err := f.Write(buf[:n]); err != nil {
				return fmt.Errorf("write partial file: %w", err)
			}
			tok.BytesWritten += int64(n)
			e.setState(t, State{Kind: Downloading, BytesWritten: tok.BytesWritten, BytesTotal: tok.BytesTotal}, false)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}

	if tok.BytesTotal >= 0 && tok.BytesWritten < tok.BytesTotal {
		return io.ErrUnexpectedEOF
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync partial file: %w", err)
	}
	return f.Close()
}

func (e *Engine) resetToken(tok *token) {
	tok.BytesWritten = 0
	tok.BytesTotal = UnknownSize
	tok.ETag = ""
	tok.LastModified = ""
}

func (e *Engine) checkSpace(ctx context.Context, tok *token) error {
	if e.opts.Space == nil || tok.BytesTotal <= 0 {
		return nil
	}
	need := tok.BytesTotal - tok.BytesWritten
	free, err := e.opts.Space.FreeBytes(ctx, e.opts.PartialDir)
	if err != nil {
		e.log.Debug("free space check unavailable", "error", err)
		return nil
	}
	if uint64(need) > free {
		return fmt.Errorf("insufficient disk space: need %s, %s free",
			units.HumanBytes(need), units.HumanBytes(int64(free)))
	}
	return nil
}

// complete moves the finished partial file into the download folder. A
// file with the same name is replaced.
func (e *Engine) complete(t *task, tok *token) {
	dest := filepath.Join(e.opts.Dir, FileName(t.url))
	if fsutil.Exists(dest) {
		e.log.Warn("replacing existing download", "path", dest)
		if err := os.RemoveAll(dest); err != nil {
			e.fail(t, tok, fmt.Errorf("remove existing file: %w", err))
			return
		}
	}
	if err := os.Rename(e.partialPath(tok), dest); err != nil {
		e.fail(t, tok, fmt.Errorf("move completed file: %w", err))
		return
	}
	fsutil.SyncDir(e.opts.Dir)
	e.removeJournal(tok)

	// No token should exist while the task ran; make sure none lingers.
	e.store.Delete(context.Background(), t.url)

	final := State{Kind: Idle, BytesWritten: tok.BytesWritten, BytesTotal: tok.BytesWritten}
	e.finish(t, final, dest, nil)
	e.log.Info("transfer complete", "url", t.url, "path", dest, "bytes", tok.BytesWritten)
	e.notify(Event{URL: t.url, State: final, Path: dest})
}

// stopped handles a task ended by Pause, Cancel or Close.
func (e *Engine) stopped(t *task, tok *token) {
	e.mu.Lock()
	mode := t.mode
	e.mu.Unlock()

	if mode == stopCancel {
		os.Remove(e.partialPath(tok))
		e.removeJournal(tok)
		e.finish(t, State{Kind: Idle, BytesTotal: UnknownSize}, "", nil)
		e.log.Info("transfer cancelled", "url", t.url)
		return
	}

	st := e.park(t.url, tok)
	e.finish(t, st, "", nil)
	e.log.Info("transfer stopped", "url", t.url, "state", st.Kind.String(), "bytes", st.BytesWritten)
	e.notify(Event{URL: t.url, State: st})
}

// fail records err and leaves the URL resumable when possible, Idle otherwise.
func (e *Engine) fail(t *task, tok *token, err error) {
	err = fmt.Errorf("%w: %s: %v", ErrTransferFailed, t.url, err)
	st := e.park(t.url, tok)
	e.finish(t, st, "", err)
	e.log.Error("transfer failed", "url", t.url, "error", err)
	e.notify(Event{URL: t.url, State: st, Err: err})
}

// park saves a continuation token when the server supports resumption and
// some bytes were written; otherwise it drops the partial file.
func (e *Engine) park(url string, tok *token) State {
	defer e.removeJournal(tok)
	if !tok.Resumable || tok.BytesWritten == 0 {
		os.Remove(e.partialPath(tok))
		return State{Kind: Idle, BytesTotal: UnknownSize}
	}

	blob, err := tok.encode()
	if err == nil {
		err = e.store.Save(context.Background(), url, blob)
	}
	if err != nil {
		// The store keeps its in-memory copy; only a crash loses the token.
		e.log.Error("failed to persist resume token", "url", url, "error", err)
	}
	return State{Kind: Paused, BytesWritten: tok.BytesWritten, BytesTotal: tok.BytesTotal}
}

func (e *Engine) finish(t *task, st State, path string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t.state = st
	t.path = path
	t.err = err
	delete(e.tasks, t.url)
	e.finished[t.url] = t
	if st.Kind != Idle {
		e.states[t.url] = st
	}
}

// setState updates the live state. Progress-only updates are throttled.
func (e *Engine) setState(t *task, st State, force bool) {
	e.mu.Lock()
	changed := t.state.Kind != st.Kind
	t.state = st
	now := time.Now()
	emit := force || changed || now.Sub(t.lastNotify) >= progressInterval
	if emit {
		t.lastNotify = now
	}
	e.mu.Unlock()

	if emit {
		e.notify(Event{URL: t.url, State: st})
	}
}

// parseContentRange parses "bytes start-end/total". total is UnknownSize
// for "*".
func parseContentRange(v string) (start, total int64, ok bool) {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "bytes ") {
		return 0, 0, false
	}
	rng, size, found := strings.Cut(strings.TrimPrefix(v, "bytes "), "/")
	if !found {
		return 0, 0, false
	}
	first, _, found := strings.Cut(rng, "-")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if size == "*" {
		return start, UnknownSize, true
	}
	total, err = strconv.ParseInt(size, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return start, total, true
}

// isConnectionError reports whether err means the network went away, as
// opposed to the server refusing the request.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection timed out") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "EOF")
}
