package transfer

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/lbox/internal/fsutil"
)

// A journal sits next to the partial file of a running transfer and holds
// its token. It is not a resume token: the store stays empty while a task
// owns the URL. After a crash, reconcile turns it back into one.
const journalSuffix = ".journal"

func isJournal(name string) bool { return strings.HasSuffix(name, journalSuffix) }

func (e *Engine) journalPath(tok *token) string {
	return e.partialPath(tok) + journalSuffix
}

func (e *Engine) writeJournal(tok *token) {
	blob, err := tok.encode()
	if err == nil {
		err = fsutil.WriteFileAtomic(e.journalPath(tok), blob, 0o644)
	}
	if err != nil {
		e.log.Debug("failed to write transfer journal", "url", tok.URL, "error", err)
	}
}

func (e *Engine) removeJournal(tok *token) {
	if err := os.Remove(e.journalPath(tok)); err != nil && !os.IsNotExist(err) {
		e.log.Debug("failed to remove transfer journal", "url", tok.URL, "error", err)
	}
}

// recoverJournal rebuilds a Paused state from a journal whose partial file
// still holds resumable data. The journal is always removed.
func (e *Engine) recoverJournal(ctx context.Context, name string, referenced map[string]bool) {
	path := filepath.Join(e.opts.PartialDir, name)
	defer os.Remove(path)

	partial := strings.TrimSuffix(name, journalSuffix)
	if referenced[partial] {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	tok, err := decodeToken(data)
	if err != nil || tok.URL == "" || filepath.Base(tok.PartialName) != partial {
		e.log.Warn("dropping unreadable transfer journal", "file", name, "error", err)
		return
	}
	if _, ok := e.states[tok.URL]; ok {
		return
	}
	info, err := os.Stat(e.partialPath(tok))
	if err != nil || info.Size() == 0 || !tok.Resumable {
		return
	}

	tok.BytesWritten = info.Size()
	blob, err := tok.encode()
	if err == nil {
		err = e.store.Save(ctx, tok.URL, blob)
	}
	if err != nil {
		e.log.Warn("failed to restore interrupted transfer", "url", tok.URL, "error", err)
		return
	}
	referenced[partial] = true
	e.states[tok.URL] = State{Kind: Paused, BytesWritten: tok.BytesWritten, BytesTotal: tok.BytesTotal}
	e.log.Info("recovered interrupted transfer", "url", tok.URL, "bytes", tok.BytesWritten)
}
