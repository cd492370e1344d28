// Package resumestore persists partial-download continuation tokens keyed by
// source URL. Each token is an opaque blob written to its own file; a SQLite
// index maps URLs to blob filenames. Tokens survive process restart.
package resumestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ZebulonRouseFrantzich/lbox/internal/fsutil"
	"github.com/ZebulonRouseFrantzich/lbox/internal/logging"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// ErrPersistenceWrite wraps failures to durably record a token. The
// in-memory copy is still updated when this is returned.
var ErrPersistenceWrite = errors.New("resume token persistence failed")

const blobSuffix = ".resume"

// Store is a durable URL → token blob map with an in-memory cache.
type Store struct {
	db      *sql.DB
	blobDir string
	log     logging.Logger

	mu    sync.Mutex
	cache map[string][]byte
}

// Open opens (creating if needed) the index at indexPath and the blob
// directory blobDir, applies migrations and removes unreferenced blobs.
func Open(ctx context.Context, indexPath, blobDir string, log logging.Logger) (*Store, error) {
	if err := os.MkdirAll(blobDir, 0o700); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(indexPath), 0o700); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	dsn := "file:" + indexPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open resume index: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:      db,
		blobDir: blobDir,
		log:     logging.OrNop(log),
		cache:   make(map[string][]byte),
	}
	s.pruneOrphans(ctx)
	return s, nil
}

// Close releases the index.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save records blob for url, replacing any earlier token.
func (s *Store) Save(ctx context.Context, url string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache[url] = append([]byte(nil), blob...)

	name := uuid.NewString() + blobSuffix
	if err := fsutil.WriteFileAtomic(filepath.Join(s.blobDir, name), blob, 0o600); err != nil {
		return fmt.Errorf("%w: write blob: %v", ErrPersistenceWrite, err)
	}

	old, err := s.lookup(ctx, url)
	if err != nil {
		os.Remove(filepath.Join(s.blobDir, name))
		return fmt.Errorf("%w: %v", ErrPersistenceWrite, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resume_index (url, filename, size, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			filename = excluded.filename,
			size = excluded.size,
			updated_at = excluded.updated_at
	`, url, name, len(blob), time.Now().Unix())
	if err != nil {
		os.Remove(filepath.Join(s.blobDir, name))
		return fmt.Errorf("%w: index %s: %v", ErrPersistenceWrite, url, err)
	}

	if old != "" && old != name {
		if err := os.Remove(filepath.Join(s.blobDir, old)); err != nil && !os.IsNotExist(err) {
			s.log.Warn("failed to remove superseded resume blob", "url", url, "file", old, "error", err)
		}
	}
	return nil
}

// Load returns the token for url, or (nil, nil) when none exists.
func (s *Store) Load(ctx context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if blob, ok := s.cache[url]; ok {
		return append([]byte(nil), blob...), nil
	}

	name, err := s.lookup(ctx, url)
	if err != nil || name == "" {
		return nil, err
	}

	blob, err := os.ReadFile(filepath.Join(s.blobDir, name))
	if os.IsNotExist(err) {
		s.log.Warn("resume blob missing, dropping index entry", "url", url, "file", name)
		s.deleteRow(ctx, url)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read resume blob: %w", err)
	}

	s.cache[url] = blob
	return append([]byte(nil), blob...), nil
}

// Delete removes the token for url. Deleting a missing token is a no-op.
func (s *Store) Delete(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cache, url)

	name, err := s.lookup(ctx, url)
	if err != nil {
		return err
	}
	if name == "" {
		return nil
	}
	if err := s.deleteRow(ctx, url); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.blobDir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove resume blob: %w", err)
	}
	return nil
}

// URLs lists every URL with a stored token, sorted.
func (s *Store) URLs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT url FROM resume_index`)
	if err != nil {
		return nil, fmt.Errorf("list resume index: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan resume index row: %w", err)
		}
		seen[url] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resume index: %w", err)
	}
	for url := range s.cache {
		seen[url] = true
	}

	urls := make([]string, 0, len(seen))
	for url := range seen {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls, nil
}

func (s *Store) lookup(ctx context.Context, url string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT filename FROM resume_index WHERE url = ?`, url).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup resume index[%s]: %w", url, err)
	}
	return name, nil
}

func (s *Store) deleteRow(ctx context.Context, url string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM resume_index WHERE url = ?`, url); err != nil {
		return fmt.Errorf("delete resume index[%s]: %w", url, err)
	}
	return nil
}

// pruneOrphans removes blob files the index no longer references, left
// behind by a crash between blob write and index update.
func (s *Store) pruneOrphans(ctx context.Context) {
	rows, err := s.db.QueryContext(ctx, `SELECT filename FROM resume_index`)
	if err != nil {
		s.log.Warn("skipping resume blob prune", "error", err)
		return
	}
	referenced := make(map[string]bool)
	for rows.Next() {
		var name string
		if rows.Scan(&name) == nil {
			referenced[name] = true
		}
	}
	rows.Close()

	entries, err := os.ReadDir(s.blobDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), blobSuffix) || referenced[e.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(s.blobDir, e.Name())); err == nil {
			s.log.Debug("removed orphaned resume blob", "file", e.Name())
		}
	}
}
