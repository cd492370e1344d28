// Package archive unpacks application archives (.ipa) into a private
// staging directory and reads the bundle they contain.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZebulonRouseFrantzich/lbox/internal/bundle"
	"github.com/ZebulonRouseFrantzich/lbox/internal/logging"
	"github.com/ZebulonRouseFrantzich/lbox/internal/platform"
	"github.com/ZebulonRouseFrantzich/lbox/internal/units"
	"github.com/google/uuid"
)

var (
	// ErrArchiveCorrupt means the container could not be opened or read.
	ErrArchiveCorrupt = errors.New("archive corrupt")
	// ErrPayloadMissing means no *.app directory was found under Payload/.
	ErrPayloadMissing = errors.New("no application bundle in Payload")
	// ErrInsufficientSpace means the unpacked archive would not fit.
	ErrInsufficientSpace = errors.New("insufficient disk space")
)

const (
	payloadDir = "Payload"
	// TempPrefix names staging directories under the apps directory.
	TempPrefix = "Temp_"
)

// StagedBundle is an extracted bundle waiting for a placement decision.
// The caller owns TempRoot and must Discard it or move the bundle out.
type StagedBundle struct {
	TempRoot      string
	BundlePath    string
	SourceArchive string
	BundleID      string // bundle.UnknownID when the manifest has none
	DisplayName   string
	Version       string
}

// DirName is the staged bundle's directory name, e.g. "Demo.app".
func (s *StagedBundle) DirName() string { return filepath.Base(s.BundlePath) }

// Discard removes the staging directory.
func (s *StagedBundle) Discard() error {
	if s == nil || s.TempRoot == "" {
		return nil
	}
	if err := os.RemoveAll(s.TempRoot); err != nil {
		return fmt.Errorf("remove staging directory: %w", err)
	}
	return nil
}

// Extractor unpacks archives.
type Extractor struct {
	space platform.SpaceChecker
	log   logging.Logger
}

// NewExtractor creates an extractor. space may be nil to skip the
// free-space preflight.
func NewExtractor(space platform.SpaceChecker, log logging.Logger) *Extractor {
	return &Extractor{space: space, log: logging.OrNop(log)}
}

// Extract unpacks archivePath into a fresh Temp_<uuid> directory under
// appsDir and returns the staged bundle. On failure nothing is left behind.
func (x *Extractor) Extract(ctx context.Context, archivePath, appsDir string) (*StagedBundle, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("%w: open %s: %v", ErrArchiveCorrupt, filepath.Base(archivePath), err)
	}
	defer zr.Close()

	if err := x.checkSpace(ctx, zr.File, appsDir); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(appsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create apps directory: %w", err)
	}
	tempRoot := filepath.Join(appsDir, TempPrefix+uuid.NewString())
	if err := os.Mkdir(tempRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	staged, err := x.unpack(ctx, zr.File, tempRoot)
	if err != nil {
		if rmErr := os.RemoveAll(tempRoot); rmErr != nil {
			x.log.Warn("failed to remove staging directory", "path", tempRoot, "error", rmErr)
		}
		return nil, err
	}
	staged.SourceArchive = archivePath

	x.log.Info("archive extracted",
		"archive", filepath.Base(archivePath),
		"bundle_id", staged.BundleID,
		"version", staged.Version)
	return staged, nil
}

func (x *Extractor) unpack(ctx context.Context, files []*zip.File, tempRoot string) (*StagedBundle, error) {
	root, err := os.OpenRoot(tempRoot)
	if err != nil {
		return nil, fmt.Errorf("open staging directory: %w", err)
	}
	defer root.Close()

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := extractEntry(f, root); err != nil {
			return nil, err
		}
	}

	bundlePath, err := findBundle(tempRoot)
	if err != nil {
		return nil, err
	}

	staged := &StagedBundle{
		TempRoot:    tempRoot,
		BundlePath:  bundlePath,
		BundleID:    bundle.UnknownID,
		DisplayName: bundle.DirTitle(bundlePath),
	}
	m, err := bundle.ReadManifest(bundlePath)
	if err != nil {
		x.log.Warn("bundle manifest unreadable, using unknown identifier", "bundle", filepath.Base(bundlePath), "error", err)
		return staged, nil
	}
	staged.BundleID = m.Identifier()
	staged.DisplayName = m.Title(staged.DisplayName)
	staged.Version = m.VersionString()
	return staged, nil
}

func (x *Extractor) checkSpace(ctx context.Context, files []*zip.File, appsDir string) error {
	if x.space == nil {
		return nil
	}
	var need uint64
	for _, f := range files {
		need += f.UncompressedSize64
	}
	free, err := x.space.FreeBytes(ctx, appsDir)
	if err != nil {
		x.log.Debug("free space check unavailable", "error", err)
		return nil
	}
	if need > free {
		return fmt.Errorf("%w: need %s, %s free", ErrInsufficientSpace,
			units.HumanBytes(int64(need)), units.HumanBytes(int64(free)))
	}
	return nil
}

// extractEntry writes one zip entry below root. Every write goes through
// root, so links created by earlier entries can never carry a later one
// outside the staging directory.
func extractEntry(f *zip.File, root *os.Root) error {
	name := strings.TrimPrefix(filepath.FromSlash(f.Name), string(os.PathSeparator))
	if name == "" {
		return nil
	}

	// Security check: prevent path traversal
	if !filepath.IsLocal(name) {
		return fmt.Errorf("%w: illegal file path: %s", ErrArchiveCorrupt, f.Name)
	}

	mode := f.Mode()
	switch {
	case mode.IsDir():
		if err := root.MkdirAll(name, 0o755); err != nil {
			return fmt.Errorf("%w: create directory %s: %v", ErrArchiveCorrupt, name, err)
		}
		return nil
	case mode&os.ModeSymlink != 0:
		return extractSymlink(f, root, name)
	}

	if err := mkdirParent(root, name); err != nil {
		return err
	}
	if info, err := root.Lstat(name); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%w: entry overwrites symlink: %s", ErrArchiveCorrupt, f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open entry %s: %v", ErrArchiveCorrupt, f.Name, err)
	}
	defer rc.Close()

	perm := mode.Perm() | 0o600
	out, err := root.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("%w: create file %s: %v", ErrArchiveCorrupt, name, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		if errors.Is(err, zip.ErrChecksum) || errors.Is(err, zip.ErrFormat) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: read entry %s: %v", ErrArchiveCorrupt, f.Name, err)
		}
		return fmt.Errorf("write file %s: %w", name, err)
	}
	return out.Close()
}

// extractSymlink recreates a link whose target stays inside root.
func extractSymlink(f *zip.File, root *os.Root, name string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open entry %s: %v", ErrArchiveCorrupt, f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, 4096))
	if err != nil {
		return fmt.Errorf("%w: read link %s: %v", ErrArchiveCorrupt, f.Name, err)
	}
	link := filepath.FromSlash(string(data))

	if filepath.IsAbs(link) || !filepath.IsLocal(filepath.Join(filepath.Dir(name), link)) {
		return fmt.Errorf("%w: symlink escapes archive: %s -> %s", ErrArchiveCorrupt, f.Name, link)
	}
	if err := mkdirParent(root, name); err != nil {
		return err
	}
	if err := root.Symlink(link, name); err != nil {
		return fmt.Errorf("%w: create symlink %s: %v", ErrArchiveCorrupt, f.Name, err)
	}
	return nil
}

func mkdirParent(root *os.Root, name string) error {
	dir := filepath.Dir(name)
	if dir == "." {
		return nil
	}
	if err := root.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create parent dir for %s: %v", ErrArchiveCorrupt, name, err)
	}
	return nil
}

// findBundle returns the first *.app directory under root/Payload. Both
// must be real directories, not links.
func findBundle(root string) (string, error) {
	dir := filepath.Join(root, payloadDir)
	if info, err := os.Lstat(dir); err != nil || !info.IsDir() {
		return "", ErrPayloadMissing
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", ErrPayloadMissing
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), bundle.Extension) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", ErrPayloadMissing
}
