package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/lbox/internal/bundle"
	"github.com/ZebulonRouseFrantzich/lbox/internal/fsutil"
)

var (
	// ErrFileExists means a rename target is already taken.
	ErrFileExists = errors.New("a file with that name already exists")
	// ErrInvalidName means a file name is empty or contains a path separator.
	ErrInvalidName = errors.New("invalid file name")
)

// File is an entry of the download folder.
type File struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Files lists the download folder. Hidden entries and bundle directories
// are left out.
func (c *Client) Files() ([]File, error) {
	dir := c.layout.DownloadsDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list downloads: %w", err)
	}

	var files []File
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || strings.HasSuffix(name, bundle.Extension) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, File{
			Name:    name,
			Path:    filepath.Join(dir, name),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   info.IsDir(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func (c *Client) downloadPath(name string) (string, error) {
	if !safeName(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(c.layout.DownloadsDir(), name), nil
}

// RenameFile renames a download. It refuses to overwrite an existing file.
func (c *Client) RenameFile(oldName, newName string) error {
	src, err := c.downloadPath(oldName)
	if err != nil {
		return err
	}
	dst, err := c.downloadPath(newName)
	if err != nil {
		return err
	}
	if oldName == newName {
		return nil
	}
	if fsutil.Exists(dst) {
		return fmt.Errorf("%w: %s", ErrFileExists, newName)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("rename %s: %w", oldName, err)
	}
	return nil
}

// DeleteFile removes one download.
func (c *Client) DeleteFile(name string) error {
	p, err := c.downloadPath(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// ClearFiles removes every listed download and returns how many were removed.
func (c *Client) ClearFiles() (int, error) {
	files, err := c.Files()
	if err != nil {
		return 0, err
	}
	var errs []error
	removed := 0
	for _, f := range files {
		if err := os.RemoveAll(f.Path); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", f.Name, err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// ImportFile copies src into the download folder, replacing a file with
// the same name, and returns the new path.
func (c *Client) ImportFile(src string) (string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("import: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("import %s: is a directory", src)
	}
	dst, err := c.downloadPath(filepath.Base(src))
	if err != nil {
		return "", err
	}
	if abs, err := filepath.Abs(src); err == nil && abs == dst {
		return dst, nil
	}

	tmp := dst + ".import"
	if err := fsutil.CopyFile(src, tmp, 0o644); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("import %s: %w", filepath.Base(src), err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("import %s: %w", filepath.Base(src), err)
	}
	return dst, nil
}
