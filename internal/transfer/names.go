package transfer

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

const defaultFileName = "download.ipa"

// FileName is the final file name for a download URL: the last path
// element, with ".ipa" appended when it has no extension.
func FileName(rawURL string) string {
	name := lastElement(rawURL)
	if name == "" {
		return defaultFileName
	}
	if path.Ext(name) == "" {
		name += ".ipa"
	}
	return name
}

// candidateNames lists every file name a completed download of rawURL may
// have been stored under.
func candidateNames(rawURL string) []string {
	names := []string{FileName(rawURL)}
	if raw := lastElement(rawURL); raw != "" && raw != names[0] {
		names = append(names, raw)
	}
	base := strings.TrimSuffix(names[0], path.Ext(names[0]))
	if zip := base + ".zip"; zip != names[0] {
		names = append(names, zip)
	}
	return names
}

func lastElement(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	name := path.Base(p)
	if name == "." || name == "/" || name == "" {
		return ""
	}
	// Never let a crafted URL escape the download folder.
	return filepath.Base(filepath.Clean("/" + name))
}
