// Package platform detects the host the client runs on and reports free
// disk space for install preflight checks.
//
// Host information is exposed to lbox.lua as a read-only `platform` table,
// so configurations can choose different storage roots per OS.
package platform

import "context"

// Linux distribution family constants.
const (
	FamilyDebian  = "debian"
	FamilyRHEL    = "rhel"
	FamilyFedora  = "fedora"
	FamilySUSE    = "suse"
	FamilyArch    = "arch"
	FamilyAlpine  = "alpine"
	FamilyUnknown = "unknown"
)

// Info contains platform detection information.
type Info struct {
	OS       string // "linux", "darwin", "windows"
	Arch     string // normalized ("amd64", "arm64", or GOARCH verbatim)
	Distro   string // distro ID on Linux, e.g. "ubuntu"
	Family   string // canonical family on Linux
	Version  string // distro version on Linux
	Hostname string
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool { return i.OS == "linux" }

// IsMacOS returns true if the platform is macOS.
func (i *Info) IsMacOS() bool { return i.OS == "darwin" }

// IsWindows returns true if the platform is Windows.
func (i *Info) IsWindows() bool { return i.OS == "windows" }

// UserAgent renders the HTTP User-Agent the transfer engine sends.
func (i *Info) UserAgent(version string) string {
	ua := "lbox/" + version + " (" + i.OS + "; " + i.Arch
	if i.Distro != "" {
		ua += "; " + i.Distro
		if i.Version != "" {
			ua += " " + i.Version
		}
	}
	return ua + ")"
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// SpaceChecker reports free bytes on the filesystem holding path.
type SpaceChecker interface {
	FreeBytes(ctx context.Context, path string) (uint64, error)
}
