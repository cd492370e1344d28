package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
)

// RealDetector implements Detector and SpaceChecker using gopsutil.
type RealDetector struct{}

// NewDetector creates a new platform detector.
func NewDetector() *RealDetector {
	return &RealDetector{}
}

// Detect returns OS and architecture from the runtime, plus distribution
// details on Linux. Distribution lookup failures fall back to OS/arch only;
// a cancelled context is a hard failure.
func (d *RealDetector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:   runtime.GOOS,
		Arch: normalizeArch(runtime.GOARCH),
	}
	info.Hostname, _ = os.Hostname()

	if runtime.GOOS != "linux" {
		return info, nil
	}

	distro, family, version, err := host.PlatformInformationWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
		}
		return info, nil
	}

	if distro = normalize(distro); distro != "" {
		info.Distro = distro
		info.Family = mapFamily(family)
		info.Version = normalize(version)
	}
	return info, nil
}

// FreeBytes reports free space on the filesystem containing path. When path
// does not exist yet the nearest existing ancestor is measured.
func (d *RealDetector) FreeBytes(ctx context.Context, path string) (uint64, error) {
	probe := filepath.Clean(path)
	for {
		if _, err := os.Stat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}

	usage, err := disk.UsageWithContext(ctx, probe)
	if err != nil {
		return 0, fmt.Errorf("disk usage for %s: %w", probe, err)
	}
	return usage.Free, nil
}
