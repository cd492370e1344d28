package archive

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZebulonRouseFrantzich/lbox/internal/bundle"
	"github.com/ZebulonRouseFrantzich/lbox/internal/testutil"
)

type fakeSpace struct {
	free uint64
	err  error
}

func (f fakeSpace) FreeBytes(ctx context.Context, path string) (uint64, error) {
	return f.free, f.err
}

func tempDirs(t *testing.T, appsDir string) []string {
	t.Helper()
	entries, _ := os.ReadDir(appsDir)
	var dirs []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), TempPrefix) {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs
}

func TestExtract(t *testing.T) {
	root := t.TempDir()
	appsDir := filepath.Join(root, "Applications")
	ipa := testutil.BuildIPA(t, filepath.Join(root, "Demo.ipa"), "Demo.app",
		testutil.Info("com.example.app", "Demo", "1.0"),
		map[string]string{"Demo": "binary", "Assets/icon.png": "png"})

	staged, err := NewExtractor(nil, nil).Extract(context.Background(), ipa, appsDir)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if staged.BundleID != "com.example.app" {
		t.Errorf("BundleID = %q", staged.BundleID)
	}
	if staged.DisplayName != "Demo" || staged.Version != "1.0" {
		t.Errorf("DisplayName/Version = %q/%q", staged.DisplayName, staged.Version)
	}
	if staged.SourceArchive != ipa {
		t.Errorf("SourceArchive = %q", staged.SourceArchive)
	}
	if filepath.Dir(staged.TempRoot) != appsDir || !strings.HasPrefix(filepath.Base(staged.TempRoot), TempPrefix) {
		t.Errorf("TempRoot = %q, want Temp_* under apps dir", staged.TempRoot)
	}
	if staged.DirName() != "Demo.app" {
		t.Errorf("DirName() = %q", staged.DirName())
	}
	if data, err := os.ReadFile(filepath.Join(staged.BundlePath, "Assets", "icon.png")); err != nil || string(data) != "png" {
		t.Errorf("nested file not extracted: %v", err)
	}

	if err := staged.Discard(); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if len(tempDirs(t, appsDir)) != 0 {
		t.Error("Discard() left the staging directory")
	}
}

func TestExtract_MissingIdentifierUsesSentinel(t *testing.T) {
	root := t.TempDir()
	ipa := testutil.BuildIPA(t, filepath.Join(root, "x.ipa"), "NoID.app",
		testutil.Info("", "", "2.0"), nil)

	staged, err := NewExtractor(nil, nil).Extract(context.Background(), ipa, filepath.Join(root, "apps"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	defer staged.Discard()

	if staged.BundleID != bundle.UnknownID {
		t.Errorf("BundleID = %q, want %q", staged.BundleID, bundle.UnknownID)
	}
	if staged.DisplayName != "NoID" {
		t.Errorf("DisplayName = %q, want directory title", staged.DisplayName)
	}
}

func TestExtract_NoManifest(t *testing.T) {
	root := t.TempDir()
	ipa := testutil.BuildIPA(t, filepath.Join(root, "x.ipa"), "Bare.app", nil, map[string]string{"Bare": "bin"})

	staged, err := NewExtractor(nil, nil).Extract(context.Background(), ipa, filepath.Join(root, "apps"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	defer staged.Discard()
	if staged.BundleID != bundle.UnknownID {
		t.Errorf("BundleID = %q", staged.BundleID)
	}
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name  string
		build func(t *testing.T, path string) string
		space *fakeSpace
		want  error
	}{
		{
			name: "not a zip",
			build: func(t *testing.T, path string) string {
				os.WriteFile(path, []byte("definitely not a zip"), 0o644)
				return path
			},
			want: ErrArchiveCorrupt,
		},
		{
			name: "missing file",
			build: func(t *testing.T, path string) string {
				return path + ".missing"
			},
			want: ErrArchiveCorrupt,
		},
		{
			name: "no payload",
			build: func(t *testing.T, path string) string {
				return testutil.BuildZip(t, path, map[string][]byte{"readme.txt": []byte("hi")})
			},
			want: ErrPayloadMissing,
		},
		{
			name: "payload without bundle",
			build: func(t *testing.T, path string) string {
				return testutil.BuildZip(t, path, map[string][]byte{"Payload/notes.txt": []byte("hi")})
			},
			want: ErrPayloadMissing,
		},
		{
			name: "path traversal",
			build: func(t *testing.T, path string) string {
				return testutil.BuildZip(t, path, map[string][]byte{
					"Payload/A.app/Info.plist": []byte("x"),
					"../../evil.txt":           []byte("evil"),
				})
			},
			want: ErrArchiveCorrupt,
		},
		{
			name: "insufficient space",
			build: func(t *testing.T, path string) string {
				return testutil.BuildIPA(t, path, "Big.app", testutil.Info("com.big", "", ""),
					map[string]string{"blob": strings.Repeat("x", 4096)})
			},
			space: &fakeSpace{free: 100},
			want:  ErrInsufficientSpace,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			appsDir := filepath.Join(root, "apps")
			path := tt.build(t, filepath.Join(root, "in.ipa"))

			x := NewExtractor(nil, nil)
			if tt.space != nil {
				x = NewExtractor(*tt.space, nil)
			}
			staged, err := x.Extract(context.Background(), path, appsDir)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Extract() error = %v, want %v", err, tt.want)
			}
			if staged != nil {
				t.Error("Extract() returned a staged bundle on failure")
			}
			if dirs := tempDirs(t, appsDir); len(dirs) != 0 {
				t.Errorf("staging directories left behind: %v", dirs)
			}
			if _, err := os.Stat(filepath.Join(root, "evil.txt")); err == nil {
				t.Error("path traversal wrote outside the staging directory")
			}
		})
	}
}

func TestExtract_SpaceCheckErrorIsIgnored(t *testing.T) {
	root := t.TempDir()
	ipa := testutil.BuildIPA(t, filepath.Join(root, "x.ipa"), "A.app", testutil.Info("com.a", "", ""), nil)

	x := NewExtractor(fakeSpace{err: errors.New("statfs failed")}, nil)
	staged, err := x.Extract(context.Background(), ipa, filepath.Join(root, "apps"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	staged.Discard()
}

func TestExtract_Cancelled(t *testing.T) {
	root := t.TempDir()
	appsDir := filepath.Join(root, "apps")
	ipa := testutil.BuildIPA(t, filepath.Join(root, "x.ipa"), "A.app", testutil.Info("com.a", "", ""), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewExtractor(nil, nil).Extract(ctx, ipa, appsDir); !errors.Is(err, context.Canceled) {
		t.Fatalf("Extract() error = %v, want context.Canceled", err)
	}
	if dirs := tempDirs(t, appsDir); len(dirs) != 0 {
		t.Errorf("staging directories left behind: %v", dirs)
	}
}

func TestStagedBundle_DiscardNil(t *testing.T) {
	var s *StagedBundle
	if err := s.Discard(); err != nil {
		t.Errorf("Discard() on nil = %v", err)
	}
}

type zipEntry struct {
	name string
	body string
	mode os.FileMode
}

// writeEntries builds a zip whose entries keep the given order, so later
// entries can depend on links created by earlier ones.
func writeEntries(t *testing.T, path string, entries []zipEntry) string {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: zip.Deflate}
		mode := e.mode
		if mode == 0 {
			mode = 0o644
		}
		hdr.SetMode(mode)
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("zip entry %s: %v", e.name, err)
		}
		if _, err := w.Write([]byte(e.body)); err != nil {
			t.Fatalf("zip entry %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return path
}

func TestExtract_ChainedSymlinksStayInStaging(t *testing.T) {
	tests := []struct {
		name    string
		entries []zipEntry
	}{
		{
			name: "write through link chain",
			entries: []zipEntry{
				{name: "k/", mode: os.ModeDir | 0o755},
				{name: "a/m", body: "../k", mode: os.ModeSymlink | 0o777},
				{name: "a/l", body: "m/../../escaped.txt", mode: os.ModeSymlink | 0o777},
				{name: "a/l", body: "pwned"},
			},
		},
		{
			name: "write below linked directory",
			entries: []zipEntry{
				{name: "k/", mode: os.ModeDir | 0o755},
				{name: "a/m", body: "../k", mode: os.ModeSymlink | 0o777},
				{name: "a/up", body: "m/../..", mode: os.ModeSymlink | 0o777},
				{name: "a/up/escaped.txt", body: "pwned"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			appsDir := filepath.Join(root, "apps")
			path := writeEntries(t, filepath.Join(root, "in.ipa"), tt.entries)

			staged, err := NewExtractor(nil, nil).Extract(context.Background(), path, appsDir)
			if !errors.Is(err, ErrArchiveCorrupt) {
				t.Fatalf("Extract() error = %v, want %v", err, ErrArchiveCorrupt)
			}
			if staged != nil {
				t.Error("Extract() returned a staged bundle on failure")
			}
			for _, p := range []string{
				filepath.Join(appsDir, "escaped.txt"),
				filepath.Join(root, "escaped.txt"),
			} {
				if _, err := os.Stat(p); err == nil {
					t.Errorf("archive wrote outside the staging directory: %s", p)
				}
			}
			if dirs := tempDirs(t, appsDir); len(dirs) != 0 {
				t.Errorf("staging directories left behind: %v", dirs)
			}
		})
	}
}

func TestExtract_SymlinkedPayloadIsIgnored(t *testing.T) {
	root := t.TempDir()
	path := writeEntries(t, filepath.Join(root, "in.ipa"), []zipEntry{
		{name: "Real/A.app/", mode: os.ModeDir | 0o755},
		{name: "Payload", body: "Real", mode: os.ModeSymlink | 0o777},
	})

	_, err := NewExtractor(nil, nil).Extract(context.Background(), path, filepath.Join(root, "apps"))
	if !errors.Is(err, ErrPayloadMissing) {
		t.Fatalf("Extract() error = %v, want %v", err, ErrPayloadMissing)
	}
}

func TestExtract_KeepsInternalSymlinks(t *testing.T) {
	root := t.TempDir()
	path := writeEntries(t, filepath.Join(root, "in.ipa"), []zipEntry{
		{name: "Payload/A.app/Frameworks/F.framework/Versions/A/F", body: "lib"},
		{name: "Payload/A.app/Frameworks/F.framework/Versions/Current", body: "A", mode: os.ModeSymlink | 0o777},
	})

	staged, err := NewExtractor(nil, nil).Extract(context.Background(), path, filepath.Join(root, "apps"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	defer staged.Discard()

	link := filepath.Join(staged.BundlePath, "Frameworks", "F.framework", "Versions", "Current")
	if got, err := os.Readlink(link); err != nil || got != "A" {
		t.Errorf("Readlink() = %q, %v; want %q", got, err, "A")
	}
}
