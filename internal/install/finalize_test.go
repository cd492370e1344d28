package install

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/lbox/internal/archive"
	"github.com/ZebulonRouseFrantzich/lbox/internal/backup"
	"github.com/ZebulonRouseFrantzich/lbox/internal/bundle"
	"github.com/ZebulonRouseFrantzich/lbox/internal/testutil"
)

type roots struct {
	downloads, apps, data string
}

func (r roots) DownloadsDir() string { return r.downloads }
func (r roots) AppsDir() string      { return r.apps }
func (r roots) DataDir() string      { return r.data }

type fixture struct {
	roots     roots
	ledger    *backup.Ledger
	finalizer *Finalizer
}

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	r := roots{
		downloads: filepath.Join(root, "Downloads"),
		apps:      filepath.Join(root, "Applications"),
		data:      filepath.Join(root, "Data", "Application"),
	}
	for _, d := range []string{r.downloads, r.apps, r.data} {
		os.MkdirAll(d, 0o755)
	}
	l, err := backup.Open(filepath.Join(root, "state", "backups.json"), filepath.Join(root, "state", "backups"), r, nil)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		roots:     r,
		ledger:    l,
		finalizer: NewFinalizer(r, l, nil, func() time.Time { return fixedNow }),
	}
}

// stage builds an .ipa in the download folder and extracts it.
func (f *fixture) stage(t *testing.T, dirName, bundleID, version string) *archive.StagedBundle {
	t.Helper()
	ipa := testutil.BuildIPA(t, filepath.Join(f.roots.downloads, dirName+"-"+version+".ipa"), dirName,
		testutil.Info(bundleID, "Example", version), map[string]string{"payload.bin": version})
	staged, err := archive.NewExtractor(nil, nil).Extract(context.Background(), ipa, f.roots.apps)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	return staged
}

func (f *fixture) installed(t *testing.T) []bundle.App {
	t.Helper()
	apps, err := bundle.Scan(f.roots.apps)
	if err != nil {
		t.Fatal(err)
	}
	return apps
}

func assertCleaned(t *testing.T, staged *archive.StagedBundle, archiveRemoved bool) {
	t.Helper()
	if _, err := os.Stat(staged.TempRoot); !os.IsNotExist(err) {
		t.Error("staging directory not removed")
	}
	_, err := os.Stat(staged.SourceArchive)
	if archiveRemoved && !os.IsNotExist(err) {
		t.Error("source archive not removed")
	}
	if !archiveRemoved && err != nil {
		t.Errorf("source archive removed: %v", err)
	}
}

func TestFinalizer_FreshInstall(t *testing.T) {
	f := newFixture(t)
	staged := f.stage(t, "Example.app", "com.example.app", "1.0")

	dest, err := f.finalizer.Install(staged)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if want := filepath.Join(f.roots.apps, "com.example.app.app"); dest != want {
		t.Errorf("dest = %q, want %q", dest, want)
	}
	apps := f.installed(t)
	if len(apps) != 1 || apps[0].BundleID != "com.example.app" || apps[0].Version != "1.0" {
		t.Errorf("installed = %+v", apps)
	}
	if len(f.ledger.List()) != 0 {
		t.Error("fresh install created a backup")
	}
	assertCleaned(t, staged, true)
}

func TestFinalizer_InstallNaming(t *testing.T) {
	f := newFixture(t)

	first, _ := f.finalizer.Install(f.stage(t, "Example.app", "com.example.app", "1.0"))
	second, _ := f.finalizer.Install(f.stage(t, "Example.app", "com.example.app", "1.1"))
	third, _ := f.finalizer.Install(f.stage(t, "Example.app", "com.example.app", "1.2"))
	unknown, _ := f.finalizer.Install(f.stage(t, "Mystery.app", "", "1.0"))

	want := []string{"com.example.app.app", "com.example.app_1.app", "com.example.app_2.app", "Mystery.app"}
	for i, got := range []string{first, second, third, unknown} {
		if filepath.Base(got) != want[i] {
			t.Errorf("install %d placed at %q, want %q", i, filepath.Base(got), want[i])
		}
	}
}

func TestFinalizer_ArchiveOutsideDownloadsKept(t *testing.T) {
	f := newFixture(t)
	outside := testutil.BuildIPA(t, filepath.Join(t.TempDir(), "x.ipa"), "A.app", testutil.Info("com.a", "", ""), nil)
	staged, err := archive.NewExtractor(nil, nil).Extract(context.Background(), outside, f.roots.apps)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.finalizer.Install(staged); err != nil {
		t.Fatal(err)
	}
	assertCleaned(t, staged, false)
}

func TestFinalizer_InstallSeparate(t *testing.T) {
	f := newFixture(t)
	f.finalizer.Install(f.stage(t, "Example.app", "com.example.app", "1.0"))

	staged := f.stage(t, "Example.app", "com.example.app", "2.0")
	d := Resolve(staged, f.installed(t))
	if d.Fresh() {
		t.Fatal("expected a collision")
	}
	dest, err := f.finalizer.Finalize(d.Pending, InstallSeparate)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if filepath.Base(dest) != "com.example.app_1.app" {
		t.Errorf("dest = %q", dest)
	}
	if n := len(f.installed(t)); n != 2 {
		t.Errorf("installed %d apps, want 2", n)
	}
	assertCleaned(t, staged, true)
}

func TestFinalizer_UpdateWithoutMarker(t *testing.T) {
	f := newFixture(t)
	f.finalizer.Install(f.stage(t, "Example.app", "com.example.app", "1.0"))

	staged := f.stage(t, "Example.app", "com.example.app", "2.0")
	d := Resolve(staged, f.installed(t))
	dest, err := f.finalizer.Finalize(d.Pending, UpdateExisting)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	if dest != d.Pending.Existing.Path {
		t.Errorf("dest = %q, want existing path", dest)
	}
	apps := f.installed(t)
	if len(apps) != 1 || apps[0].Version != "2.0" {
		t.Errorf("installed = %+v, want single 2.0", apps)
	}
	if len(f.ledger.List()) != 0 {
		t.Error("update of an unactivated app created a backup")
	}
	assertCleaned(t, staged, true)
}

func TestFinalizer_UpdateWithMarker(t *testing.T) {
	f := newFixture(t)
	oldPath, _ := f.finalizer.Install(f.stage(t, "Example.app", "com.example.app", "1.0"))
	testutil.WriteMarker(t, oldPath, map[string]any{"LCDataUUID": "OLD"})

	staged := f.stage(t, "Example.app", "com.example.app", "2.0")
	d := Resolve(staged, f.installed(t))
	if _, err := f.finalizer.Finalize(d.Pending, UpdateExisting); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	backups := f.ledger.List()
	if len(backups) != 1 {
		t.Fatalf("ledger has %d entries, want exactly 1", len(backups))
	}
	b := backups[0]
	if !b.HadMarker || b.BundleID != "com.example.app" || b.Version != "1.0" ||
		b.OriginalPathName != "com.example.app.app" || !b.CreatedAt.Equal(fixedNow) {
		t.Errorf("backup = %+v", b)
	}

	backedUp := bundle.Load(f.ledger.BundlePath(b))
	if backedUp.Version != "1.0" || !backedUp.HasMarker() {
		t.Errorf("backup folder holds %+v, want marked 1.0", backedUp)
	}
	live := bundle.Load(oldPath)
	if live.Version != "2.0" || live.HasMarker() {
		t.Errorf("live install = %+v, want unmarked 2.0", live)
	}
	assertCleaned(t, staged, true)
}

func TestFinalizer_Cancel(t *testing.T) {
	f := newFixture(t)
	oldPath, _ := f.finalizer.Install(f.stage(t, "Example.app", "com.example.app", "1.0"))
	testutil.WriteMarker(t, oldPath, nil)

	staged := f.stage(t, "Example.app", "com.example.app", "2.0")
	d := Resolve(staged, f.installed(t))
	dest, err := f.finalizer.Finalize(d.Pending, Cancel)
	if err != nil || dest != "" {
		t.Fatalf("Finalize(Cancel) = %q, %v", dest, err)
	}

	live := bundle.Load(oldPath)
	if live.Version != "1.0" || !live.HasMarker() {
		t.Errorf("existing app changed: %+v", live)
	}
	if len(f.ledger.List()) != 0 {
		t.Error("cancel created a backup")
	}
	assertCleaned(t, staged, false)
}

func TestFinalizer_MoveFailure(t *testing.T) {
	f := newFixture(t)
	staged := f.stage(t, "Example.app", "com.example.app", "1.0")
	os.RemoveAll(staged.BundlePath)

	_, err := f.finalizer.Install(staged)
	if !errors.Is(err, ErrMoveFailed) {
		t.Fatalf("Install() error = %v, want ErrMoveFailed", err)
	}
	assertCleaned(t, staged, false)
}

func TestWithin(t *testing.T) {
	tests := []struct {
		dir, path string
		want      bool
	}{
		{"/d", "/d/a.ipa", true},
		{"/d", "/d/sub/a.ipa", true},
		{"/d", "/d", false},
		{"/d", "/dx/a.ipa", false},
		{"/d", "/a.ipa", false},
		{"", "/d/a.ipa", false},
	}
	for _, tt := range tests {
		if got := within(tt.dir, tt.path); got != tt.want {
			t.Errorf("within(%q, %q) = %v", tt.dir, tt.path, got)
		}
	}
}
