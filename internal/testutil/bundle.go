package testutil

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"howett.net/plist"
)

// Info returns a minimal bundle manifest.
func Info(bundleID, name, version string) map[string]any {
	m := map[string]any{}
	if bundleID != "" {
		m["CFBundleIdentifier"] = bundleID
	}
	if name != "" {
		m["CFBundleName"] = name
	}
	if version != "" {
		m["CFBundleShortVersionString"] = version
	}
	return m
}

// WritePlist writes v as an XML property list.
func WritePlist(t *testing.T, path string, v any) {
	t.Helper()
	data, err := plist.Marshal(v, plist.XMLFormat)
	if err != nil {
		t.Fatalf("marshal plist: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write plist: %v", err)
	}
}

// ReadPlist decodes a property list file into a map.
func ReadPlist(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read plist: %v", err)
	}
	var m map[string]any
	if _, err := plist.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal plist: %v", err)
	}
	return m
}

// WriteBundle creates <parent>/<dirName> with an Info.plist and returns its path.
func WriteBundle(t *testing.T, parent, dirName string, info map[string]any) string {
	t.Helper()
	dir := filepath.Join(parent, dirName)
	WritePlist(t, filepath.Join(dir, "Info.plist"), info)
	return dir
}

// WriteMarker creates the post-install marker inside an installed bundle.
func WriteMarker(t *testing.T, bundleDir string, fields map[string]any) {
	t.Helper()
	if fields == nil {
		fields = map[string]any{}
	}
	WritePlist(t, filepath.Join(bundleDir, "LCAppInfo.plist"), fields)
}

// BuildIPA writes a zip archive at path with Payload/<appDir>/Info.plist
// and any extra files (relative to the bundle directory). A nil info
// omits the manifest entirely.
func BuildIPA(t *testing.T, path, appDir string, info map[string]any, extra map[string]string) string {
	t.Helper()

	files := map[string][]byte{}
	if info != nil {
		data, err := plist.Marshal(info, plist.XMLFormat)
		if err != nil {
			t.Fatalf("marshal plist: %v", err)
		}
		files["Payload/"+appDir+"/Info.plist"] = data
	}
	for name, content := range extra {
		files["Payload/"+appDir+"/"+name] = []byte(content)
	}
	return BuildZip(t, path, files)
}

// BuildZip writes a zip archive with the given entries.
func BuildZip(t *testing.T, path string, files map[string][]byte) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip entry %s: %v", name, err)
		}
		if _, err := w.Write(content); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return path
}
