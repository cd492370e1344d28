package bundle

import (
	"fmt"
	"os"

	"github.com/ZebulonRouseFrantzich/lbox/internal/fsutil"
	"howett.net/plist"
)

// Environment-owned fields of the post-install marker that must follow an
// app across updates.
const (
	KeyContainers = "LCContainers"
	KeyDataUUID   = "LCDataUUID"
	keyFolderName = "folderName"
)

// Marker is a decoded post-install marker. Unknown keys round-trip untouched.
type Marker struct {
	Fields map[string]any
}

// ReadMarker decodes the marker plist at path.
func ReadMarker(path string) (*Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read marker: %w", err)
	}
	var fields map[string]any
	if _, err := plist.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode marker: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("decode marker: not a dictionary")
	}
	return &Marker{Fields: fields}, nil
}

// Write encodes the marker as an XML plist and replaces path atomically.
func (m *Marker) Write(path string) error {
	data, err := plist.Marshal(m.Fields, plist.XMLFormat)
	if err != nil {
		return fmt.Errorf("encode marker: %w", err)
	}
	return fsutil.WriteFileAtomic(path, data, 0o644)
}

// ContainerFolders returns the folderName of every data container entry.
func (m *Marker) ContainerFolders() []string {
	list, ok := m.Fields[KeyContainers].([]any)
	if !ok {
		return nil
	}
	var names []string
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := entry[keyFolderName].(string); ok && name != "" {
			names = append(names, name)
		}
	}
	return names
}

// CarryForward overwrites the data container and data UUID fields with the
// values from old. Keys old does not have are left as they are.
func (m *Marker) CarryForward(old *Marker) {
	for _, key := range []string{KeyContainers, KeyDataUUID} {
		if v, ok := old.Fields[key]; ok {
			m.Fields[key] = v
		}
	}
}
