package catalog

import (
	"sort"
	"strings"

	"github.com/ZebulonRouseFrantzich/lbox/internal/bundle"
)

// SortOrder orders the display list.
type SortOrder int

const (
	SortByName SortOrder = iota
	SortByDate
	SortBySize
)

// ParseSortOrder accepts "name", "date" or "size"; anything else is name.
func ParseSortOrder(s string) SortOrder {
	switch strings.ToLower(s) {
	case "date":
		return SortByDate
	case "size":
		return SortBySize
	}
	return SortByName
}

// ViewOptions selects how listings are grouped, filtered and sorted.
type ViewOptions struct {
	// Strict keeps apps apart unless identifier, name, source and
	// description all match. Otherwise only the identifier matters.
	Strict bool
	Sort   SortOrder
	Query  string // matched against name and bundle identifier
	Source string // restrict to one repository name
}

func knownID(id string) bool {
	return id != "" && id != bundle.UnknownID
}

// GroupKey is the key under which versions of the same app are grouped.
// Items without an identifier are keyed by download URL.
func GroupKey(a AppItem, strict bool) string {
	id := a.BundleID
	if !knownID(id) {
		id = a.DownloadURL
	}
	if !strict {
		return id
	}
	return strings.Join([]string{id, a.Name, a.Source, a.Description}, "|#|")
}

// Group buckets items by GroupKey.
func Group(apps []AppItem, strict bool) map[string][]AppItem {
	groups := make(map[string][]AppItem)
	for _, a := range apps {
		k := GroupKey(a, strict)
		groups[k] = append(groups[k], a)
	}
	return groups
}

// newer orders versions newest first, then by version date.
func newer(a, b AppItem) bool {
	if c := CompareVersions(a.Version, b.Version); c != 0 {
		return c > 0
	}
	return a.VersionDate > b.VersionDate
}

// Versions returns every version grouped with a, newest first.
func Versions(apps []AppItem, a AppItem, strict bool) []AppItem {
	key := GroupKey(a, strict)
	var out []AppItem
	for _, item := range apps {
		if GroupKey(item, strict) == key {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return newer(out[i], out[j]) })
	return out
}

// Display returns one representative (the latest version) per group,
// filtered and sorted.
func Display(apps []AppItem, opts ViewOptions) []AppItem {
	var reps []AppItem
	for _, versions := range Group(apps, opts.Strict) {
		best := versions[0]
		for _, v := range versions[1:] {
			if newer(v, best) {
				best = v
			}
		}
		if matches(best, opts) {
			reps = append(reps, best)
		}
	}

	sort.Slice(reps, func(i, j int) bool {
		a, b := reps[i], reps[j]
		switch opts.Sort {
		case SortByDate:
			if a.VersionDate != b.VersionDate {
				return a.VersionDate > b.VersionDate
			}
		case SortBySize:
			if a.Size != b.Size {
				return a.Size > b.Size
			}
		}
		if la, lb := strings.ToLower(a.Name), strings.ToLower(b.Name); la != lb {
			return la < lb
		}
		return a.ID() < b.ID()
	})
	return reps
}

func matches(a AppItem, opts ViewOptions) bool {
	if opts.Source != "" && a.Source != opts.Source {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(opts.Query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(a.Name), q) ||
		strings.Contains(strings.ToLower(a.BundleID), q)
}

// Update is a newer catalog version of an installed app.
type Update struct {
	BundleID  string
	Installed string
	Latest    AppItem
}

// Updates compares installed versions with the newest catalog version per
// identifier. Apps without a version or identifier are skipped.
func Updates(apps []AppItem, installed []bundle.App) []Update {
	latest := make(map[string]AppItem)
	for _, a := range apps {
		if !knownID(a.BundleID) {
			continue
		}
		if cur, ok := latest[a.BundleID]; !ok || CompareVersions(a.Version, cur.Version) > 0 {
			latest[a.BundleID] = a
		}
	}

	var updates []Update
	seen := make(map[string]bool)
	for _, app := range installed {
		if app.Version == "" || seen[app.BundleID] {
			continue
		}
		best, ok := latest[app.BundleID]
		if !ok || CompareVersions(best.Version, app.Version) <= 0 {
			continue
		}
		seen[app.BundleID] = true
		updates = append(updates, Update{BundleID: app.BundleID, Installed: app.Version, Latest: best})
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].BundleID < updates[j].BundleID })
	return updates
}
