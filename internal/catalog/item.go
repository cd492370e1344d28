// Package catalog aggregates app listings from remote repositories.
//
// Repositories are kept in a folder tree stored as an arena (id -> node
// with parent and child ids). Refreshing fetches every enabled repository
// with bounded concurrency; the merged listing is grouped into one
// representative per app for display and used to detect available updates.
package catalog

import (
	"encoding/json"
	"errors"
	"strings"
)

// AppItem is one downloadable app version listed by a repository.
type AppItem struct {
	Name        string   `json:"name"`
	BundleID    string   `json:"bundleIdentifier"`
	Version     string   `json:"version"`
	VersionDate string   `json:"versionDate,omitempty"`
	Size        int64    `json:"size,omitempty"`
	DownloadURL string   `json:"downloadURL"`
	IconURL     string   `json:"iconURL,omitempty"`
	Description string   `json:"localizedDescription,omitempty"`
	Screenshots []string `json:"screenshotURLs,omitempty"`
	// Source is the name of the repository the item came from.
	Source string `json:"sourceRepoName,omitempty"`
}

// ID is unique per repository and download URL.
func (a AppItem) ID() string {
	if a.Source != "" {
		return a.Source + "|" + a.DownloadURL
	}
	return a.DownloadURL
}

// UnmarshalJSON accepts the field aliases used by different repository
// formats: bundleID, icon and screenshots.
func (a *AppItem) UnmarshalJSON(data []byte) error {
	type plain AppItem
	var raw struct {
		plain
		BundleIDAlt    string          `json:"bundleID"`
		Icon           string          `json:"icon"`
		Screenshots    json.RawMessage `json:"screenshotURLs"`
		ScreenshotsAlt json.RawMessage `json:"screenshots"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*a = AppItem(raw.plain)
	if a.BundleID == "" {
		a.BundleID = raw.BundleIDAlt
	}
	a.BundleID = strings.TrimSpace(a.BundleID)
	if a.IconURL == "" {
		a.IconURL = raw.Icon
	}
	if a.Screenshots = stringList(raw.Screenshots); a.Screenshots == nil {
		a.Screenshots = stringList(raw.ScreenshotsAlt)
	}

	if a.Name == "" || a.Version == "" || a.DownloadURL == "" {
		return errors.New("app entry needs name, version and downloadURL")
	}
	return nil
}

// stringList decodes a list of strings, ignoring any other shape.
func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	return list
}

type repoMeta struct {
	RepoName string `json:"repoName"`
	RepoIcon string `json:"repoIcon"`
}

// repoResponse is a repository's JSON document.
type repoResponse struct {
	Name       string    `json:"name"`
	Identifier string    `json:"identifier"`
	IconURL    string    `json:"iconURL"`
	Meta       *repoMeta `json:"META"`
	Apps       []AppItem `json:"apps"`
}

func (r *repoResponse) bestIcon() string {
	if r.IconURL != "" {
		return r.IconURL
	}
	if r.Meta != nil {
		return r.Meta.RepoIcon
	}
	return ""
}
