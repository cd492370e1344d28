// Package install decides where a staged bundle goes and moves it there.
//
// Resolve is a pure collision check against the installed-apps view. A
// Finalizer carries out the placement, backing up activated bundles before
// an in-place update so their data can be carried forward or restored.
package install

import (
	"fmt"
	"strings"

	"github.com/ZebulonRouseFrantzich/lbox/internal/archive"
	"github.com/ZebulonRouseFrantzich/lbox/internal/bundle"
	"github.com/google/uuid"
)

// Action resolves a pending installation.
type Action int

const (
	// InstallSeparate keeps the existing app and installs next to it.
	InstallSeparate Action = iota + 1
	// UpdateExisting replaces the existing app in place.
	UpdateExisting
	// Cancel discards the staged bundle.
	Cancel
)

func (a Action) String() string {
	switch a {
	case InstallSeparate:
		return "separate"
	case UpdateExisting:
		return "update"
	case Cancel:
		return "cancel"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// ParseAction accepts "separate", "update" or "cancel".
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "separate", "install-separate":
		return InstallSeparate, nil
	case "update", "update-existing", "replace":
		return UpdateExisting, nil
	case "cancel":
		return Cancel, nil
	}
	return 0, fmt.Errorf("unknown install action %q (want separate, update or cancel)", s)
}

// Pending is a staged bundle whose identifier matches an installed app.
type Pending struct {
	ID       uuid.UUID
	AppName  string // the installed app's name
	BundleID string
	Staged   *archive.StagedBundle
	Existing bundle.App
}

// Decision is the outcome of Resolve. A nil Pending means fresh install.
type Decision struct {
	Pending *Pending
}

// Fresh reports whether the bundle can be installed without asking.
func (d Decision) Fresh() bool { return d.Pending == nil }

var pendingNamespace = uuid.MustParse("6f1b3c2e-8a4d-4e5f-9b7a-2c3d4e5f6a7b")

// Resolve checks staged against the installed apps. The unknown
// identifier never collides. Otherwise the first installed app with the
// same identifier makes the decision Pending. Resolve does not touch the
// filesystem and returns equal decisions for equal inputs.
func Resolve(staged *archive.StagedBundle, installed []bundle.App) Decision {
	id := staged.BundleID
	if id == "" || id == bundle.UnknownID {
		return Decision{}
	}
	existing, ok := bundle.Find(installed, id)
	if !ok {
		return Decision{}
	}
	return Decision{Pending: &Pending{
		ID:       uuid.NewSHA1(pendingNamespace, []byte(staged.TempRoot)),
		AppName:  existing.Name,
		BundleID: id,
		Staged:   staged,
		Existing: existing,
	}}
}
