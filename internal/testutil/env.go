// Package testutil provides fixtures for testing lbox in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Env is an isolated set of lbox directories under t.TempDir().
type Env struct {
	Root      string
	Dir       string // LBOX_DIR
	Downloads string
	Container string
	Apps      string // <Container>/Applications
	Data      string // <Container>/Data/Application
	State     string
}

// SetupTestEnv creates isolated test directories and points LBOX_DIR at
// them, so tests never touch a real lbox installation. Cleanup is handled
// by t.TempDir().
func SetupTestEnv(t *testing.T) *Env {
	t.Helper()

	root := t.TempDir()
	env := &Env{
		Root:      root,
		Dir:       filepath.Join(root, "lbox"),
		Downloads: filepath.Join(root, "Downloads"),
		Container: filepath.Join(root, "Container"),
		State:     filepath.Join(root, "state"),
	}
	env.Apps = filepath.Join(env.Container, "Applications")
	env.Data = filepath.Join(env.Container, "Data", "Application")

	t.Setenv("LBOX_DIR", env.Dir)
	t.Setenv("LBOX_TEST_MODE", "1")

	for _, dir := range []string{env.Dir, env.Downloads, env.Apps, env.Data, env.State} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}
	return env
}
