package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means no node has the given id.
	ErrNotFound = errors.New("repository not found")
	// ErrExists means a repository with the same URL is already present.
	ErrExists = errors.New("repository already added")
	// ErrCycle means a move would make a folder its own descendant.
	ErrCycle = errors.New("cannot move a folder into itself")
	// ErrRemoteFolder means the target folder's children come from a remote list.
	ErrRemoteFolder = errors.New("remote folder contents are managed by its list")
	// ErrNotFolder means the target node is a repository, not a folder.
	ErrNotFolder = errors.New("target is not a folder")
)

// Status is a repository's last fetch outcome.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWaiting Status = "waiting"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Node is a repository (leaf) or a folder.
type Node struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"iconURL,omitempty"`
	Enabled bool   `json:"isEnabled"`
	Folder  bool   `json:"folder,omitempty"`
	// ChildrenURL makes a folder remote: its children are the repository
	// URLs listed one per line at this address.
	ChildrenURL string   `json:"childrenUrl,omitempty"`
	Parent      string   `json:"parent,omitempty"`
	Children    []string `json:"children,omitempty"`

	AppCount int       `json:"appCount"`
	Apps     []AppItem `json:"cachedApps,omitempty"`
	Status   Status    `json:"status,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Remote reports whether the node is a folder fed by a remote list.
func (n *Node) Remote() bool { return n.Folder && n.ChildrenURL != "" }

// Tree is the arena of repository nodes.
type Tree struct {
	Roots []string         `json:"roots"`
	Nodes map[string]*Node `json:"nodes"`
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{Nodes: make(map[string]*Node)}
}

// Get returns the node with id.
func (t *Tree) Get(id string) (*Node, bool) {
	n, ok := t.Nodes[id]
	return n, ok
}

// Children lists the ids under parent ("" for the top level).
func (t *Tree) Children(parent string) []string {
	if parent == "" {
		return t.Roots
	}
	if n, ok := t.Nodes[parent]; ok {
		return n.Children
	}
	return nil
}

// NormalizeURL trims a repository address and defaults the scheme to https.
func NormalizeURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty repository URL")
	}
	if !strings.HasPrefix(strings.ToLower(s), "http") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid repository URL %q", raw)
	}
	return u.String(), nil
}

// AddRepo adds a repository under parent. Its id is its URL.
func (t *Tree) AddRepo(rawURL, name, parent string) (*Node, error) {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	if _, ok := t.Nodes[u]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, u)
	}
	if name == "" {
		name = "Unknown"
	}
	n := &Node{ID: u, Name: name, URL: u, Enabled: true, Status: StatusIdle}
	if err := t.attach(n, parent); err != nil {
		return nil, err
	}
	return n, nil
}

// AddFolder adds a folder under parent. childrenURL may be empty.
func (t *Tree) AddFolder(name, parent, childrenURL string) (*Node, error) {
	if childrenURL != "" {
		u, err := NormalizeURL(childrenURL)
		if err != nil {
			return nil, err
		}
		childrenURL = u
	}
	n := &Node{ID: uuid.NewString(), Name: name, Folder: true, Enabled: true, ChildrenURL: childrenURL, Status: StatusIdle}
	if err := t.attach(n, parent); err != nil {
		return nil, err
	}
	return n, nil
}

func (t *Tree) attach(n *Node, parent string) error {
	if parent == "" {
		n.Parent = ""
		t.Nodes[n.ID] = n
		t.Roots = append(t.Roots, n.ID)
		return nil
	}
	p, err := t.folder(parent)
	if err != nil {
		return err
	}
	n.Parent = parent
	t.Nodes[n.ID] = n
	p.Children = append(p.Children, n.ID)
	return nil
}

// folder returns a local folder that may receive children.
func (t *Tree) folder(id string) (*Node, error) {
	p, ok := t.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !p.Folder {
		return nil, fmt.Errorf("%w: %s", ErrNotFolder, p.Name)
	}
	if p.Remote() {
		return nil, fmt.Errorf("%w: %s", ErrRemoteFolder, p.Name)
	}
	return p, nil
}

func (t *Tree) detach(n *Node) {
	if n.Parent == "" {
		t.Roots = without(t.Roots, n.ID)
		return
	}
	if p, ok := t.Nodes[n.Parent]; ok {
		p.Children = without(p.Children, n.ID)
	}
}

// Rename changes a node's display name.
func (t *Tree) Rename(id, name string) error {
	n, ok := t.Nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	n.Name = name
	return nil
}

// SetEnabled toggles a node. A disabled folder hides its whole subtree.
func (t *Tree) SetEnabled(id string, enabled bool) error {
	n, ok := t.Nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	n.Enabled = enabled
	return nil
}

// Remove deletes a node and everything below it.
func (t *Tree) Remove(id string) error {
	n, ok := t.Nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.detach(n)
	t.drop(n)
	return nil
}

func (t *Tree) drop(n *Node) {
	for _, c := range n.Children {
		if child, ok := t.Nodes[c]; ok {
			t.drop(child)
		}
	}
	delete(t.Nodes, n.ID)
}

// Move re-parents id under parent ("" for the top level). A folder can
// never be moved into its own subtree.
func (t *Tree) Move(id, parent string) error {
	n, ok := t.Nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if parent != "" {
		if _, err := t.folder(parent); err != nil {
			return err
		}
		if t.isAncestor(id, parent) {
			return ErrCycle
		}
	}
	t.detach(n)
	return t.attach(n, parent)
}

// isAncestor reports whether anc is id itself or one of its ancestors.
func (t *Tree) isAncestor(anc, id string) bool {
	for cur := id; cur != ""; {
		if cur == anc {
			return true
		}
		n, ok := t.Nodes[cur]
		if !ok {
			return false
		}
		cur = n.Parent
	}
	return false
}

// EnabledLeaves lists enabled repositories in tree order, skipping every
// node below a disabled folder.
func (t *Tree) EnabledLeaves() []*Node {
	var out []*Node
	var walk func(ids []string)
	walk = func(ids []string) {
		for _, id := range ids {
			n, ok := t.Nodes[id]
			if !ok || !n.Enabled {
				continue
			}
			if n.Folder {
				walk(n.Children)
				continue
			}
			out = append(out, n)
		}
	}
	walk(t.Roots)
	return out
}

// RemoteFolders lists every folder fed by a remote list.
func (t *Tree) RemoteFolders() []*Node {
	var out []*Node
	t.Walk(func(n *Node, depth int) {
		if n.Remote() {
			out = append(out, n)
		}
	})
	return out
}

// Walk visits every node depth-first in tree order.
func (t *Tree) Walk(fn func(n *Node, depth int)) {
	var walk func(ids []string, depth int)
	walk = func(ids []string, depth int) {
		for _, id := range ids {
			n, ok := t.Nodes[id]
			if !ok {
				continue
			}
			fn(n, depth)
			walk(n.Children, depth+1)
		}
	}
	walk(t.Roots, 0)
}

// replaceChildren sets a remote folder's children to urls, keeping the
// existing nodes (cache, name, enabled flag) for URLs already present.
func (t *Tree) replaceChildren(folder *Node, urls []string) {
	existing := make(map[string]bool, len(folder.Children))
	for _, c := range folder.Children {
		existing[c] = true
	}

	var children []string
	seen := make(map[string]bool)
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		if existing[u] {
			children = append(children, u)
			delete(existing, u)
			continue
		}
		if other, ok := t.Nodes[u]; ok && other.Parent != folder.ID {
			// Already listed elsewhere in the tree.
			continue
		}
		t.Nodes[u] = &Node{ID: u, Name: "Unknown", URL: u, Enabled: true, Parent: folder.ID, Status: StatusIdle}
		children = append(children, u)
	}
	for id := range existing {
		if n, ok := t.Nodes[id]; ok {
			t.drop(n)
		}
	}
	folder.Children = children
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
