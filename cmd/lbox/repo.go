package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/lbox/internal/catalog"
	"github.com/ZebulonRouseFrantzich/lbox/internal/units"
)

// runRepo handles `lbox repo [list|add|folder|rm|enable|disable|move|refresh|apps|updates]`.
func runRepo(args []string) error {
	action := "list"
	if len(args) > 0 {
		action = args[0]
		args = args[1:]
	}
	if action == "--help" || action == "-h" {
		printRepoHelp()
		return nil
	}
	flags, rest := splitFlags(args)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	client, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	cat := client.Catalog()

	switch action {
	case "list":
		cat.View(func(t *catalog.Tree) { printTree(t) })
	case "add":
		if len(rest) != 1 {
			return fmt.Errorf("usage: lbox repo add <url> [--name=NAME] [--folder=ID]")
		}
		err = cat.Update(func(t *catalog.Tree) error {
			n, err := t.AddRepo(rest[0], flags["name"], flags["folder"])
			if err == nil {
				fmt.Printf("Added %s\n", n.URL)
			}
			return err
		})
	case "folder":
		if len(rest) != 1 {
			return fmt.Errorf("usage: lbox repo folder <name> [--list=URL] [--folder=ID]")
		}
		err = cat.Update(func(t *catalog.Tree) error {
			n, err := t.AddFolder(rest[0], flags["folder"], flags["list"])
			if err == nil {
				fmt.Printf("Added folder %s (%s)\n", n.Name, n.ID)
			}
			return err
		})
	case "rm":
		if len(rest) != 1 {
			return fmt.Errorf("usage: lbox repo rm <id>")
		}
		err = cat.Update(func(t *catalog.Tree) error { return t.Remove(rest[0]) })
	case "enable", "disable":
		if len(rest) != 1 {
			return fmt.Errorf("usage: lbox repo %s <id>", action)
		}
		err = cat.Update(func(t *catalog.Tree) error { return t.SetEnabled(rest[0], action == "enable") })
	case "rename":
		if len(rest) != 2 {
			return fmt.Errorf("usage: lbox repo rename <id> <name>")
		}
		err = cat.Update(func(t *catalog.Tree) error { return t.Rename(rest[0], rest[1]) })
	case "move":
		if len(rest) < 1 || len(rest) > 2 {
			return fmt.Errorf("usage: lbox repo move <id> [folder-id]")
		}
		parent := ""
		if len(rest) == 2 {
			parent = rest[1]
		}
		err = cat.Update(func(t *catalog.Tree) error { return t.Move(rest[0], parent) })
	case "refresh":
		var sum catalog.Summary
		sum, err = cat.Refresh(ctx)
		if err == nil {
			fmt.Printf("Refreshed %d repositories (%d failed), %d apps\n", sum.Repos, sum.Failed, sum.Apps)
		}
	case "apps":
		opts := catalog.ViewOptions{
			Strict: flags["strict"] != "",
			Sort:   catalog.ParseSortOrder(flags["sort"]),
			Query:  flags["search"],
			Source: flags["source"],
		}
		apps := catalog.Display(cat.Apps(), opts)
		if len(apps) == 0 {
			fmt.Println("No apps. Run 'lbox repo refresh' first.")
			return nil
		}
		for _, a := range apps {
			fmt.Println(formatItem(a))
		}
	case "updates":
		var updates []catalog.Update
		updates, err = client.CheckUpdates()
		if err == nil && len(updates) == 0 {
			fmt.Println("All installed apps are up to date.")
		}
		for _, u := range updates {
			fmt.Printf("  %-30s %s -> %s\n    %s\n", u.BundleID, u.Installed, u.Latest.Version, u.Latest.DownloadURL)
		}
	default:
		printRepoHelp()
		return fmt.Errorf("unknown repo action: %s", action)
	}
	return err
}

// splitFlags separates --key=value and --flag arguments from positionals.
func splitFlags(args []string) (map[string]string, []string) {
	flags := make(map[string]string)
	var rest []string
	for _, a := range args {
		if !strings.HasPrefix(a, "--") {
			rest = append(rest, a)
			continue
		}
		key, value, found := strings.Cut(strings.TrimPrefix(a, "--"), "=")
		if !found {
			value = "true"
		}
		flags[key] = value
	}
	return flags, rest
}

func printTree(t *catalog.Tree) {
	if len(t.Roots) == 0 {
		fmt.Println("No repositories. Add one with 'lbox repo add <url>'.")
		return
	}
	t.Walk(func(n *catalog.Node, depth int) {
		fmt.Println(formatNode(n, depth))
	})
}

// formatNode renders one tree line.
func formatNode(n *catalog.Node, depth int) string {
	var b strings.Builder
	b.WriteString(strings.Repeat("  ", depth+1))
	if n.Folder {
		b.WriteString(n.Name + "/")
		if n.Remote() {
			b.WriteString(" <- " + n.ChildrenURL)
		}
		b.WriteString("  [" + n.ID + "]")
	} else {
		fmt.Fprintf(&b, "%s  %s  (%d apps)", n.Name, n.URL, n.AppCount)
	}
	if !n.Enabled {
		b.WriteString("  disabled")
	}
	if n.Error != "" {
		b.WriteString("  error: " + n.Error)
	}
	return b.String()
}

// formatItem renders one catalog app line.
func formatItem(a catalog.AppItem) string {
	size := ""
	if a.Size > 0 {
		size = units.HumanBytes(a.Size)
	}
	return fmt.Sprintf("  %-30s %-10s %-9s %s\n    %s", a.Name, a.Version, size, a.Source, a.DownloadURL)
}

func printRepoHelp() {
	fmt.Println("Usage: lbox repo [action]")
	fmt.Println()
	fmt.Println("Actions:")
	fmt.Println("  list                                  Show the repository tree (default)")
	fmt.Println("  add <url> [--name=N] [--folder=ID]    Add a repository")
	fmt.Println("  folder <name> [--list=URL]            Add a folder, optionally fed by a remote list")
	fmt.Println("  rm <id>                               Remove a repository or folder")
	fmt.Println("  enable|disable <id>                   Toggle a repository or folder")
	fmt.Println("  rename <id> <name>                    Rename a node")
	fmt.Println("  move <id> [folder-id]                 Move a node (top level when no folder)")
	fmt.Println("  refresh                               Fetch every enabled repository")
	fmt.Println("  apps [--strict] [--sort=name|date|size] [--search=Q] [--source=REPO]")
	fmt.Println("  updates                               Show newer versions of installed apps")
}
