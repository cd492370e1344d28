package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/lbox/internal/install"
	"github.com/ZebulonRouseFrantzich/lbox/internal/service"
)

// runInstall handles `lbox install`.
func runInstall(args []string) error {
	onCollision := "ask"
	var archives []string
	for _, arg := range args {
		switch {
		case arg == "--help" || arg == "-h":
			printInstallHelp()
			return nil
		case strings.HasPrefix(arg, "--on-collision="):
			onCollision = strings.TrimPrefix(arg, "--on-collision=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown option: %s", arg)
		default:
			archives = append(archives, arg)
		}
	}
	if len(archives) != 1 {
		printInstallHelp()
		return fmt.Errorf("expected exactly one archive")
	}
	if onCollision != "ask" {
		if _, err := install.ParseAction(onCollision); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	client, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	res, err := client.Convert(ctx, archives[0])
	if err != nil {
		return err
	}
	if res.Pending == nil {
		fmt.Printf("Installed %s\n", res.Path)
		return nil
	}
	return resolvePending(client, res.Pending, onCollision)
}

// resolvePending applies choice ("ask" prompts on stdin) to the pending
// installation and waits for the result.
func resolvePending(client *service.Client, p *install.Pending, choice string) error {
	var action install.Action
	var err error
	if choice == "ask" {
		action, err = promptAction(os.Stdin, os.Stdout, p)
	} else {
		action, err = install.ParseAction(choice)
	}
	if err != nil {
		return err
	}

	ch, err := client.Resolve(action)
	if err != nil {
		return err
	}
	res := <-ch
	if res.Err != nil {
		return res.Err
	}
	switch action {
	case install.Cancel:
		fmt.Println("Installation cancelled.")
	case install.UpdateExisting:
		fmt.Printf("Updated %s\n", res.Path)
	default:
		fmt.Printf("Installed %s\n", res.Path)
	}
	return nil
}

// promptAction asks which action to take for a collision.
func promptAction(in io.Reader, out io.Writer, p *install.Pending) (install.Action, error) {
	fmt.Fprintf(out, "%s (%s) is already installed as %s", p.AppName, p.BundleID, p.Existing.DirName())
	if p.Existing.Version != "" {
		fmt.Fprintf(out, " version %s", p.Existing.Version)
	}
	fmt.Fprintln(out, ".")
	if p.Staged.Version != "" {
		fmt.Fprintf(out, "The archive contains version %s.\n", p.Staged.Version)
	}

	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, "[u]pdate existing, install [s]eparately, or [c]ancel? ")
		line, err := reader.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "u", "update":
			return install.UpdateExisting, nil
		case "s", "separate":
			return install.InstallSeparate, nil
		case "c", "cancel":
			return install.Cancel, nil
		}
		if err != nil {
			return install.Cancel, nil
		}
	}
}

func printInstallHelp() {
	fmt.Println("Usage: lbox install [options] <archive>")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --on-collision=ACTION  ask, separate, update or cancel (default: ask)")
}

// runApps handles `lbox apps`.
func runApps(args []string) error {
	if hasHelp(args) {
		fmt.Println("Usage: lbox apps")
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	apps, err := client.InstalledApps()
	if err != nil {
		return err
	}
	if len(apps) == 0 {
		fmt.Println("No apps installed.")
		return nil
	}
	for _, a := range apps {
		version := a.Version
		if version == "" {
			version = "-"
		}
		active := ""
		if a.HasMarker() {
			active = " (active)"
		}
		fmt.Printf("  %-30s %-12s %s%s\n", a.Name, version, a.BundleID, active)
	}
	return nil
}

// runRemove handles `lbox rm`.
func runRemove(args []string) error {
	if hasHelp(args) || len(args) != 1 {
		fmt.Println("Usage: lbox rm <bundle-id|directory>")
		if len(args) != 1 {
			return fmt.Errorf("expected exactly one app")
		}
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	app, err := client.DeleteApp(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", app.DirName())
	return nil
}
