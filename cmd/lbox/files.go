package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ZebulonRouseFrantzich/lbox/internal/units"
)

// runFiles handles `lbox files [list|rename|rm|clear|import]`.
func runFiles(args []string) error {
	action := "list"
	if len(args) > 0 {
		action = args[0]
		args = args[1:]
	}
	if action == "--help" || action == "-h" {
		printFilesHelp()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	client, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	switch action {
	case "list":
		files, err := client.Files()
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Println("The download folder is empty.")
			return nil
		}
		for _, f := range files {
			fmt.Printf("  %-40s %10s  %s\n", f.Name, units.HumanBytes(f.Size), f.ModTime.Format(time.DateTime))
		}
	case "rename":
		if len(args) != 2 {
			return fmt.Errorf("usage: lbox files rename <old> <new>")
		}
		if err := client.RenameFile(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Renamed %s to %s\n", args[0], args[1])
	case "rm":
		if len(args) == 0 {
			return fmt.Errorf("usage: lbox files rm <name>...")
		}
		for _, name := range args {
			if err := client.DeleteFile(name); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", name)
		}
	case "clear":
		n, err := client.ClearFiles()
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d file(s)\n", n)
	case "import":
		if len(args) == 0 {
			return fmt.Errorf("usage: lbox files import <path>...")
		}
		for _, src := range args {
			dst, err := client.ImportFile(src)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %s\n", dst)
		}
	default:
		printFilesHelp()
		return fmt.Errorf("unknown files action: %s", action)
	}
	return nil
}

func printFilesHelp() {
	fmt.Println("Usage: lbox files [action]")
	fmt.Println()
	fmt.Println("Actions:")
	fmt.Println("  list                 List downloaded files (default)")
	fmt.Println("  rename <old> <new>   Rename a file")
	fmt.Println("  rm <name>...         Delete files")
	fmt.Println("  clear                Delete every file")
	fmt.Println("  import <path>...     Copy files into the download folder")
}
