package main

import (
	"fmt"
	"os"
)

// Version will be set at build time via -ldflags
var Version = "v0.1.0"

func main() {
	if len(os.Args) > 1 {
		var err error
		switch os.Args[1] {
		case "--version":
			fmt.Printf("lbox %s\n", Version)
			return
		case "get":
			err = runGet(os.Args[2:])
		case "resume":
			err = runResume(os.Args[2:])
		case "cancel":
			err = runCancel(os.Args[2:])
		case "status":
			err = runStatus(os.Args[2:])
		case "install":
			err = runInstall(os.Args[2:])
		case "apps":
			err = runApps(os.Args[2:])
		case "rm":
			err = runRemove(os.Args[2:])
		case "files":
			err = runFiles(os.Args[2:])
		case "backups":
			err = runBackups(os.Args[2:])
		case "repo":
			err = runRepo(os.Args[2:])
		case "help", "--help", "-h":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n", os.Args[1])
			printUsage()
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	printUsage()
}

func printUsage() {
	fmt.Println("lbox - download and install app archives")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  lbox --version                   Show version information")
	fmt.Println("  lbox get <url>...                Download (Ctrl-C pauses)")
	fmt.Println("  lbox resume <url>...             Resume paused downloads")
	fmt.Println("  lbox cancel <url>...             Cancel downloads and drop partial data")
	fmt.Println("  lbox status                      Show unfinished downloads")
	fmt.Println("  lbox install [options] <archive> Install an .ipa archive")
	fmt.Println("  lbox apps                        List installed apps")
	fmt.Println("  lbox rm <bundle-id|dir>          Delete an installed app and its data")
	fmt.Println("  lbox files [action]              Manage the download folder")
	fmt.Println("  lbox backups [action]            Manage update backups")
	fmt.Println("  lbox repo [action]               Manage catalog repositories")
}
