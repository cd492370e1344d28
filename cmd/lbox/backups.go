package main

import (
	"context"
	"fmt"
	"time"
)

// runBackups handles `lbox backups [list|check|restore|discard]`.
func runBackups(args []string) error {
	action := "list"
	if len(args) > 0 {
		action = args[0]
		args = args[1:]
	}
	if action == "--help" || action == "-h" {
		printBackupsHelp()
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
		backups := client.Backups()
		if len(backups) == 0 {
			fmt.Println("No update backups.")
			return nil
		}
		for _, b := range backups {
			version := b.Version
			if version == "" {
				version = "-"
			}
			fmt.Printf("  %s  %-30s %-10s %s  %s\n", b.Token, b.AppName, version,
				b.OriginalPathName, b.CreatedAt.Local().Format(time.DateTime))
		}
	case "check":
		if len(args) == 0 {
			n, err := client.VerifyBackups()
			fmt.Printf("%d backup(s) resolved, %d waiting for activation\n", n, len(client.Backups()))
			return err
		}
		for _, id := range args {
			done, err := client.CheckUpdateStatus(id)
			if err != nil {
				return err
			}
			if done {
				fmt.Printf("%s: update verified\n", id)
			} else {
				fmt.Printf("%s: waiting for the updated app to be launched\n", id)
			}
		}
	case "restore":
		if len(args) != 1 {
			return fmt.Errorf("usage: lbox backups restore <id>")
		}
		if err := client.RestoreBackup(args[0]); err != nil {
			return err
		}
		fmt.Printf("Restored %s\n", args[0])
	case "discard":
		if len(args) == 0 {
			return fmt.Errorf("usage: lbox backups discard <id>...")
		}
		for _, id := range args {
			if err := client.DiscardBackup(id); err != nil {
				return err
			}
			fmt.Printf("Discarded %s\n", id)
		}
	default:
		printBackupsHelp()
		return fmt.Errorf("unknown backups action: %s", action)
	}
	return nil
}

func printBackupsHelp() {
	fmt.Println("Usage: lbox backups [action]")
	fmt.Println()
	fmt.Println("Actions:")
	fmt.Println("  list               List backups awaiting verification (default)")
	fmt.Println("  check [id]...      Verify updates and finalize activated ones")
	fmt.Println("  restore <id>       Put the previous version back")
	fmt.Println("  discard <id>...    Delete backups without restoring")
	fmt.Println()
	fmt.Println("An id is a backup token or a bundle identifier.")
}
