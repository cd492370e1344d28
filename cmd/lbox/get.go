package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ZebulonRouseFrantzich/lbox/internal/service"
	"github.com/ZebulonRouseFrantzich/lbox/internal/transfer"
	"github.com/ZebulonRouseFrantzich/lbox/internal/units"
)

// runGet handles `lbox get`. Downloads run in the foreground; Ctrl-C
// pauses them so a later `lbox resume` continues where they stopped.
func runGet(args []string) error {
	return runTransfers(args, "get", func(ctx context.Context, c *service.Client, url string) error {
		return c.Download(ctx, url)
	})
}

// runResume handles `lbox resume`.
func runResume(args []string) error {
	return runTransfers(args, "resume", func(ctx context.Context, c *service.Client, url string) error {
		return c.Resume(ctx, url)
	})
}

func runTransfers(args []string, name string, start func(context.Context, *service.Client, string) error) error {
	if hasHelp(args) || len(args) == 0 {
		fmt.Printf("Usage: lbox %s <url>...\n", name)
		if len(args) == 0 {
			return fmt.Errorf("no URL given")
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	for _, url := range args {
		if err := start(ctx, client, url); err != nil {
			return fmt.Errorf("%s %s: %w", name, url, err)
		}
	}

	progressDone := make(chan struct{})
	go printProgress(ctx, client, args, progressDone)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []error
	)
	for _, url := range args {
		wg.Add(1)
		go func() {
			defer wg.Done()
			path, err := client.Wait(ctx, url)
			if errors.Is(err, context.Canceled) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, err)
				return
			}
			if path != "" {
				fmt.Printf("Saved %s\n", path)
			}
		}()
	}
	wg.Wait()
	close(progressDone)

	if ctx.Err() != nil {
		for _, url := range args {
			client.Pause(url)
		}
		fmt.Println()
		fmt.Println("Paused. Run 'lbox resume <url>' to continue.")
		return nil
	}

	client.Settle()
	if p := client.PendingInstallation(); p != nil {
		if err := resolvePending(client, p, "ask"); err != nil {
			return err
		}
	}
	return errors.Join(failed...)
}

func printProgress(ctx context.Context, client *service.Client, urls []string, done <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			parts := make([]string, 0, len(urls))
			for _, u := range urls {
				st := client.Status(u)
				if st.Kind == transfer.Idle {
					continue
				}
				parts = append(parts, fmt.Sprintf("%s %s", transfer.FileName(u), formatState(st)))
			}
			if len(parts) > 0 {
				fmt.Fprintf(os.Stderr, "\r%s", strings.Join(parts, "  "))
			}
		}
	}
}

// formatState renders a transfer state for humans.
func formatState(st transfer.State) string {
	switch st.Kind {
	case transfer.Downloading, transfer.Paused, transfer.WaitingForConnectivity:
		if st.BytesTotal > 0 {
			return fmt.Sprintf("%s %.0f%% (%s/%s)", st.Kind, st.Progress()*100,
				units.HumanBytes(st.BytesWritten), units.HumanBytes(st.BytesTotal))
		}
		return fmt.Sprintf("%s %s", st.Kind, units.HumanBytes(st.BytesWritten))
	default:
		return st.Kind.String()
	}
}

// runCancel handles `lbox cancel`.
func runCancel(args []string) error {
	if hasHelp(args) || len(args) == 0 {
		fmt.Println("Usage: lbox cancel <url>...")
		if len(args) == 0 {
			return fmt.Errorf("no URL given")
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

	for _, url := range args {
		if err := client.Cancel(ctx, url); err != nil {
			return fmt.Errorf("cancel %s: %w", url, err)
		}
		fmt.Printf("Cancelled %s\n", url)
	}
	return nil
}

// runStatus handles `lbox status`.
func runStatus(args []string) error {
	if hasHelp(args) {
		fmt.Println("Usage: lbox status")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	urls := client.Transfers()
	if len(urls) == 0 {
		fmt.Println("No unfinished downloads.")
		return nil
	}
	sort.Strings(urls)
	for _, u := range urls {
		fmt.Printf("  %s\n    %s\n", u, formatState(client.Status(u)))
	}
	return nil
}
