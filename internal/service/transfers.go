package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/lbox/internal/transfer"
)

// Download starts or resumes url. It is a no-op when the file is already
// in the download folder.
func (c *Client) Download(ctx context.Context, url string) error {
	return c.engine.Start(ctx, url)
}

// Pause stops url and keeps its continuation token.
func (c *Client) Pause(url string) { c.engine.Pause(url) }

// Resume continues url from its token, or starts it fresh.
func (c *Client) Resume(ctx context.Context, url string) error {
	return c.engine.Resume(ctx, url)
}

// Cancel stops url for good; the next download starts from zero.
func (c *Client) Cancel(ctx context.Context, url string) error {
	return c.engine.Cancel(ctx, url)
}

// Status returns the transfer state of url.
func (c *Client) Status(url string) transfer.State { return c.engine.Status(url) }

// Transfers lists every URL that is downloading, paused or waiting.
func (c *Client) Transfers() []string { return c.engine.Transfers() }

// Wait blocks until the transfer for url stops and returns the completed
// file, if any.
func (c *Client) Wait(ctx context.Context, url string) (string, error) {
	return c.engine.Wait(ctx, url)
}

// onTransfer is the engine observer. It runs on transfer goroutines and
// hands finished downloads to a background conversion.
func (c *Client) onTransfer(ev transfer.Event) {
	switch {
	case ev.Err != nil:
		c.notifier.Notify("Download Failed", fmt.Sprintf("%s: %v", transfer.FileName(ev.URL), ev.Err))
	case ev.Path != "":
		name := filepath.Base(ev.Path)
		c.notifier.Notify("Download Complete", name+" has been downloaded.")
		if c.cfg.Install.AutoInstall && strings.EqualFold(filepath.Ext(ev.Path), ".ipa") {
			path := ev.Path
			c.goBackground(func() { c.autoInstall(path) })
		}
	}
}

func (c *Client) autoInstall(path string) {
	res, err := c.Convert(context.Background(), path)
	switch {
	case err != nil:
		c.log.Error("automatic install failed", "archive", path, "error", err)
		c.notifier.Notify("Install Failed", fmt.Sprintf("%s: %v", filepath.Base(path), err))
	case res.Pending != nil:
		c.notifier.Notify("Already Installed",
			fmt.Sprintf("%s is already installed. Choose whether to update it or install a separate copy.", res.Pending.AppName))
	default:
		c.notifier.Notify("Installed", filepath.Base(res.Path)+" is ready.")
	}
}
