package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ZebulonRouseFrantzich/lbox/internal/config"
	"github.com/ZebulonRouseFrantzich/lbox/internal/logging"
	"github.com/ZebulonRouseFrantzich/lbox/internal/platform"
	"github.com/ZebulonRouseFrantzich/lbox/internal/service"
)

// newLogger writes to stderr; LBOX_DEBUG enables debug output.
func newLogger() logging.Logger {
	level := slog.LevelWarn
	if os.Getenv("LBOX_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return logging.NewSlog(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// printNotifier prints notifications as single lines.
type printNotifier struct{}

func (printNotifier) Notify(title, body string) {
	fmt.Printf("%s: %s\n", title, body)
}

// openClient loads lbox.lua and opens the service client.
func openClient(ctx context.Context) (*service.Client, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, fmt.Errorf("get lbox directory: %w", err)
	}

	log := newLogger()
	detector := platform.NewDetector()
	cfg, err := config.Load(ctx, dir, detector)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	userAgent := ""
	if info, err := detector.Detect(ctx); err == nil {
		userAgent = info.UserAgent(Version)
	} else {
		log.Debug("platform detection failed", "error", err)
	}

	client, err := service.Open(ctx, service.Options{
		Config:    cfg,
		Space:     detector,
		UserAgent: userAgent,
		Notifier:  printNotifier{},
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// hasHelp reports whether args ask for help.
func hasHelp(args []string) bool {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			return true
		}
	}
	return false
}
