// Package config loads lbox.lua, the sandboxed Lua configuration file that
// selects storage roots, transfer tuning and catalog repositories.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"
)

// Config is the complete lbox configuration.
type Config struct {
	Storage      Storage
	Transfer     Transfer
	Install      Install
	Verify       Verify
	Repositories []Repository
}

// Storage holds the managed roots. All paths are absolute once parsed.
type Storage struct {
	// Downloads is the managed download folder.
	Downloads string
	// Container is the execution environment's container root. Installed
	// apps live in <Container>/Applications when it exists.
	Container string
	// State holds the resume index, resume blobs, backups and ledger.
	State string
}

// Transfer tunes the transfer engine.
type Transfer struct {
	RateLimit        int64 // bytes per second, 0 = unlimited
	Retries          int   // consecutive reconnect attempts, 0 = unlimited
	ConnectTimeout   time.Duration
	FetchConcurrency int
}

// Install tunes archive conversion.
type Install struct {
	AutoInstall bool
}

// Verify tunes the background backup verification pass.
type Verify struct {
	Interval time.Duration
}

// Repository is one catalog source.
type Repository struct {
	URL     string
	Name    string
	Enabled bool
}

// Defaults returns the configuration used when lbox.lua is absent.
func Defaults(dir string) *Config {
	return &Config{
		Storage: Storage{
			Downloads: filepath.Join(dir, "Downloads"),
			Container: filepath.Join(dir, "Container"),
			State:     filepath.Join(dir, "state"),
		},
		Transfer: Transfer{
			Retries:          DefaultRetries,
			ConnectTimeout:   DefaultConnectTimeout,
			FetchConcurrency: DefaultFetchConcurrency,
		},
		Install: Install{AutoInstall: true},
		Verify:  Verify{Interval: DefaultVerifyInterval},
	}
}

// Validate performs basic validation on a Config.
func (c *Config) Validate() error {
	for field, p := range map[string]string{
		"storage.downloads": c.Storage.Downloads,
		"storage.container": c.Storage.Container,
		"storage.state":     c.Storage.State,
	} {
		if p == "" {
			return &ValidationError{Field: field, Message: "path cannot be empty"}
		}
		if !filepath.IsAbs(p) {
			return &ValidationError{Field: field, Message: fmt.Sprintf("path must be absolute: %s", p)}
		}
	}

	if c.Transfer.RateLimit < 0 {
		return &ValidationError{Field: "transfer.rate_limit", Message: "cannot be negative"}
	}
	if c.Transfer.Retries < 0 || c.Transfer.Retries > MaxRetries {
		return &ValidationError{
			Field:   "transfer.retries",
			Message: fmt.Sprintf("must be between 0 and %d (got %d)", MaxRetries, c.Transfer.Retries),
		}
	}
	if c.Transfer.ConnectTimeout <= 0 {
		return &ValidationError{Field: "transfer.connect_timeout", Message: "must be positive"}
	}
	if c.Transfer.FetchConcurrency < 1 || c.Transfer.FetchConcurrency > MaxFetchConcurrency {
		return &ValidationError{
			Field:   "transfer.fetch_concurrency",
			Message: fmt.Sprintf("must be between 1 and %d (got %d)", MaxFetchConcurrency, c.Transfer.FetchConcurrency),
		}
	}
	if c.Verify.Interval <= 0 {
		return &ValidationError{Field: "verify.interval", Message: "must be positive"}
	}

	if len(c.Repositories) > MaxRepositories {
		return &ValidationError{
			Field:   "repositories",
			Message: fmt.Sprintf("too many repositories (%d), maximum is %d", len(c.Repositories), MaxRepositories),
		}
	}
	for i, r := range c.Repositories {
		if err := validateRepositoryURL(r.URL); err != nil {
			return &ValidationError{Field: fmt.Sprintf("repositories[%d]", i), Message: err.Error()}
		}
	}

	return nil
}

// ValidationError represents a config validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "config validation failed for " + e.Field + ": " + e.Message
	}
	return "config validation failed: " + e.Message
}

func validateRepositoryURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid repository URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("repository URL must use https:// or http:// scheme (got: %s)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("repository URL has no host: %s", raw)
	}
	return nil
}
