package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/lbox/internal/platform"
	"github.com/ZebulonRouseFrantzich/lbox/internal/units"
	lua "github.com/yuin/gopher-lua"
)

// Parser evaluates lbox.lua with platform detection.
type Parser struct {
	detector platform.Detector
	baseDir  string
}

// NewParser creates a parser. baseDir anchors defaults and relative paths;
// detector may be nil, in which case no `platform` table is injected.
func NewParser(detector platform.Detector, baseDir string) *Parser {
	return &Parser{detector: detector, baseDir: baseDir}
}

// ParseFile parses path. A missing file yields the defaults.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Defaults(p.baseDir), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return p.ParseString(ctx, string(data))
}

// ParseString parses a Lua config from a string.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*Config, error) {
	L := newSandboxedVM()
	defer L.Close()
	L.SetContext(ctx)

	if p.detector != nil {
		info, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		platform.InjectPlatformTable(L, info)
	}

	if err := L.DoString(luaCode); err != nil {
		return nil, &ParseError{
			Message: "Lua syntax error",
			Detail:  err.Error(),
		}
	}

	return p.extractConfig(L)
}

// ParseError represents a config parsing error with friendly message.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua error)
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// extractConfig reads the global "lbox" table over the defaults.
func (p *Parser) extractConfig(L *lua.LState) (*Config, error) {
	cfg := Defaults(p.baseDir)

	root := L.GetGlobal(luaGlobalLbox)
	switch root.Type() {
	case lua.LTNil:
		return cfg, nil
	case lua.LTTable:
	default:
		return nil, &ParseError{
			Message: "invalid 'lbox' table",
			Detail:  fmt.Sprintf("expected table, got %s", root.Type()),
		}
	}
	table := root.(*lua.LTable)

	if t, ok := table.RawGetString(luaFieldStorage).(*lua.LTable); ok {
		p.extractStorage(t, &cfg.Storage)
	}
	if t, ok := table.RawGetString(luaFieldTransfer).(*lua.LTable); ok {
		if err := extractTransfer(t, &cfg.Transfer); err != nil {
			return nil, err
		}
	}
	if t, ok := table.RawGetString(luaFieldInstall).(*lua.LTable); ok {
		if v, ok := t.RawGetString(luaFieldAutoInstall).(lua.LBool); ok {
			cfg.Install.AutoInstall = bool(v)
		}
	}
	if t, ok := table.RawGetString(luaFieldVerify).(*lua.LTable); ok {
		if v, ok := t.RawGetString(luaFieldInterval).(lua.LNumber); ok {
			cfg.Verify.Interval = seconds(v)
		}
	}
	if t, ok := table.RawGetString(luaFieldRepos).(*lua.LTable); ok {
		cfg.Repositories = extractRepositories(t)
	}

	if err := cfg.Validate(); err != nil {
		return nil, &ParseError{
			Message: "config validation failed",
			Detail:  err.Error(),
		}
	}
	return cfg, nil
}

func (p *Parser) extractStorage(t *lua.LTable, s *Storage) {
	if v, ok := t.RawGetString(luaFieldDownloads).(lua.LString); ok {
		s.Downloads = p.resolvePath(string(v))
	}
	if v, ok := t.RawGetString(luaFieldContainer).(lua.LString); ok {
		s.Container = p.resolvePath(string(v))
	}
	if v, ok := t.RawGetString(luaFieldState).(lua.LString); ok {
		s.State = p.resolvePath(string(v))
	}
}

func extractTransfer(t *lua.LTable, tr *Transfer) error {
	switch v := t.RawGetString(luaFieldRateLimit).(type) {
	case lua.LNumber:
		tr.RateLimit = int64(v)
	case lua.LString:
		n, err := units.ParseBytes(string(v))
		if err != nil {
			return &ParseError{Message: "invalid transfer.rate_limit", Detail: err.Error()}
		}
		tr.RateLimit = n
	}
	if v, ok := t.RawGetString(luaFieldRetries).(lua.LNumber); ok {
		tr.Retries = int(v)
	}
	if v, ok := t.RawGetString(luaFieldConnTimeout).(lua.LNumber); ok {
		tr.ConnectTimeout = seconds(v)
	}
	if v, ok := t.RawGetString(luaFieldConcurrency).(lua.LNumber); ok {
		tr.FetchConcurrency = int(v)
	}
	return nil
}

// extractRepositories accepts plain URL strings or {url=, name=, enabled=}
// tables. Nil entries from platform conditionals are skipped.
func extractRepositories(t *lua.LTable) []Repository {
	var repos []Repository
	t.ForEach(func(_, value lua.LValue) {
		switch v := value.(type) {
		case lua.LString:
			repos = append(repos, Repository{URL: string(v), Enabled: true})
		case *lua.LTable:
			r := Repository{Enabled: true}
			if s, ok := v.RawGetString(luaFieldURL).(lua.LString); ok {
				r.URL = string(s)
			}
			if s, ok := v.RawGetString(luaFieldName).(lua.LString); ok {
				r.Name = string(s)
			}
			if b, ok := v.RawGetString(luaFieldEnabled).(lua.LBool); ok {
				r.Enabled = bool(b)
			}
			repos = append(repos, r)
		}
	})
	return repos
}

// resolvePath expands "~/" and anchors relative paths at the base dir.
func (p *Parser) resolvePath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	if !filepath.IsAbs(path) && path != "" {
		path = filepath.Join(p.baseDir, path)
	}
	return filepath.Clean(path)
}

func seconds(n lua.LNumber) time.Duration {
	return time.Duration(float64(n) * float64(time.Second))
}

// FormatError formats a ParseError for user display.
// In verbose mode, show the raw Lua error. Otherwise, show friendly message.
func FormatError(err error, verbose bool) string {
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		return err.Error()
	}
	if verbose {
		return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
	}
	detail := parseErr.Detail
	if idx := strings.Index(detail, "stack traceback"); idx > 0 {
		detail = strings.TrimSpace(detail[:idx])
	}
	return fmt.Sprintf("%s: %s", parseErr.Message, detail)
}
