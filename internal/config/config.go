package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gaki-eu/ffp/internal/utils"
)

const (
	DefaultWatchInterval      = 30 * time.Second
	DefaultFileChangeCooldown = 60 * time.Second
	DefaultArchiveWorkers     = 2
	DefaultLogLevel           = "info"

	catalogFile = "catalog.db"
	lockFile    = "ffp.lock"
	logsDir     = "logs"
	logFile     = "ffp.log"
)

var (
	home, _           = os.UserHomeDir()
	DefaultDataDir    = filepath.Join(home, ".ffp")
	DefaultConfigPath = filepath.Join(DefaultDataDir, "config.yaml")

	// DefaultExcludeExtensions are the file types never worth shipping
	DefaultExcludeExtensions = []string{".html", ".exe", ".txt", ".readme", ".nfo", ".link"}
)

var (
	ErrNoWatchFolders = errors.New("no watch folders configured")
	ErrBadExtension   = errors.New("invalid extension")
)

type Config struct {
	Path    string `json:"-" mapstructure:"-"`
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	WatchFolders  []string      `json:"watch_folders" mapstructure:"folders"`
	WatchInterval time.Duration `json:"watch_interval" mapstructure:"interval"`
	WatchIgnore   []string      `json:"watch_ignore" mapstructure:"ignore"`
	WatchNotify   bool          `json:"watch_notify" mapstructure:"notify"`

	FileChangeCooldown time.Duration `json:"file_change_cooldown" mapstructure:"-"`

	CompressFolder    bool     `json:"compress_folder" mapstructure:"-"`
	ExcludeExtensions []string `json:"exclude_extensions" mapstructure:"-"`
	ExcludePatterns   []string `json:"exclude_patterns" mapstructure:"-"`
	ArchiveWorkers    int      `json:"archive_workers" mapstructure:"-"`
	CheckFreeSpace    bool     `json:"check_free_space" mapstructure:"-"`

	LogLevel string `json:"log_level" mapstructure:"-"`
}

// Validate normalizes paths and replaces unusable values with defaults.
// Only a config without any watch folder is rejected.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	dataDir, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	c.DataDir = dataDir

	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("config path: %w", err)
		}
	}

	folders := make([]string, 0, len(c.WatchFolders))
	seen := make(map[string]struct{}, len(c.WatchFolders))
	for _, f := range c.WatchFolders {
		if strings.TrimSpace(f) == "" {
			continue
		}
		resolved, err := utils.ResolvePath(strings.TrimSpace(f))
		if err != nil {
			return fmt.Errorf("watch folder %q: %w", f, err)
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		folders = append(folders, resolved)
	}
	if len(folders) == 0 {
		return ErrNoWatchFolders
	}
	c.WatchFolders = folders

	if c.WatchInterval <= 0 {
		c.WatchInterval = DefaultWatchInterval
	}
	if c.FileChangeCooldown < 0 {
		slog.Warn("config negative cooldown, using default", "value", c.FileChangeCooldown, "default", DefaultFileChangeCooldown)
		c.FileChangeCooldown = DefaultFileChangeCooldown
	}
	if c.ArchiveWorkers <= 0 {
		c.ArchiveWorkers = DefaultArchiveWorkers
	}

	if len(c.ExcludeExtensions) == 0 {
		c.ExcludeExtensions = append([]string(nil), DefaultExcludeExtensions...)
	}

	patterns := c.ExcludePatterns[:0]
	for _, p := range c.ExcludePatterns {
		if !doublestar.ValidatePattern(p) {
			slog.Warn("config ignoring invalid exclude pattern", "pattern", p)
			continue
		}
		patterns = append(patterns, p)
	}
	c.ExcludePatterns = patterns

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		slog.Warn("config unknown log level, using default", "value", c.LogLevel, "default", DefaultLogLevel)
		c.LogLevel = DefaultLogLevel
	}

	return nil
}

// CatalogPath is the sqlite database holding tracked entries
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir, catalogFile)
}

// LockPath guards against two daemons sharing a data dir
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, lockFile)
}

func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, logsDir, logFile)
}

// ParseExtensions parses a comma separated extension list such as
// ".html,.exe,txt". Entries are lower cased and get a leading dot.
func ParseExtensions(raw string) ([]string, error) {
	var exts []string
	for _, part := range strings.Split(raw, ",") {
		ext := strings.ToLower(strings.TrimSpace(part))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if ext == "." || strings.ContainsAny(ext[1:], `./\ `) {
			return nil, fmt.Errorf("%w: %q", ErrBadExtension, part)
		}
		exts = append(exts, ext)
	}
	if len(exts) == 0 {
		return nil, fmt.Errorf("%w: empty list", ErrBadExtension)
	}
	return exts, nil
}

// ExtensionsOrDefault parses raw and falls back to DefaultExcludeExtensions
// when it is unset or unparseable.
func ExtensionsOrDefault(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), DefaultExcludeExtensions...)
	}
	exts, err := ParseExtensions(raw)
	if err != nil {
		slog.Warn("config bad exclude.extensions, using defaults", "value", raw, "error", err)
		return append([]string(nil), DefaultExcludeExtensions...)
	}
	return exts
}

// ParseLogLevel maps debug, info, warn and error to slog levels
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		s = DefaultLogLevel
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}
