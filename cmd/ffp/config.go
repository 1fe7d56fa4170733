package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gaki-eu/ffp/internal/archiver"
	"github.com/gaki-eu/ffp/internal/config"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	configFileName = "config"
	envPrefix      = "FFP"
)

var home, _ = os.UserHomeDir()

// loadConfig merges flags, FFP_* environment variables, the config file
// and the defaults, in that order of precedence
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()

	if f := cmd.Flag("config"); f != nil && f.Changed {
		v.SetConfigFile(f.Value.String())
	} else {
		v.AddConfigPath(filepath.Join(home, ".ffp"))
		v.AddConfigPath(filepath.Join(home, ".config", "ffp"))
		v.SetConfigName(configFileName)
	}

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		var notFound viper.ConfigFileNotFoundError
		if !enoent && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetDefault("data_dir", config.DefaultDataDir)
	v.SetDefault("watch.interval", config.DefaultWatchInterval)
	v.SetDefault("watch.notify", false)
	v.SetDefault("fileChangeCooldownSeconds", int(config.DefaultFileChangeCooldown.Seconds()))
	v.SetDefault("compress.folder", true)
	v.SetDefault("archive.workers", archiver.DefaultWorkers)
	v.SetDefault("archive.check_free_space", true)
	v.SetDefault("log.level", config.DefaultLogLevel)

	flags := map[string]string{
		"watch.folders":             "watch",
		"data_dir":                  "datadir",
		"watch.interval":            "interval",
		"fileChangeCooldownSeconds": "cooldown",
		"log.level":                 "log-level",
	}
	for key, name := range flags {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	// FFP_WATCH_FOLDERS, FFP_EXCLUDE_EXTENSIONS, ...
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cooldown := intOrDefault(v, "fileChangeCooldownSeconds", int(config.DefaultFileChangeCooldown.Seconds()))

	return &config.Config{
		Path:               v.ConfigFileUsed(),
		DataDir:            v.GetString("data_dir"),
		WatchFolders:       stringList(v.Get("watch.folders")),
		WatchInterval:      v.GetDuration("watch.interval"),
		WatchIgnore:        stringList(v.Get("watch.ignore")),
		WatchNotify:        v.GetBool("watch.notify"),
		FileChangeCooldown: time.Duration(cooldown) * time.Second,
		CompressFolder:     boolOrDefault(v, "compress.folder", true),
		ExcludeExtensions:  config.ExtensionsOrDefault(strings.Join(stringList(v.Get("exclude.extensions")), ",")),
		ExcludePatterns:    stringList(v.Get("exclude.patterns")),
		ArchiveWorkers:     v.GetInt("archive.workers"),
		CheckFreeSpace:     boolOrDefault(v, "archive.check_free_space", true),
		LogLevel:           v.GetString("log.level"),
	}, nil
}

// intOrDefault reads a non-negative int, anything else falls back to def
func intOrDefault(v *viper.Viper, key string, def int) int {
	n, err := cast.ToIntE(v.Get(key))
	if err != nil || n < 0 {
		slog.Warn("config invalid value, using default", "key", key, "value", v.Get(key), "default", def)
		return def
	}
	return n
}

func boolOrDefault(v *viper.Viper, key string, def bool) bool {
	b, err := cast.ToBoolE(v.Get(key))
	if err != nil {
		slog.Warn("config invalid value, using default", "key", key, "value", v.Get(key), "default", def)
		return def
	}
	return b
}

// stringList accepts a YAML list as well as a comma separated string, the
// form environment variables come in
func stringList(raw any) []string {
	var parts []string
	switch val := raw.(type) {
	case nil:
		return nil
	case string:
		parts = strings.Split(val, ",")
	case []string:
		parts = val
	case []any:
		for _, p := range val {
			parts = append(parts, fmt.Sprint(p))
		}
	default:
		parts = []string{fmt.Sprint(val)}
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
