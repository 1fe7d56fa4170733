package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/gaki-eu/ffp/internal/config"
	"github.com/gaki-eu/ffp/internal/daemon"
	"github.com/gaki-eu/ffp/internal/utils"
	"github.com/gaki-eu/ffp/internal/version"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

const logTimeFormat = "2006-01-02T15:04:05.000Z07:00"

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

// closeLog flushes and closes the log file of this run
var closeLog = func() error { return nil }

var rootCmd = &cobra.Command{
	Use:     "ffp",
	Short:   "Archive files and folders once they stop changing",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDaemon(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		showBanner(cmd.OutOrStdout())
		defer slog.Info("Bye!")
		return d.Start(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	addConfigFlags(rootCmd)
}

// addConfigFlags registers the flags loadConfig reads, shared by every command
func addConfigFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", config.DefaultConfigPath, "ffp config file")
	flags.StringSliceP("watch", "w", nil, "folder to watch, repeatable")
	flags.StringP("datadir", "d", config.DefaultDataDir, "directory for the catalog, lock and logs")
	flags.Duration("interval", config.DefaultWatchInterval, "time between two scans of a folder")
	flags.Int("cooldown", int(config.DefaultFileChangeCooldown.Seconds()), "seconds an entry must stay unchanged before it is archived")
	flags.String("log-level", config.DefaultLogLevel, "debug, info, warn or error")
}

func main() {
	// stdout only until the config tells us where the log file lives
	slog.SetDefault(slog.New(newStdoutHandler(slog.LevelInfo)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	closeLog()
	if err != nil {
		os.Exit(1)
	}
}

// openDaemon loads the config, switches logging to its level and file and
// returns an opened daemon
func openDaemon(cmd *cobra.Command) (*daemon.Daemon, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// all good now, no usage dump on runtime errors
	cmd.SilenceUsage = true

	if err := setupLogging(cfg); err != nil {
		return nil, err
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := d.Open(); err != nil {
		return nil, err
	}
	return d, nil
}

func newStdoutHandler(level slog.Level) slog.Handler {
	return tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: logTimeFormat,
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
}

func setupLogging(cfg *config.Config) error {
	level, _ := config.ParseLogLevel(cfg.LogLevel)

	logPath := cfg.LogPath()
	if err := utils.EnsureParent(logPath); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	interceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(interceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// the interceptor stamps the time
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(newStdoutHandler(level), fileHandler)))
	closeLog = func() error {
		return errors.Join(interceptor.Close(), file.Close())
	}
	return nil
}
