package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gaki-eu/ffp/internal/archiver"
	"github.com/gaki-eu/ffp/internal/catalog"
	"github.com/gaki-eu/ffp/internal/checksum"
	"github.com/gaki-eu/ffp/internal/config"
	"github.com/gaki-eu/ffp/internal/scheduler"
	"github.com/gaki-eu/ffp/internal/tracker"
	"github.com/gaki-eu/ffp/internal/utils"
	"github.com/gaki-eu/ffp/internal/watcher"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

var (
	ErrLocked       = errors.New("data dir locked by another ffp process")
	ErrNotSubmitted = errors.New("archive not submitted")
)

// Daemon wires the catalog, the tracker and the archive engine together
// for the configured watch folders
type Daemon struct {
	cfg       *config.Config
	flock     *flock.Flock
	catalog   *catalog.Catalog
	oracle    *checksum.Oracle
	engine    *archiver.Engine
	scheduler *scheduler.Scheduler
	activity  *watcher.ActivityMonitor

	waitersMu sync.Mutex
	waiters   map[string]chan archiver.Job
}

func New(cfg *config.Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:     cfg,
		flock:   flock.New(cfg.LockPath()),
		catalog: catalog.New(cfg.CatalogPath()),
		oracle:  checksum.New(cfg.ArchiveWorkers),
		waiters: make(map[string]chan archiver.Job),
	}

	d.engine = archiver.NewEngine(archiver.Options{
		Workers:        cfg.ArchiveWorkers,
		Compress:       cfg.CompressFolder,
		Filter:         archiver.NewFilter(cfg.ExcludeExtensions, cfg.ExcludePatterns),
		CheckFreeSpace: cfg.CheckFreeSpace,
		OnResult:       d.onResult,
	})

	var activity tracker.Activity
	if cfg.WatchNotify {
		d.activity = watcher.NewActivityMonitor(cfg.WatchFolders...)
		d.activity.FilterPaths(func(path string) bool {
			return archiver.IsArchiveName(filepath.Base(path))
		})
		activity = d.activity
	}

	tr := tracker.New(d.catalog, d.oracle, tracker.Options{
		Cooldown: cfg.FileChangeCooldown,
		Ignore:   append(archiver.IgnorePatterns(), cfg.WatchIgnore...),
		Activity: activity,
	})
	d.scheduler = scheduler.New(tr, d.engine, d.catalog, cfg.WatchFolders, cfg.WatchInterval)

	return d, nil
}

// Open takes the data dir lock and opens the catalog
func (d *Daemon) Open() error {
	if err := utils.EnsureDir(d.cfg.DataDir); err != nil {
		return fmt.Errorf("failed to create data dir %s: %w", d.cfg.DataDir, err)
	}

	locked, err := d.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock data dir: %w", err)
	}
	if !locked {
		return ErrLocked
	}

	if err := d.catalog.Open(); err != nil {
		d.unlock()
		return err
	}
	return nil
}

// Close releases what Open acquired
func (d *Daemon) Close() error {
	err := d.catalog.Close()
	if errors.Is(err, catalog.ErrNotOpen) {
		err = nil
	}
	return errors.Join(err, d.unlock())
}

func (d *Daemon) unlock() error {
	// only remove the lock file we own
	if !d.flock.Locked() {
		return nil
	}
	if err := d.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock data dir: %w", err)
	}
	return os.Remove(d.flock.Path())
}

// Start runs the scan loops until ctx is cancelled, then waits for running
// archive jobs up to the shutdown timeout
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("daemon start", "folders", d.cfg.WatchFolders, "interval", d.cfg.WatchInterval,
		"cooldown", d.cfg.FileChangeCooldown, "compress", d.cfg.CompressFolder, "workers", d.cfg.ArchiveWorkers)

	for _, root := range d.cfg.WatchFolders {
		if !utils.DirExists(root) {
			slog.Warn("watch folder missing", "root", root)
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)

	if d.activity != nil {
		if err := d.activity.Start(egCtx); err != nil {
			// cooldown detection works without hints
			slog.Warn("activity monitor unavailable", "error", err)
			d.activity = nil
		}
	}

	eg.Go(func() error {
		d.scheduler.Start(egCtx)
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("received interrupt signal, stopping daemon")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return d.Stop(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("daemon failure", "error", err)
		return err
	}

	slog.Info("daemon stopped")
	return nil
}

// Stop waits for the scan loops, the archive jobs and the checksum workers
func (d *Daemon) Stop(ctx context.Context) error {
	d.scheduler.Wait()
	if d.activity != nil {
		d.activity.Stop()
	}
	if err := d.engine.Close(ctx); err != nil {
		return fmt.Errorf("failed to stop archive engine: %w", err)
	}
	d.oracle.Wait()
	return nil
}

// ScanOnce runs a single cycle over every watch folder and waits for the
// archive jobs it submitted
func (d *Daemon) ScanOnce(ctx context.Context) ([]tracker.Result, error) {
	results, err := d.scheduler.RunOnce(ctx)
	d.engine.Wait()
	return results, err
}

// Archive archives path right away, bypassing the stability check, and
// returns the finished job. When ctx ends first the job still runs to
// completion before Archive returns, up to the shutdown timeout.
func (d *Daemon) Archive(ctx context.Context, path string) (archiver.Job, error) {
	source := filepath.Clean(path)
	done := make(chan archiver.Job, 1)

	d.waitersMu.Lock()
	if _, busy := d.waiters[source]; busy {
		d.waitersMu.Unlock()
		return archiver.Job{}, fmt.Errorf("%w: %s is already being archived", ErrNotSubmitted, source)
	}
	d.waiters[source] = done
	d.waitersMu.Unlock()
	defer func() {
		d.waitersMu.Lock()
		delete(d.waiters, source)
		d.waitersMu.Unlock()
	}()

	if !d.engine.Submit(source) {
		return archiver.Job{}, fmt.Errorf("%w: %s is missing, in flight or already archived", ErrNotSubmitted, source)
	}

	select {
	case job := <-done:
		return job, job.Err
	case <-ctx.Done():
		// the job is never interrupted, let it land before the caller closes the catalog
		slog.Warn("archive interrupted, waiting for the running job", "path", source)
		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			slog.Warn("archive job still running", "path", source)
		}
		return archiver.Job{}, ctx.Err()
	}
}

// List returns the tracked entries
func (d *Daemon) List(ctx context.Context, filter catalog.ListFilter) ([]catalog.Entry, error) {
	return d.catalog.List(ctx, filter)
}

func (d *Daemon) onResult(job archiver.Job) {
	d.scheduler.HandleResult(job)

	d.waitersMu.Lock()
	done, ok := d.waiters[job.SourcePath]
	d.waitersMu.Unlock()
	if ok {
		done <- job
	}
}
