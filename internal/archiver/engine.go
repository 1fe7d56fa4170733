package archiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"github.com/gaki-eu/ffp/internal/fswalk"
	"github.com/gaki-eu/ffp/internal/utils"
	"golang.org/x/sync/semaphore"
)

const DefaultWorkers = 2

var ErrInsufficientSpace = errors.New("insufficient free space")

type JobState int

const (
	JobQueued JobState = iota
	JobRunning
	JobDone
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobQueued:
		return "QUEUED"
	case JobRunning:
		return "RUNNING"
	case JobDone:
		return "DONE"
	case JobFailed:
		return "FAILED"
	}
	return fmt.Sprintf("JobState(%d)", int(s))
}

// Job is one archival of a source path. Copies are handed to OnResult once
// the job has finished.
type Job struct {
	SourcePath string
	TargetPath string
	State      JobState
	Err        error
	Entries    int
	Bytes      int64
	Started    time.Time
	Finished   time.Time
}

type Options struct {
	// Workers bounds the number of jobs running at once
	Workers int
	// Compress wraps the tar stream in bzip2
	Compress bool
	// Filter selects what goes into a directory archive, nil keeps everything
	Filter *Filter
	// CheckFreeSpace fails a job up front when the target volume cannot hold
	// the uncompressed source
	CheckFreeSpace bool
	// OnResult is called from the job goroutine after the job finished and
	// its path left the in-flight set
	OnResult func(Job)
}

// Engine runs archive jobs. The in-flight set is the only state shared
// between Submit and the workers, the archiving itself never holds a lock.
type Engine struct {
	opts     Options
	inFlight mapset.Set[string]
	sem      *semaphore.Weighted
	wg       sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool

	openTarget func(path string) (io.WriteCloser, error)
	freeSpace  func(dir string) (uint64, error)
}

func NewEngine(opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Filter == nil {
		opts.Filter = NewFilter(nil, nil)
	}
	return &Engine{
		opts:       opts,
		inFlight:   mapset.NewSet[string](),
		sem:        semaphore.NewWeighted(int64(opts.Workers)),
		openTarget: createFile,
		freeSpace:  freeSpace,
	}
}

// TargetPath returns where the archive of source is written
func (e *Engine) TargetPath(source string) string {
	return TargetPath(source, e.opts.Compress)
}

// Submit schedules the archival of path and returns at once. It is a no-op
// returning false when path does not exist, its archive already exists or
// a job for it is in flight.
func (e *Engine) Submit(path string) bool {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		slog.Warn("archive submit after close", "path", path)
		return false
	}

	source := filepath.Clean(path)
	if !utils.PathExists(source) {
		slog.Debug("archive skip", "path", source, "reason", "source missing")
		return false
	}

	// add first: once we own the marker no other job for source can be
	// writing, so the target check below sees a settled file system
	if !e.inFlight.Add(source) {
		slog.Debug("archive skip", "path", source, "reason", "in flight")
		return false
	}

	target := e.TargetPath(source)
	if utils.PathExists(target) {
		e.inFlight.Remove(source)
		slog.Debug("archive skip", "path", source, "reason", "archive exists", "target", target)
		return false
	}

	job := Job{SourcePath: source, TargetPath: target, State: JobQueued}
	slog.Debug("archive queued", "path", source)

	e.wg.Add(1)
	go e.run(job)
	return true
}

// InFlight reports whether a job for path is queued or running
func (e *Engine) InFlight(path string) bool {
	return e.inFlight.Contains(filepath.Clean(path))
}

// Wait blocks until every submitted job has finished
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close rejects further submissions and waits for running jobs until ctx is done.
// Jobs are never interrupted.
func (e *Engine) Close(ctx context.Context) error {
	e.closeMu.Lock()
	e.closed = true
	e.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		slog.Warn("archive engine close timeout", "in_flight", e.inFlight.Cardinality())
		return ctx.Err()
	}
}

func (e *Engine) run(job Job) {
	defer e.wg.Done()

	// cannot fail with a background context
	_ = e.sem.Acquire(context.Background(), 1)

	job.State = JobRunning
	job.Started = time.Now()
	slog.Info("archive start", "path", job.SourcePath, "target", job.TargetPath)

	stats, err := e.archive(job.SourcePath, job.TargetPath)
	e.sem.Release(1)

	job.Finished = time.Now()
	job.Entries = stats.Entries
	job.Bytes = stats.Bytes
	took := job.Finished.Sub(job.Started).Round(time.Millisecond)
	if err != nil {
		job.State = JobFailed
		job.Err = err
		slog.Error("archive failed", "path", job.SourcePath, "took", took, "error", err)
	} else {
		job.State = JobDone
		slog.Info("archive done", "path", job.SourcePath, "target", job.TargetPath,
			"entries", stats.Entries, "size", humanize.Bytes(uint64(stats.Bytes)), "took", took)
	}

	e.inFlight.Remove(job.SourcePath)
	if e.opts.OnResult != nil {
		e.opts.OnResult(job)
	}
}

// archive writes source into a .part file, renames it into place and
// removes source. The .part file is left behind on failure and truncated
// by the next attempt.
func (e *Engine) archive(source, target string) (writeStats, error) {
	items, err := sourceItems(source, e.opts.Filter)
	if err != nil {
		return writeStats{}, err
	}

	if e.opts.CheckFreeSpace {
		if err := e.checkSpace(items, filepath.Dir(target)); err != nil {
			return writeStats{}, err
		}
	}

	part := partPath(target)
	out, err := e.openTarget(part)
	if err != nil {
		return writeStats{}, fmt.Errorf("create archive: %w", err)
	}

	aw, err := newArchiveWriter(out, e.opts.Compress)
	if err != nil {
		out.Close()
		return writeStats{}, err
	}

	stats, werr := aw.WriteAll(items)
	cerr := aw.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return stats, err
	}

	if err := os.Rename(part, target); err != nil {
		return stats, fmt.Errorf("finalize archive: %w", err)
	}

	if err := os.RemoveAll(source); err != nil {
		return stats, fmt.Errorf("remove source: %w", err)
	}
	return stats, nil
}

func (e *Engine) checkSpace(items iter.Seq2[fswalk.Item, error], dir string) error {
	need, err := treeSize(items)
	if err != nil {
		return err
	}
	free, err := e.freeSpace(dir)
	if err != nil {
		slog.Warn("archive free space unknown", "dir", dir, "error", err)
		return nil
	}
	if free < uint64(need) {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientSpace, humanize.Bytes(uint64(need)), humanize.Bytes(free))
	}
	return nil
}

func createFile(path string) (io.WriteCloser, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}
