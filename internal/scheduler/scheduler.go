package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gaki-eu/ffp/internal/archiver"
	"github.com/gaki-eu/ffp/internal/catalog"
	"github.com/gaki-eu/ffp/internal/tracker"
)

const DefaultInterval = 30 * time.Second

var ErrScanAlreadyRunning = errors.New("scan already running")

type Scanner interface {
	Scan(ctx context.Context, root string) (tracker.Result, error)
}

type Submitter interface {
	Submit(path string) bool
}

type Catalog interface {
	FindBySourceURI(ctx context.Context, uri string) ([]catalog.Entry, error)
	Save(ctx context.Context, entries []catalog.Entry) error
}

// Scheduler runs one scan loop per watched root and hands ready entries
// to the archive engine
type Scheduler struct {
	scanner   Scanner
	submitter Submitter
	catalog   Catalog
	roots     []string
	interval  time.Duration

	scanMu map[string]*sync.Mutex
	wg     sync.WaitGroup
	now    func() time.Time
}

func New(scanner Scanner, submitter Submitter, cat Catalog, roots []string, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	scanMu := make(map[string]*sync.Mutex, len(roots))
	for _, root := range roots {
		scanMu[root] = &sync.Mutex{}
	}
	return &Scheduler{
		scanner:   scanner,
		submitter: submitter,
		catalog:   cat,
		roots:     roots,
		interval:  interval,
		scanMu:    scanMu,
		now:       time.Now,
	}
}

// Start scans every root once and then again interval after each scan
// finished. It returns immediately, use Wait after cancelling ctx.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("scheduler start", "roots", len(s.roots), "interval", s.interval)

	for _, root := range s.roots {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(ctx, root)
		}()
	}
}

func (s *Scheduler) Wait() {
	s.wg.Wait()
	slog.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, root string) {
	s.runScan(ctx, root)

	// a timer and not a ticker so a slow scan does not queue ticks
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.runScan(ctx, root)
			timer.Reset(s.interval)
		}
	}
}

func (s *Scheduler) runScan(ctx context.Context, root string) {
	if _, err := s.ScanRoot(ctx, root); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("scan failed", "root", root, "error", err)
	}
}

// RunOnce scans every root in turn
func (s *Scheduler) RunOnce(ctx context.Context) ([]tracker.Result, error) {
	results := make([]tracker.Result, 0, len(s.roots))
	var errs []error
	for _, root := range s.roots {
		res, err := s.ScanRoot(ctx, root)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return results, err
			}
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// ScanRoot runs one tracker cycle over root and submits every ready
// entry. A missing root is logged and skipped.
func (s *Scheduler) ScanRoot(ctx context.Context, root string) (tracker.Result, error) {
	mu, ok := s.scanMu[root]
	if !ok {
		return tracker.Result{}, fmt.Errorf("unknown root %s", root)
	}
	if !mu.TryLock() {
		return tracker.Result{}, ErrScanAlreadyRunning
	}
	defer mu.Unlock()

	start := s.now()
	res, err := s.scanner.Scan(ctx, root)
	if errors.Is(err, tracker.ErrRootMissing) {
		slog.Warn("watch folder missing, skipping", "root", root)
		return tracker.Result{Root: root}, nil
	}
	if err != nil {
		return res, err
	}

	submitted := 0
	for _, path := range res.Ready {
		if s.submitter.Submit(path) {
			submitted++
		}
	}

	slog.Info("scan done", "root", root, "new", len(res.Created), "changed", len(res.Changed),
		"ready", len(res.Ready), "submitted", submitted, "took", s.now().Sub(start).Round(time.Millisecond))
	return res, nil
}

// HandleResult records a finished archive job. Archived entries become
// SENT, failed ones stay READY_TO_SEND and are resubmitted next cycle.
func (s *Scheduler) HandleResult(job archiver.Job) {
	if job.State != archiver.JobDone {
		return
	}

	ctx := context.Background()
	uri := catalog.URIFromPath(job.SourcePath)
	found, err := s.catalog.FindBySourceURI(ctx, uri)
	if err != nil {
		slog.Error("mark sent", "path", job.SourcePath, "error", err)
		return
	}

	now := s.now()
	var sent []catalog.Entry
	for _, e := range found {
		if e.Status != catalog.StatusReadyToSend {
			continue
		}
		e.Status = catalog.StatusSent
		e.UpdatedAt = now
		sent = append(sent, e)
	}

	if err := s.catalog.Save(ctx, sent); err != nil {
		slog.Error("mark sent", "path", job.SourcePath, "error", err)
		return
	}
	if len(sent) > 0 {
		slog.Debug("entry sent", "path", job.SourcePath, "archive", job.TargetPath)
	}
}
