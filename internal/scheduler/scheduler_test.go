package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gaki-eu/ffp/internal/archiver"
	"github.com/gaki-eu/ffp/internal/catalog"
	"github.com/gaki-eu/ffp/internal/db"
	"github.com/gaki-eu/ffp/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScanner struct {
	mu    sync.Mutex
	calls map[string]int
	ready map[string][]string
	err   map[string]error

	entered chan struct{}
	block   chan struct{}
}

func newFakeScanner() *fakeScanner {
	return &fakeScanner{
		calls: make(map[string]int),
		ready: make(map[string][]string),
		err:   make(map[string]error),
	}
}

func (f *fakeScanner) Scan(ctx context.Context, root string) (tracker.Result, error) {
	if f.block != nil {
		f.entered <- struct{}{}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[root]++
	if err := f.err[root]; err != nil {
		return tracker.Result{Root: root}, err
	}
	return tracker.Result{Root: root, Ready: f.ready[root]}, nil
}

func (f *fakeScanner) Calls(root string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[root]
}

type fakeSubmitter struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeSubmitter) Submit(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return true
}

func (f *fakeSubmitter) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func openTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c := catalog.New(db.MemoryPath)
	require.NoError(t, c.Open())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRunOnce_SubmitsReadyEntries(t *testing.T) {
	scanner := newFakeScanner()
	scanner.ready["/a"] = []string{"/a/show", "/a/movie.mkv"}
	scanner.ready["/b"] = []string{"/b/album"}
	submitter := &fakeSubmitter{}

	s := New(scanner, submitter, openTestCatalog(t), []string{"/a", "/b"}, time.Minute)
	results, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, []string{"/a/show", "/a/movie.mkv", "/b/album"}, submitter.Paths())
}

func TestRunOnce_MissingRootIsSkipped(t *testing.T) {
	scanner := newFakeScanner()
	scanner.err["/gone"] = tracker.ErrRootMissing
	scanner.ready["/a"] = []string{"/a/show"}
	submitter := &fakeSubmitter{}

	s := New(scanner, submitter, openTestCatalog(t), []string{"/gone", "/a"}, time.Minute)
	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/a/show"}, submitter.Paths())
}

func TestRunOnce_ErrorsAreIsolated(t *testing.T) {
	boom := errors.New("boom")
	scanner := newFakeScanner()
	scanner.err["/a"] = boom
	scanner.ready["/b"] = []string{"/b/album"}
	submitter := &fakeSubmitter{}

	s := New(scanner, submitter, openTestCatalog(t), []string{"/a", "/b"}, time.Minute)
	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"/b/album"}, submitter.Paths(), "other roots still run")
}

func TestScanRoot_NoOverlap(t *testing.T) {
	scanner := newFakeScanner()
	scanner.entered = make(chan struct{})
	scanner.block = make(chan struct{})
	s := New(scanner, &fakeSubmitter{}, openTestCatalog(t), []string{"/a"}, time.Minute)

	done := make(chan error)
	go func() {
		_, err := s.ScanRoot(context.Background(), "/a")
		done <- err
	}()

	<-scanner.entered
	_, err := s.ScanRoot(context.Background(), "/a")
	assert.ErrorIs(t, err, ErrScanAlreadyRunning)

	close(scanner.block)
	assert.NoError(t, <-done)
}

func TestScanRoot_UnknownRoot(t *testing.T) {
	s := New(newFakeScanner(), &fakeSubmitter{}, openTestCatalog(t), []string{"/a"}, time.Minute)
	_, err := s.ScanRoot(context.Background(), "/b")
	assert.Error(t, err)
}

func TestStart_LoopsUntilCanceled(t *testing.T) {
	scanner := newFakeScanner()
	scanner.ready["/a"] = []string{"/a/show"}
	submitter := &fakeSubmitter{}
	s := New(scanner, submitter, openTestCatalog(t), []string{"/a"}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	require.Eventually(t, func() bool { return scanner.Calls("/a") >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	s.Wait()

	calls := scanner.Calls("/a")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, scanner.Calls("/a"), "no scans after stop")
	assert.NotEmpty(t, submitter.Paths())
}

func TestHandleResult_MarksSent(t *testing.T) {
	cat := openTestCatalog(t)
	ctx := context.Background()
	root := t.TempDir()
	path := filepath.Join(root, "show")
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	e := catalog.NewEntry(root, path, now)
	e.Status = catalog.StatusReadyToSend
	require.NoError(t, cat.Add(ctx, e))

	s := New(newFakeScanner(), &fakeSubmitter{}, cat, []string{root}, time.Minute)

	s.HandleResult(archiver.Job{SourcePath: path, State: archiver.JobFailed, Err: errors.New("disk full")})
	found, err := cat.FindBySourceURI(ctx, e.SourceURI)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusReadyToSend, found[0].Status, "failed jobs are retried")

	s.HandleResult(archiver.Job{SourcePath: path, TargetPath: path + ".tbz2", State: archiver.JobDone})
	found, err = cat.FindBySourceURI(ctx, e.SourceURI)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusSent, found[0].Status)
}
