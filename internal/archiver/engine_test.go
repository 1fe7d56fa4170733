package archiver

import (
	"archive/tar"
	"compress/bzip2"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultExts = []string{".html", ".exe", ".txt", ".readme", ".nfo", ".link"}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// readArchive returns entry names and file contents of a tar or tbz2
func readArchive(t *testing.T, path string, compressed bool) ([]string, map[string]string) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var r io.Reader = f
	if compressed {
		r = bzip2.NewReader(f)
	}
	tr := tar.NewReader(r)

	var names []string
	contents := make(map[string]string)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
		if hdr.Typeflag == tar.TypeReg {
			b, err := io.ReadAll(tr)
			require.NoError(t, err)
			contents[hdr.Name] = string(b)
		}
	}
	return names, contents
}

func newTestEngine(opts Options) *Engine {
	if opts.Filter == nil {
		opts.Filter = NewFilter(defaultExts, nil)
	}
	return NewEngine(opts)
}

func collectResults(opts *Options) func() []Job {
	var mu sync.Mutex
	var jobs []Job
	opts.OnResult = func(j Job) {
		mu.Lock()
		defer mu.Unlock()
		jobs = append(jobs, j)
	}
	return func() []Job {
		mu.Lock()
		defer mu.Unlock()
		return append([]Job(nil), jobs...)
	}
}

func TestEngine_ArchivesFilteredTree(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "release")
	writeFile(t, filepath.Join(src, "a.txt"), "notes")
	writeFile(t, filepath.Join(src, "b.bin"), "payload")
	writeFile(t, filepath.Join(src, "sub", "c.exe"), "exe")

	opts := Options{Compress: true}
	results := collectResults(&opts)
	e := newTestEngine(opts)

	require.True(t, e.Submit(src))
	e.Wait()

	target := filepath.Join(base, "release.tbz2")
	assert.NoDirExists(t, src, "source removed after success")
	assert.FileExists(t, target)
	assert.NoFileExists(t, target+".part")

	names, contents := readArchive(t, target, true)
	assert.Equal(t, []string{"b.bin", "sub/"}, names)
	assert.Equal(t, "payload", contents["b.bin"])
	for _, n := range names {
		assert.NotEqual(t, "./", n)
		assert.NotEqual(t, ".", n)
		assert.False(t, strings.HasPrefix(n, "/"), "entries are relative")
	}

	jobs := results()
	require.Len(t, jobs, 1)
	assert.Equal(t, JobDone, jobs[0].State)
	assert.NoError(t, jobs[0].Err)
	assert.Equal(t, 2, jobs[0].Entries)
	assert.Equal(t, int64(len("payload")), jobs[0].Bytes)
	assert.False(t, e.InFlight(src))
}

func TestEngine_RawTar(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "raw")
	writeFile(t, filepath.Join(src, "x.bin"), "x")

	e := newTestEngine(Options{Compress: false})
	require.True(t, e.Submit(src))
	e.Wait()

	target := filepath.Join(base, "raw.tar")
	require.FileExists(t, target)
	names, _ := readArchive(t, target, false)
	assert.Equal(t, []string{"x.bin"}, names)
}

func TestEngine_LongNames(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "long")
	deep := filepath.Join(src, strings.Repeat("d", 60), strings.Repeat("e", 60), strings.Repeat("f", 60)+".bin")
	writeFile(t, deep, "deep")

	e := newTestEngine(Options{Compress: true})
	require.True(t, e.Submit(src))
	e.Wait()

	_, contents := readArchive(t, filepath.Join(base, "long.tbz2"), true)
	rel := strings.Repeat("d", 60) + "/" + strings.Repeat("e", 60) + "/" + strings.Repeat("f", 60) + ".bin"
	assert.Greater(t, len(rel), 100)
	assert.Equal(t, "deep", contents[rel])
}

func TestEngine_SingleFileSource(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "movie.mkv")
	writeFile(t, src, "frames")

	e := newTestEngine(Options{Compress: true})
	require.True(t, e.Submit(src))
	e.Wait()

	assert.NoFileExists(t, src)
	names, contents := readArchive(t, filepath.Join(base, "movie.mkv.tbz2"), true)
	assert.Equal(t, []string{"movie.mkv"}, names)
	assert.Equal(t, "frames", contents["movie.mkv"])
}

func TestEngine_IdempotentSubmit(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "busy")
	writeFile(t, filepath.Join(src, "f.bin"), "f")

	release := make(chan struct{})
	var opens atomic.Int32

	e := newTestEngine(Options{Compress: true})
	e.openTarget = func(path string) (io.WriteCloser, error) {
		opens.Add(1)
		<-release
		return createFile(path)
	}

	require.True(t, e.Submit(src))
	assert.True(t, e.InFlight(src))
	assert.False(t, e.Submit(src), "second submit while in flight is a no-op")
	assert.False(t, e.Submit(src+string(filepath.Separator)), "same path spelled differently")

	close(release)
	e.Wait()
	assert.Equal(t, int32(1), opens.Load())
	assert.FileExists(t, filepath.Join(base, "busy.tbz2"))
}

func TestEngine_TargetExistsIsNoop(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "done")
	writeFile(t, filepath.Join(src, "f.bin"), "f")
	writeFile(t, filepath.Join(base, "done.tbz2"), "already here")

	e := newTestEngine(Options{Compress: true})
	assert.False(t, e.Submit(src))
	assert.False(t, e.InFlight(src))
	e.Wait()

	assert.DirExists(t, src)
	b, err := os.ReadFile(filepath.Join(base, "done.tbz2"))
	require.NoError(t, err)
	assert.Equal(t, "already here", string(b))
}

func TestEngine_MissingSourceIsNoop(t *testing.T) {
	e := newTestEngine(Options{})
	assert.False(t, e.Submit(filepath.Join(t.TempDir(), "nothing")))
}

type failingWriter struct {
	f *os.File
}

func (w failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }
func (w failingWriter) Close() error              { return w.f.Close() }

func TestEngine_FailureKeepsSourceAndAllowsRetry(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "fragile")
	writeFile(t, filepath.Join(src, "f.bin"), strings.Repeat("x", 4096))

	opts := Options{Compress: true}
	results := collectResults(&opts)
	e := newTestEngine(opts)
	e.openTarget = func(path string) (io.WriteCloser, error) {
		f, err := createFile(path)
		if err != nil {
			return nil, err
		}
		return failingWriter{f: f.(*os.File)}, nil
	}

	require.True(t, e.Submit(src))
	e.Wait()

	assert.DirExists(t, src, "source kept on failure")
	assert.FileExists(t, filepath.Join(src, "f.bin"))
	assert.False(t, e.InFlight(src), "marker cleared on failure")
	assert.NoFileExists(t, filepath.Join(base, "fragile.tbz2"))

	jobs := results()
	require.Len(t, jobs, 1)
	assert.Equal(t, JobFailed, jobs[0].State)
	assert.ErrorContains(t, jobs[0].Err, "disk full")

	// next attempt goes through
	e.openTarget = createFile
	require.True(t, e.Submit(src), "retry accepted after failure")
	e.Wait()
	assert.NoDirExists(t, src)
	assert.FileExists(t, filepath.Join(base, "fragile.tbz2"))
	assert.NoFileExists(t, filepath.Join(base, "fragile.tbz2.part"))
}

func TestEngine_InsufficientSpace(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "huge")
	writeFile(t, filepath.Join(src, "f.bin"), "0123456789")

	opts := Options{Compress: true, CheckFreeSpace: true}
	results := collectResults(&opts)
	e := newTestEngine(opts)
	e.freeSpace = func(string) (uint64, error) { return 5, nil }

	require.True(t, e.Submit(src))
	e.Wait()

	jobs := results()
	require.Len(t, jobs, 1)
	assert.ErrorIs(t, jobs[0].Err, ErrInsufficientSpace)
	assert.DirExists(t, src)
	assert.NoFileExists(t, filepath.Join(base, "huge.tbz2.part"), "nothing written before the check")
}

func TestEngine_BoundedWorkers(t *testing.T) {
	base := t.TempDir()
	var sources []string
	for _, n := range []string{"a", "b", "c", "d"} {
		src := filepath.Join(base, n)
		writeFile(t, filepath.Join(src, "f.bin"), n)
		sources = append(sources, src)
	}

	release := make(chan struct{})
	var running, peak atomic.Int32

	e := newTestEngine(Options{Workers: 2, Compress: false})
	e.openTarget = func(path string) (io.WriteCloser, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return createFile(path)
	}

	for _, src := range sources {
		require.True(t, e.Submit(src))
	}

	require.Eventually(t, func() bool { return running.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), running.Load(), "no more than two jobs run at once")
	for _, src := range sources {
		assert.True(t, e.InFlight(src), "queued jobs count as in flight")
	}

	close(release)
	e.Wait()
	assert.Equal(t, int32(2), peak.Load())
	for _, src := range sources {
		assert.FileExists(t, src+".tar")
	}
}

func TestEngine_CloseRejectsSubmit(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "late")
	writeFile(t, filepath.Join(src, "f.bin"), "f")

	e := newTestEngine(Options{})
	require.NoError(t, e.Close(t.Context()))
	assert.False(t, e.Submit(src))
	assert.DirExists(t, src)
}
