package checksum

import (
	"context"
	"crypto/md5"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gaki-eu/ffp/internal/catalog"
	"github.com/gaki-eu/ffp/internal/fswalk"
	"github.com/gaki-eu/ffp/internal/utils"
	"golang.org/x/sync/semaphore"
)

const defaultAsyncWorkers = 2

// Snapshot is the structural and content fingerprint of a tree
type Snapshot struct {
	FileCount int64
	TotalSize int64
	Checksum  string
}

// Change reports what differs between an entry and a fresh snapshot
type Change struct {
	Structure bool
	Checksum  bool
}

func (c Change) Any() bool {
	return c.Structure || c.Checksum
}

// Outcome is the result of an asynchronous computation
type Outcome struct {
	Snapshot Snapshot
	Err      error
}

// Apply copies the snapshot onto the entry and reports what changed.
func (s Snapshot) Apply(e *catalog.Entry) Change {
	ch := Change{
		Structure: s.FileCount != e.FileCount || s.TotalSize != e.TotalSize,
		Checksum:  s.Checksum != e.Checksum,
	}
	e.FileCount = s.FileCount
	e.TotalSize = s.TotalSize
	e.Checksum = s.Checksum
	return ch
}

type fileSig struct {
	size    int64
	modTime time.Time
	hash    string
}

// Oracle fingerprints tracked entries. Per file hashes are cached by size
// and modification time so an unchanged tree costs a walk, not a read.
type Oracle struct {
	cacheMu sync.Mutex
	cache   map[string]fileSig

	resultsMu sync.Mutex
	results   map[string]Outcome
	pending   mapset.Set[string]

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func New(asyncWorkers int) *Oracle {
	if asyncWorkers <= 0 {
		asyncWorkers = defaultAsyncWorkers
	}
	return &Oracle{
		cache:   make(map[string]fileSig),
		results: make(map[string]Outcome),
		pending: mapset.NewSet[string](),
		sem:     semaphore.NewWeighted(int64(asyncWorkers)),
	}
}

// Compute takes a snapshot of the entry's tree and applies it to e.
// On error e is left untouched.
func (o *Oracle) Compute(ctx context.Context, e *catalog.Entry) (Change, error) {
	snap, err := o.Snapshot(ctx, e.Path())
	if err != nil {
		return Change{}, err
	}
	return snap.Apply(e), nil
}

// Request schedules an asynchronous snapshot of e. The result is picked up
// with Collect on a later cycle. A request for a uri already in flight is
// dropped.
func (o *Oracle) Request(e catalog.Entry) {
	uri, path := e.SourceURI, e.Path()
	if !o.pending.Add(uri) {
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		ctx := context.Background()
		if err := o.sem.Acquire(ctx, 1); err != nil {
			o.pending.Remove(uri)
			return
		}
		defer o.sem.Release(1)

		snap, err := o.Snapshot(ctx, path)
		if err != nil {
			slog.Warn("checksum async", "path", path, "error", err)
		}

		o.resultsMu.Lock()
		o.results[uri] = Outcome{Snapshot: snap, Err: err}
		o.resultsMu.Unlock()
		o.pending.Remove(uri)
	}()
}

// Collect returns and forgets the landed result for uri
func (o *Oracle) Collect(uri string) (Outcome, bool) {
	o.resultsMu.Lock()
	defer o.resultsMu.Unlock()

	out, ok := o.results[uri]
	if ok {
		delete(o.results, uri)
	}
	return out, ok
}

// Pending reports whether a computation for uri is still running
func (o *Oracle) Pending(uri string) bool {
	return o.pending.Contains(uri)
}

// Wait blocks until every requested computation has landed
func (o *Oracle) Wait() {
	o.wg.Wait()
}

// Snapshot walks path and fingerprints it. Directories contribute their
// relative path, files their relative path, size and content hash.
func (o *Oracle) Snapshot(ctx context.Context, path string) (Snapshot, error) {
	var snap Snapshot
	h := md5.New()
	seen := make(map[string]struct{})

	for item, err := range fswalk.Walk(path) {
		if err != nil {
			return Snapshot{}, fmt.Errorf("checksum walk: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}

		if item.IsDir() {
			fmt.Fprintf(h, "d\x00%s\n", item.Rel)
			continue
		}

		fileHash, err := o.fileHash(item)
		if err != nil {
			return Snapshot{}, err
		}
		seen[item.Path] = struct{}{}

		snap.FileCount++
		snap.TotalSize += item.Info.Size()
		fmt.Fprintf(h, "f\x00%s\x00%d\x00%s\n", item.Rel, item.Info.Size(), fileHash)
	}

	o.prune(path, seen)
	snap.Checksum = fmt.Sprintf("%x", h.Sum(nil))
	return snap, nil
}

func (o *Oracle) fileHash(item fswalk.Item) (string, error) {
	size, modTime := item.Info.Size(), item.Info.ModTime()

	o.cacheMu.Lock()
	sig, ok := o.cache[item.Path]
	o.cacheMu.Unlock()
	if ok && sig.size == size && sig.modTime.Equal(modTime) {
		return sig.hash, nil
	}

	hash, err := utils.FileHash(item.Path)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", item.Path, err)
	}

	o.cacheMu.Lock()
	o.cache[item.Path] = fileSig{size: size, modTime: modTime, hash: hash}
	o.cacheMu.Unlock()
	return hash, nil
}

// prune drops cache entries under root that the last walk did not see
func (o *Oracle) prune(root string, seen map[string]struct{}) {
	o.cacheMu.Lock()
	defer o.cacheMu.Unlock()
	for p := range o.cache {
		if _, ok := seen[p]; ok {
			continue
		}
		if p == root || utils.IsSubPath(root, p) {
			delete(o.cache, p)
		}
	}
}
