package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gaki-eu/ffp/internal/catalog"
	"github.com/gaki-eu/ffp/internal/checksum"
	gitignore "github.com/sabhiram/go-gitignore"
)

var defaultIgnoreLines = []string{
	// OS droppings
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	// downloads still being written by other tools
	"*.tmp",
	"*.part",
	"*.crdownload",
}

var ErrRootMissing = errors.New("watch folder missing")

// Catalog is the part of the item catalog the tracker needs
type Catalog interface {
	FindBySourceURI(ctx context.Context, uri string) ([]catalog.Entry, error)
	Add(ctx context.Context, e catalog.Entry) error
	Save(ctx context.Context, entries []catalog.Entry) error
}

// Oracle computes fingerprints, see checksum.Oracle
type Oracle interface {
	Compute(ctx context.Context, e *catalog.Entry) (checksum.Change, error)
	Request(e catalog.Entry)
	Collect(uri string) (checksum.Outcome, bool)
	Pending(uri string) bool
}

// Activity reports file system writes seen under a path since the last call
type Activity interface {
	Drain(path string) bool
}

type Options struct {
	// Cooldown is how long a fingerprint must stay unchanged
	Cooldown time.Duration
	// Ignore holds extra gitignore style patterns matched against child names
	Ignore []string
	// Activity is optional
	Activity Activity
	Now      func() time.Time
}

// Result of one scan cycle
type Result struct {
	Root    string
	Created []catalog.Entry
	Changed []catalog.Entry
	// Ready lists the paths of every READY_TO_SEND entry seen this cycle
	Ready  []string
	Errors int
}

// Tracker decides when entries under a watched root stop changing.
// Scans of one root must not overlap.
type Tracker struct {
	catalog  Catalog
	oracle   Oracle
	cooldown time.Duration
	ignore   *gitignore.GitIgnore
	activity Activity
	now      func() time.Time
}

func New(cat Catalog, oracle Oracle, opts Options) *Tracker {
	lines := append(append([]string(nil), defaultIgnoreLines...), opts.Ignore...)
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		catalog:  cat,
		oracle:   oracle,
		cooldown: opts.Cooldown,
		ignore:   gitignore.CompileIgnoreLines(lines...),
		activity: opts.Activity,
		now:      now,
	}
}

// Scan runs one cycle over the immediate children of root. Failures on a
// single child are logged and counted, the other children are still
// processed. Changed entries are saved in one batch at the end.
func (t *Tracker) Scan(ctx context.Context, root string) (Result, error) {
	res := Result{Root: root}

	children, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return res, fmt.Errorf("%w: %s", ErrRootMissing, root)
		}
		return res, fmt.Errorf("list %s: %w", root, err)
	}

	now := t.now()
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if t.ignore.MatchesPath(child.Name()) {
			continue
		}

		path := filepath.Join(root, child.Name())
		if err := t.visit(ctx, &res, path, now); err != nil {
			res.Errors++
			slog.Error("tracker entry", "path", path, "error", err)
		}
	}

	if len(res.Changed) > 0 {
		if err := t.catalog.Save(ctx, res.Changed); err != nil {
			return res, fmt.Errorf("save cycle: %w", err)
		}
	}

	slog.Debug("tracker scan", "root", root, "children", len(children), "created", len(res.Created),
		"changed", len(res.Changed), "ready", len(res.Ready), "errors", res.Errors)
	return res, nil
}

func (t *Tracker) visit(ctx context.Context, res *Result, path string, now time.Time) error {
	uri := catalog.URIFromPath(path)
	found, err := t.catalog.FindBySourceURI(ctx, uri)
	if err != nil {
		return err
	}

	var entry *catalog.Entry
	for i := range found {
		if found[i].Root == res.Root {
			entry = &found[i]
			break
		}
	}

	if entry == nil {
		e := catalog.NewEntry(res.Root, path, now)
		e.ChecksumPending = true
		if err := t.catalog.Add(ctx, e); err != nil {
			return err
		}
		t.oracle.Request(e)
		res.Created = append(res.Created, e)
		slog.Info("tracker new entry", "path", path)
		return nil
	}

	switch entry.Status {
	case catalog.StatusWatching:
		updated, changed, err := t.observe(ctx, *entry, now)
		if err != nil {
			return err
		}
		if changed {
			res.Changed = append(res.Changed, updated)
		}
		if updated.Status == catalog.StatusReadyToSend {
			res.Ready = append(res.Ready, path)
		}
	case catalog.StatusReadyToSend:
		res.Ready = append(res.Ready, path)
	}
	return nil
}

// observe applies one cycle to a WATCHING entry. It works on a copy and
// reports whether the copy must be saved. On error the entry is unchanged.
func (t *Tracker) observe(ctx context.Context, e catalog.Entry, now time.Time) (catalog.Entry, bool, error) {
	path := e.Path()

	var change checksum.Change
	if e.ChecksumPending {
		out, landed := t.collect(e)
		if !landed {
			slog.Debug("tracker checksum pending", "path", path)
			return e, false, nil
		}
		if out.Err != nil {
			t.oracle.Request(e)
			return e, false, fmt.Errorf("initial checksum: %w", out.Err)
		}
		e.ChecksumPending = false
		change = out.Snapshot.Apply(&e)
	} else {
		var err error
		if change, err = t.oracle.Compute(ctx, &e); err != nil {
			return e, false, err
		}
	}

	if t.activity != nil && t.activity.Drain(path) {
		change.Structure = true
	}

	if change.Any() {
		if e.StableSince != nil {
			slog.Debug("tracker change resets cooldown", "path", path, "structure", change.Structure, "checksum", change.Checksum)
		}
		e.StableSince = nil
		e.UpdatedAt = now
		return e, true, nil
	}

	if e.StableSince == nil {
		stable := now
		e.StableSince = &stable
		e.UpdatedAt = now
		return e, true, nil
	}

	if stableFor := e.StableFor(now); stableFor >= t.cooldown {
		e.Status = catalog.StatusReadyToSend
		e.UpdatedAt = now
		slog.Info("tracker ready", "path", path, "unchanged_for", stableFor.Round(time.Second))
		return e, true, nil
	}
	return e, false, nil
}

// collect picks up an asynchronous checksum. A request lost across a
// restart is issued again.
func (t *Tracker) collect(e catalog.Entry) (checksum.Outcome, bool) {
	uri := e.SourceURI
	if out, ok := t.oracle.Collect(uri); ok {
		return out, true
	}
	if t.oracle.Pending(uri) {
		return checksum.Outcome{}, false
	}
	// it may have landed between the two calls above
	if out, ok := t.oracle.Collect(uri); ok {
		return out, true
	}
	t.oracle.Request(e)
	return checksum.Outcome{}, false
}
