package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gaki-eu/ffp/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := New(db.MemoryPath)
	require.NoError(t, c.Open())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCatalog_AddAndFind(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	root := filepath.Join(t.TempDir(), "watch")
	e := NewEntry(root, filepath.Join(root, "movie"), now)
	e.ChecksumPending = true
	require.NoError(t, c.Add(ctx, e))

	found, err := c.FindBySourceURI(ctx, e.SourceURI)
	require.NoError(t, err)
	require.Len(t, found, 1)

	got := found[0]
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, StatusWatching, got.Status)
	assert.True(t, got.ChecksumPending)
	assert.Nil(t, got.StableSince)
	assert.True(t, now.Equal(got.CreatedAt))
	assert.Equal(t, filepath.Join(root, "movie"), got.Path())

	none, err := c.FindBySourceURI(ctx, URIFromPath(filepath.Join(root, "other")))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCatalog_AddDuplicate(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	root := t.TempDir()
	e := NewEntry(root, filepath.Join(root, "a"), time.Now())
	require.NoError(t, c.Add(ctx, e))

	dup := NewEntry(root, filepath.Join(root, "a"), time.Now())
	assert.ErrorIs(t, c.Add(ctx, dup), ErrDuplicate)
}

func TestCatalog_SaveBatch(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	root := t.TempDir()

	a := NewEntry(root, filepath.Join(root, "a"), time.Now())
	b := NewEntry(root, filepath.Join(root, "b"), time.Now())
	require.NoError(t, c.Add(ctx, a))
	require.NoError(t, c.Add(ctx, b))

	stable := time.Date(2024, 5, 1, 10, 0, 0, 123, time.UTC)
	a.Checksum = "abc"
	a.StableSince = &stable
	a.FileCount = 3
	a.TotalSize = 1 << 33
	b.Status = StatusReadyToSend
	require.NoError(t, c.Save(ctx, []Entry{a, b}))

	got, err := c.FindBySourceURI(ctx, a.SourceURI)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "abc", got[0].Checksum)
	require.NotNil(t, got[0].StableSince)
	assert.True(t, stable.Equal(*got[0].StableSince))
	assert.Equal(t, int64(3), got[0].FileCount)
	assert.Equal(t, int64(1<<33), got[0].TotalSize)

	ready, err := c.List(ctx, ListFilter{Statuses: []Status{StatusReadyToSend}})
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, b.ID, ready[0].ID)

	count, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCatalog_ListByRoot(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	rootA, rootB := t.TempDir(), t.TempDir()

	require.NoError(t, c.Add(ctx, NewEntry(rootA, filepath.Join(rootA, "x"), time.Now())))
	require.NoError(t, c.Add(ctx, NewEntry(rootB, filepath.Join(rootB, "y"), time.Now())))

	entries, err := c.List(ctx, ListFilter{Root: rootA})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Join(rootA, "x"), entries[0].Path())

	all, err := c.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCatalog_NotOpen(t *testing.T) {
	c := New(db.MemoryPath)
	_, err := c.FindBySourceURI(context.Background(), "file:///x")
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, c.Close(), ErrNotOpen)
}

func TestURIRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "dir with space", "ünï")
	uri := URIFromPath(p)
	assert.Contains(t, uri, "file://")

	back, err := PathFromURI(uri)
	require.NoError(t, err)
	assert.Equal(t, p, back)

	_, err = PathFromURI("http://example.com/x")
	assert.Error(t, err)
}
