package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gaki-eu/ffp/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListFilter(t *testing.T) {
	filter, err := listFilter("", []string{"ready_to_send", " SENT "})
	require.NoError(t, err)
	assert.Empty(t, filter.Root)
	assert.Equal(t, []catalog.Status{catalog.StatusReadyToSend, catalog.StatusSent}, filter.Statuses)

	root := t.TempDir()
	filter, err = listFilter(root, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(root), filter.Root)

	_, err = listFilter("", []string{"DONE"})
	assert.Error(t, err)
}

func TestRenderEntries(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	stable := now.Add(-90 * time.Second)
	root := t.TempDir()

	watching := catalog.NewEntry(root, filepath.Join(root, "show"), now.Add(-time.Hour))
	watching.FileCount = 3
	watching.TotalSize = 1500
	watching.StableSince = &stable

	pending := catalog.NewEntry(root, filepath.Join(root, "movie.mkv"), now.Add(-time.Minute))
	pending.ChecksumPending = true

	out := renderEntries([]catalog.Entry{watching, pending}, now)
	assert.Contains(t, out, filepath.Join(root, "show"))
	assert.Contains(t, out, filepath.Join(root, "movie.mkv"))
	assert.Contains(t, out, "WATCHING")
	assert.Contains(t, out, "1.5 kB")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "?")
	assert.Contains(t, out, "1 hour ago")
}
