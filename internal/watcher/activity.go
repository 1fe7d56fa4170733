package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rjeczalik/notify"
)

const eventBufferSize = 256

// FilterCallback returns true if the event for path should be dropped
type FilterCallback func(path string) bool

// ActivityMonitor records write activity under watched roots, keyed by the
// root child the event happened in. It only hints the tracker, the
// fingerprint stays the source of truth.
type ActivityMonitor struct {
	roots     []string
	rawEvents chan notify.EventInfo
	active    mapset.Set[string]
	filter    FilterCallback
	done      chan struct{}
	wg        sync.WaitGroup
}

func NewActivityMonitor(roots ...string) *ActivityMonitor {
	clean := make([]string, 0, len(roots))
	for _, r := range roots {
		clean = append(clean, filepath.Clean(r))
	}
	return &ActivityMonitor{
		roots:  clean,
		active: mapset.NewSet[string](),
		done:   make(chan struct{}),
	}
}

// FilterPaths drops events before they are recorded. Must be set before Start.
func (m *ActivityMonitor) FilterPaths(callback FilterCallback) {
	m.filter = callback
}

func (m *ActivityMonitor) Start(ctx context.Context) error {
	m.rawEvents = make(chan notify.EventInfo, eventBufferSize)

	for _, root := range m.roots {
		recursivePath := root + "/..."
		if err := notify.Watch(recursivePath, m.rawEvents, notify.Write, notify.Create, notify.Remove, notify.Rename); err != nil {
			notify.Stop(m.rawEvents)
			return fmt.Errorf("watch %s: %w", root, err)
		}
		slog.Info("activity monitor start", "dir", root)
	}

	m.wg.Add(1)
	go m.recordEvents(ctx)
	return nil
}

func (m *ActivityMonitor) Stop() {
	close(m.done)
	if m.rawEvents != nil {
		notify.Stop(m.rawEvents)
	}
	m.wg.Wait()
	slog.Info("activity monitor stopped")
}

// Drain reports whether anything under path was written since the last
// call for path and resets it
func (m *ActivityMonitor) Drain(path string) bool {
	key := filepath.Clean(path)
	if !m.active.Contains(key) {
		return false
	}
	m.active.Remove(key)
	return true
}

func (m *ActivityMonitor) recordEvents(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case event, ok := <-m.rawEvents:
			if !ok {
				return
			}
			m.record(event.Path())
		}
	}
}

func (m *ActivityMonitor) record(path string) {
	if m.filter != nil && m.filter(path) {
		return
	}
	child, ok := m.childOf(path)
	if !ok {
		return
	}
	if m.active.Add(child) {
		slog.Debug("activity", "child", child, "path", path)
	}
}

// childOf maps path to the immediate child of the root containing it
func (m *ActivityMonitor) childOf(path string) (string, bool) {
	for _, root := range m.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
		return filepath.Join(root, first), true
	}
	return "", false
}
