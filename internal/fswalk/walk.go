// Package fswalk walks a file tree following symbolic links.
package fswalk

import (
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
)

// Item is a single walked path. Info always describes the link target.
type Item struct {
	Path string
	// Rel is the slash separated path relative to the walk root, "." for the root itself
	Rel  string
	Info fs.FileInfo
}

func (i Item) IsRoot() bool {
	return i.Rel == "."
}

func (i Item) IsDir() bool {
	return i.Info != nil && i.Info.IsDir()
}

// Walk returns a lazy pre-order sequence of every path under root, root
// included. Directories are read in lexical order and symlinks are
// resolved. A directory that links back to one of its ancestors is
// skipped. Each range over the sequence walks the tree again.
//
// Errors are yielded alongside the failing path, the walk continues with
// the next sibling if the consumer keeps ranging.
func Walk(root string) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		info, err := os.Stat(root)
		if err != nil {
			yield(Item{Path: root, Rel: "."}, fmt.Errorf("stat %s: %w", root, err))
			return
		}
		walk(root, ".", info, nil, yield)
	}
}

// walk returns false when the consumer stopped
func walk(path, rel string, info fs.FileInfo, ancestors []fs.FileInfo, yield func(Item, error) bool) bool {
	if !yield(Item{Path: path, Rel: rel, Info: info}, nil) {
		return false
	}
	if !info.IsDir() {
		return true
	}

	for _, a := range ancestors {
		if os.SameFile(a, info) {
			slog.Warn("fswalk skip symlink loop", "path", path)
			return true
		}
	}

	children, err := os.ReadDir(path)
	if err != nil {
		return yield(Item{Path: path, Rel: rel, Info: info}, fmt.Errorf("read dir %s: %w", path, err))
	}

	ancestors = append(ancestors, info)
	for _, child := range children {
		childPath := filepath.Join(path, child.Name())
		childRel := child.Name()
		if rel != "." {
			childRel = rel + "/" + child.Name()
		}

		childInfo, err := os.Stat(childPath)
		if err != nil {
			if !yield(Item{Path: childPath, Rel: childRel}, fmt.Errorf("stat %s: %w", childPath, err)) {
				return false
			}
			continue
		}

		if !walk(childPath, childRel, childInfo, ancestors, yield) {
			return false
		}
	}
	return true
}
