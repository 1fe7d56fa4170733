package archiver

import (
	"iter"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gaki-eu/ffp/internal/fswalk"
)

// Filter decides which walked items go into an archive
type Filter struct {
	extensions mapset.Set[string]
	patterns   []string
}

// NewFilter builds a filter excluding files by extension (".txt" or "txt",
// case insensitive) and by doublestar patterns matched against the slash
// separated path relative to the archive root.
func NewFilter(extensions []string, patterns []string) *Filter {
	exts := mapset.NewThreadUnsafeSet[string]()
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts.Add(ext)
	}
	return &Filter{
		extensions: exts,
		patterns:   append([]string(nil), patterns...),
	}
}

// Include reports whether item belongs in the archive. The walk root never
// does: entries are stored relative to it. Directories are always kept,
// files are dropped on an excluded extension or pattern, anything that is
// neither a directory nor a regular file is dropped.
func (f *Filter) Include(item fswalk.Item) bool {
	if item.IsRoot() || item.Info == nil {
		return false
	}
	if item.Info.IsDir() {
		return true
	}
	if !item.Info.Mode().IsRegular() {
		return false
	}

	ext := strings.ToLower(filepath.Ext(item.Info.Name()))
	if ext != "" && f.extensions.Contains(ext) {
		return false
	}

	for _, p := range f.patterns {
		if ok, _ := doublestar.Match(p, item.Rel); ok {
			return false
		}
	}
	return true
}

// Filtered yields the items of the tree at root that f includes, in walk
// order. Walk errors are passed through untouched.
func Filtered(root string, f *Filter) iter.Seq2[fswalk.Item, error] {
	return func(yield func(fswalk.Item, error) bool) {
		for item, err := range fswalk.Walk(root) {
			if err != nil {
				if !yield(item, err) {
					return
				}
				continue
			}
			if !f.Include(item) {
				continue
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}
