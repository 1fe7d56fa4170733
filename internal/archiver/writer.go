package archiver

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dsnet/compress/bzip2"
	"github.com/gaki-eu/ffp/internal/fswalk"
)

const (
	// compressionLevel trades ratio for speed, media files barely compress anyway
	compressionLevel = 3
	writeBufferSize  = 1 << 20
)

type writeStats struct {
	Entries int
	Bytes   int64
}

// archiveWriter stacks tar on an optional bzip2 stream on a buffered file
type archiveWriter struct {
	tw   *tar.Writer
	comp io.WriteCloser
	buf  *bufio.Writer
	out  io.WriteCloser
}

func newArchiveWriter(out io.WriteCloser, compress bool) (*archiveWriter, error) {
	aw := &archiveWriter{
		out: out,
		buf: bufio.NewWriterSize(out, writeBufferSize),
	}

	var w io.Writer = aw.buf
	if compress {
		bz, err := bzip2.NewWriter(aw.buf, &bzip2.WriterConfig{Level: compressionLevel})
		if err != nil {
			return nil, fmt.Errorf("bzip2 writer: %w", err)
		}
		aw.comp = bz
		w = bz
	}
	aw.tw = tar.NewWriter(w)
	return aw, nil
}

// Close closes the tar stream, the compressor and the file in that order.
// Every layer is closed even if a previous one failed.
func (aw *archiveWriter) Close() error {
	var errs []error
	if err := aw.tw.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close tar: %w", err))
	}
	if aw.comp != nil {
		if err := aw.comp.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bzip2: %w", err))
		}
	}
	if err := aw.buf.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	}
	if err := aw.out.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close file: %w", err))
	}
	return errors.Join(errs...)
}

// WriteAll folds items into the tar stream in order
func (aw *archiveWriter) WriteAll(items iter.Seq2[fswalk.Item, error]) (writeStats, error) {
	var stats writeStats
	for item, err := range items {
		if err != nil {
			return stats, err
		}
		n, err := aw.writeItem(item.Rel, item)
		if err != nil {
			return stats, err
		}
		stats.Entries++
		stats.Bytes += n
	}
	return stats, nil
}

func (aw *archiveWriter) writeItem(name string, item fswalk.Item) (int64, error) {
	hdr, err := tar.FileInfoHeader(item.Info, "")
	if err != nil {
		return 0, fmt.Errorf("tar header %s: %w", item.Path, err)
	}
	// PAX lifts the 100 byte name and 8GiB size limits of ustar
	hdr.Format = tar.FormatPAX
	hdr.Name = filepath.ToSlash(name)
	if item.Info.IsDir() {
		hdr.Name += "/"
	}

	if err := aw.tw.WriteHeader(hdr); err != nil {
		return 0, fmt.Errorf("write header %s: %w", hdr.Name, err)
	}
	if !item.Info.Mode().IsRegular() {
		return 0, nil
	}

	f, err := os.Open(item.Path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", item.Path, err)
	}
	defer f.Close()

	n, err := io.CopyN(aw.tw, f, hdr.Size)
	if err != nil {
		return n, fmt.Errorf("copy %s: %w", item.Path, err)
	}
	return n, nil
}

// singleFile yields a regular file source as one item named by its base name
func singleFile(path string, info os.FileInfo) iter.Seq2[fswalk.Item, error] {
	return func(yield func(fswalk.Item, error) bool) {
		yield(fswalk.Item{Path: path, Rel: filepath.Base(path), Info: info}, nil)
	}
}

func sourceItems(source string, filter *Filter) (iter.Seq2[fswalk.Item, error], error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return Filtered(source, filter), nil
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("unsupported source type %s", info.Mode().Type())
	}
	slog.Debug("archive single file", "path", source)
	return singleFile(source, info), nil
}

// treeSize sums the sizes of the items that would be archived
func treeSize(items iter.Seq2[fswalk.Item, error]) (int64, error) {
	var total int64
	for item, err := range items {
		if err != nil {
			return 0, err
		}
		if item.Info.Mode().IsRegular() {
			total += item.Info.Size()
		}
	}
	return total, nil
}
