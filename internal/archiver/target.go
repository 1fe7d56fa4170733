package archiver

import (
	"path/filepath"
	"strings"
)

const (
	SuffixCompressed = ".tbz2"
	SuffixRaw        = ".tar"

	// partSuffix marks an archive that is still being written or whose job failed
	partSuffix = ".part"
)

// Suffix returns the archive suffix for the compression mode
func Suffix(compress bool) string {
	if compress {
		return SuffixCompressed
	}
	return SuffixRaw
}

// TargetPath returns the sibling archive path of source
func TargetPath(source string, compress bool) string {
	source = filepath.Clean(source)
	return filepath.Join(filepath.Dir(source), filepath.Base(source)+Suffix(compress))
}

func partPath(target string) string {
	return target + partSuffix
}

// IsArchiveName reports whether name is an archive or an in-progress archive
// produced by this package.
func IsArchiveName(name string) bool {
	name = strings.TrimSuffix(strings.ToLower(name), partSuffix)
	return strings.HasSuffix(name, SuffixCompressed) || strings.HasSuffix(name, SuffixRaw)
}

// IgnorePatterns are gitignore style patterns matching IsArchiveName
func IgnorePatterns() []string {
	return []string{
		"*" + SuffixCompressed,
		"*" + SuffixRaw,
		"*" + SuffixCompressed + partSuffix,
		"*" + SuffixRaw + partSuffix,
	}
}
