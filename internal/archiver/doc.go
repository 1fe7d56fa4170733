// Package archiver packs stabilized entries into tarballs.
//
// An Engine accepts source paths through Submit, runs at most one job per
// source and a bounded number of jobs overall. A job walks the source
// following symlinks, drops excluded files, streams the rest into a PAX
// tar (optionally bzip2 compressed) next to the source and removes the
// source once the archive is complete.
package archiver
