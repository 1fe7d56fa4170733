// Package checksum fingerprints tracked entries.
//
// A fingerprint covers the relative layout of the tree and the content of
// every file in it. Computations can run synchronously from a scan cycle or
// be requested in the background and collected on a later cycle.
package checksum
