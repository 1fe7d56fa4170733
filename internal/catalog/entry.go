package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a tracked entry
type Status string

const (
	StatusWatching    Status = "WATCHING"
	StatusReadyToSend Status = "READY_TO_SEND"
	StatusSent        Status = "SENT"
	StatusError       Status = "ERROR"
)

func (s Status) Valid() bool {
	switch s {
	case StatusWatching, StatusReadyToSend, StatusSent, StatusError:
		return true
	}
	return false
}

// Entry is a file or directory found directly under a watched root.
//
// Entries returned by the catalog are copies: mutating one has no effect
// until it is handed back through Catalog.Save.
type Entry struct {
	ID        string
	Root      string
	SourceURI string
	Status    Status

	// Checksum is the fingerprint of the last computation, empty until the
	// first one lands. ChecksumPending marks an asynchronous computation
	// that was requested but not yet collected.
	Checksum        string
	ChecksumPending bool

	// StableSince is the first cycle of the current run of unchanged
	// observations, nil when the last cycle saw a change.
	StableSince *time.Time

	FileCount int64
	TotalSize int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewEntry creates a WATCHING entry for path under root
func NewEntry(root, path string, now time.Time) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Root:      root,
		SourceURI: URIFromPath(path),
		Status:    StatusWatching,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Path returns the file system path of the entry
func (e *Entry) Path() string {
	p, err := PathFromURI(e.SourceURI)
	if err != nil {
		return e.SourceURI
	}
	return p
}

// StableFor returns how long the checksum has been unchanged as of now
func (e *Entry) StableFor(now time.Time) time.Duration {
	if e.StableSince == nil {
		return 0
	}
	return now.Sub(*e.StableSince)
}
