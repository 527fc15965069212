// Package storage implements the Volume/Pool abstraction: drivers,
// revisions, and the four-axis (rw, snap_on_start, save_on_stop,
// ephemeral) semantics that make "boot from a clone, discard on stop,
// keep private" work.
package storage

import (
	"context"
	"io"
)

// Config declares a Volume slot the way it is persisted under a Domain's
// <volumes> element: everything needed by init_volume before any disk
// effect happens.
type Config struct {
	Name  string // root, private, volatile, kernel, ...
	Pool  string
	VID   string
	Size  uint64

	RW            bool
	SnapOnStart   bool
	SaveOnStop    bool
	Ephemeral     bool
	RevisionsToKeep int

	// Source, when non-empty, names another volume (pool:vid) this one
	// snapshots from at start. Required when SnapOnStart is true.
	Source string
}

// Revision identifies one retained, committed state of a Volume.
type Revision struct {
	ID   string
	Size uint64
}

// BlockDevice is the libvirt-facing descriptor of how a Volume attaches
// to a domain's <disk> element.
type BlockDevice struct {
	Path   string
	Format string // raw, qcow2
	Script string
	Domain string
}

// Volume is what a Driver produces for each Config. It covers the full
// lifecycle: create/remove, the start/stop dance, the read/write sides of
// import/export, resize, revert and revision listing.
type Volume interface {
	Config() Config

	Create(ctx context.Context) error
	Remove(ctx context.Context) error

	// Start prepares the volume for attachment: snapshotting the source
	// (SnapOnStart) or allocating fresh storage (volatile), per the
	// four-axis table in the design notes.
	Start(ctx context.Context) error
	// Stop ends use: commits mutations (SaveOnStop) or discards them.
	Stop(ctx context.Context) error

	Export(ctx context.Context) (io.ReadCloser, error)
	ExportEnd(ctx context.Context) error
	ImportData(ctx context.Context) (io.WriteCloser, error)
	ImportDataEnd(ctx context.Context, success bool) error
	ImportVolume(ctx context.Context, other Volume) error

	Resize(ctx context.Context, newSizeBytes uint64) error

	Revisions(ctx context.Context) ([]Revision, error)
	Revert(ctx context.Context, revisionID string) error

	IsDirty() bool
	IsOutdated() bool
	// MarkOutdated flags the volume as stale relative to its Source: set
	// when the domain owning the source volume (re)starts while this
	// volume's own domain is still running on an earlier copy. Cleared on
	// this volume's own next Start.
	MarkOutdated()

	BlockDevice() BlockDevice
}

// Driver is a storage pool backend. InitVolume never touches disk; it
// only validates the Config is supported (returning ErrNotImplemented
// lets a Pool advertise partial support for a combination of axes).
type Driver interface {
	InitVolume(cfg Config) (Volume, error)
	Setup() error
	Destroy() error
}

// ErrNotImplemented is returned by InitVolume when a driver does not
// support the requested combination of axes (e.g. a read-only pool asked
// for a writable volume).
type ErrNotImplemented struct{ Reason string }

func (e *ErrNotImplemented) Error() string { return "storage: not implemented: " + e.Reason }
