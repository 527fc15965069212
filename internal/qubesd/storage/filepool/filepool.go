// Package filepool implements a file-backed storage.Driver using qcow2
// images: the ordinary case for dom0's default pools (root, varlibqubes).
package filepool

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/qubesd/qubesd/internal/qubesd/storage"
	"github.com/qubesd/qubesd/pkg/apierror"
	"github.com/qubesd/qubesd/pkg/qemuimg"
)

// Driver is a storage.Driver that keeps one qcow2 file per volume under
// Dir; retained revisions are internal qcow2 snapshots of that file.
type Driver struct {
	Dir     string
	QemuImg qemuimg.QemuImgClient
}

// New returns a filepool driver rooted at dir, using img for all qcow2
// manipulation (create-from-backing, resize, snapshot).
func New(dir string, img qemuimg.QemuImgClient) *Driver {
	return &Driver{Dir: dir, QemuImg: img}
}

func (d *Driver) Setup() error {
	return os.MkdirAll(d.Dir, 0o750)
}

func (d *Driver) Destroy() error {
	return os.RemoveAll(d.Dir)
}

func (d *Driver) path(vid string) string {
	return filepath.Join(d.Dir, vid+".img")
}

func (d *Driver) revisionDir(vid string) string {
	return filepath.Join(d.Dir, vid+".revisions")
}

// InitVolume validates the requested axis combination and returns a
// Volume bound to this driver. No disk effect happens here; Create does.
func (d *Driver) InitVolume(cfg storage.Config) (storage.Volume, error) {
	if cfg.SnapOnStart && cfg.Source == "" {
		return nil, &storage.ErrNotImplemented{Reason: "snap_on_start requires a source volume"}
	}
	return &volume{driver: d, cfg: cfg}, nil
}

type volume struct {
	driver *Driver
	cfg    storage.Config

	mu       sync.Mutex
	dirty    bool
	outdated bool
}

func (v *volume) Config() storage.Config { return v.cfg }

func (v *volume) Create(ctx context.Context) error {
	path := v.driver.path(v.cfg.VID)
	if v.cfg.SnapOnStart {
		// Created lazily at Start, from the source's latest committed state.
		return nil
	}
	sizeGB := (v.cfg.Size + (1 << 30) - 1) >> 30
	if sizeGB == 0 {
		sizeGB = 1
	}
	if err := v.driver.QemuImg.CreateEmpty(ctx, "qcow2", path, sizeGB); err != nil {
		return apierror.WrapError(apierror.ErrStorage, "create volume "+v.cfg.VID, err)
	}
	return os.MkdirAll(v.driver.revisionDir(v.cfg.VID), 0o750)
}

func (v *volume) Remove(ctx context.Context) error {
	if err := os.Remove(v.driver.path(v.cfg.VID)); err != nil && !os.IsNotExist(err) {
		return apierror.WrapError(apierror.ErrStorage, "remove volume "+v.cfg.VID, err)
	}
	return os.RemoveAll(v.driver.revisionDir(v.cfg.VID))
}

// Start prepares the volume per the four-axis table: snapshot the source
// when SnapOnStart, otherwise leave a persistent volume as-is, or for a
// plain volatile volume (snap=F, save=F) recreate it fresh every boot.
func (v *volume) Start(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch {
	case v.cfg.SnapOnStart:
		path := v.driver.path(v.cfg.VID)
		_ = os.Remove(path)
		if err := v.driver.QemuImg.CreateFromBackingFile(ctx, "qcow2", "qcow2", v.cfg.Source, path); err != nil {
			return apierror.WrapError(apierror.ErrStorage, "snapshot source into "+v.cfg.VID, err)
		}
		v.outdated = false
	case !v.cfg.SaveOnStop && !v.cfg.SnapOnStart:
		// Volatile: discard whatever was left from an unclean shutdown and
		// start from a fresh empty image (storage.Driver.Recovery contract).
		path := v.driver.path(v.cfg.VID)
		_ = os.Remove(path)
		sizeGB := (v.cfg.Size + (1 << 30) - 1) >> 30
		if sizeGB == 0 {
			sizeGB = 1
		}
		if err := v.driver.QemuImg.CreateEmpty(ctx, "qcow2", path, sizeGB); err != nil {
			return apierror.WrapError(apierror.ErrStorage, "recreate volatile "+v.cfg.VID, err)
		}
	}
	v.dirty = true
	return nil
}

// Stop ends use: a SaveOnStop volume is committed as a new revision with
// pruning of old ones; everything else is simply left in place or, for
// snap_on_start volumes, discarded at next Start anyway.
func (v *volume) Stop(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dirty = false

	if !v.cfg.SaveOnStop {
		return nil
	}
	return v.addRevision(ctx)
}

func (v *volume) addRevision(ctx context.Context) error {
	revDir := v.driver.revisionDir(v.cfg.VID)
	if err := os.MkdirAll(revDir, 0o750); err != nil {
		return apierror.WrapError(apierror.ErrStorage, "mkdir revisions for "+v.cfg.VID, err)
	}
	existing, err := v.listRevisionIDs()
	if err != nil {
		return err
	}
	nextID := 1
	if len(existing) > 0 {
		nextID = existing[len(existing)-1] + 1
	}
	name := strconv.Itoa(nextID)
	if err := v.driver.QemuImg.Snapshot(ctx, v.driver.path(v.cfg.VID), name); err != nil {
		return apierror.WrapError(apierror.ErrStorage, "snapshot "+v.cfg.VID, err)
	}

	keep := v.cfg.RevisionsToKeep
	if keep <= 0 {
		return nil
	}
	all := append(existing, nextID)
	sort.Ints(all)
	for len(all) > keep {
		oldest := all[0]
		all = all[1:]
		_ = v.driver.QemuImg.DeleteSnapshot(ctx, v.driver.path(v.cfg.VID), strconv.Itoa(oldest))
	}
	return nil
}

func (v *volume) listRevisionIDs() ([]int, error) {
	names, err := v.driver.QemuImg.ListSnapshots(context.Background(), v.driver.path(v.cfg.VID))
	if err != nil {
		// No snapshots yet is not an error condition for a brand-new volume.
		return nil, nil
	}
	ids := make([]int, 0, len(names))
	for _, n := range names {
		if id, err := strconv.Atoi(n); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (v *volume) Revisions(ctx context.Context) ([]storage.Revision, error) {
	ids, err := v.listRevisionIDs()
	if err != nil {
		return nil, err
	}
	out := make([]storage.Revision, len(ids))
	for i, id := range ids {
		out[i] = storage.Revision{ID: strconv.Itoa(id)}
	}
	return out, nil
}

func (v *volume) Revert(ctx context.Context, revisionID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dirty {
		return apierror.WrapError(apierror.ErrInUse, "cannot revert volume "+v.cfg.VID+" while in use", nil)
	}
	path := v.driver.path(v.cfg.VID)
	if err := v.driver.QemuImg.ApplySnapshot(ctx, path, revisionID); err != nil {
		return apierror.WrapError(apierror.ErrStorage, "revert "+v.cfg.VID+" to revision "+revisionID, err)
	}
	return nil
}

func (v *volume) Resize(ctx context.Context, newSizeBytes uint64) error {
	sizeGB := (newSizeBytes + (1 << 30) - 1) >> 30
	if err := v.driver.QemuImg.Resize(ctx, v.driver.path(v.cfg.VID), sizeGB); err != nil {
		return apierror.WrapError(apierror.ErrStorage, "resize "+v.cfg.VID, err)
	}
	v.cfg.Size = newSizeBytes
	return nil
}

func (v *volume) IsDirty() bool { v.mu.Lock(); defer v.mu.Unlock(); return v.dirty }

func (v *volume) IsOutdated() bool { v.mu.Lock(); defer v.mu.Unlock(); return v.outdated }

// MarkOutdated is called by the domain package when the source volume of
// a snap_on_start chain has advanced since this volume's last Start.
func (v *volume) MarkOutdated() { v.mu.Lock(); v.outdated = true; v.mu.Unlock() }

func (v *volume) BlockDevice() storage.BlockDevice {
	return storage.BlockDevice{Path: v.driver.path(v.cfg.VID), Format: "qcow2"}
}

// Export opens the backing image for reading, for the Admin API's
// volume-export path (admin.vm.volume.Export).
func (v *volume) Export(ctx context.Context) (io.ReadCloser, error) {
	f, err := os.Open(v.driver.path(v.cfg.VID))
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrStorage, "export "+v.cfg.VID, err)
	}
	return f, nil
}

func (v *volume) ExportEnd(ctx context.Context) error { return nil }

// ImportData opens a staging file next to the backing image for writing,
// for the write side of admin.vm.volume.Import; the image itself is only
// replaced by a successful ImportDataEnd.
func (v *volume) ImportData(ctx context.Context) (io.WriteCloser, error) {
	f, err := os.Create(v.driver.path(v.cfg.VID) + ".import")
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrStorage, "import "+v.cfg.VID, err)
	}
	return f, nil
}

// ImportDataEnd is called once the caller has finished writing (success)
// or aborted (failure); on failure the partially-written image is
// discarded so the volume is left in its prior state.
func (v *volume) ImportDataEnd(ctx context.Context, success bool) error {
	staged := v.driver.path(v.cfg.VID) + ".import"
	if success {
		return os.Rename(staged, v.driver.path(v.cfg.VID))
	}
	return os.Remove(staged)
}

// ImportVolume copies another Volume's current block device into this
// one via qemu-img convert, used for cloning a template's root volume.
func (v *volume) ImportVolume(ctx context.Context, other storage.Volume) error {
	src := other.BlockDevice()
	if err := v.driver.QemuImg.Convert(ctx, src.Format, "qcow2", src.Path, v.driver.path(v.cfg.VID)); err != nil {
		return apierror.WrapError(apierror.ErrStorage, "import volume into "+v.cfg.VID, err)
	}
	return nil
}

var _ storage.Driver = (*Driver)(nil)
var _ storage.Volume = (*volume)(nil)
