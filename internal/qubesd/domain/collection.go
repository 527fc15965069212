package domain

import (
	"sort"
	"sync"

	"github.com/qubesd/qubesd/internal/qubesd/device"
	"github.com/qubesd/qubesd/pkg/apierror"
)

// Collection is the ordered, qid-keyed set of every Domain known to the
// Application. Structural mutations (Add/Remove) take a brief lock;
// readers may hold a *Domain across suspension points, but must expect
// a NotFound error on their next call if it was removed meanwhile.
type Collection struct {
	mu      sync.RWMutex
	byQID   map[int]*Domain
	byName  map[string]*Domain
	Alloc   *QIDAllocator
}

// NewCollection returns an empty Collection with its own qid allocator.
func NewCollection() *Collection {
	return &Collection{
		byQID:  make(map[int]*Domain),
		byName: make(map[string]*Domain),
		Alloc:  NewQIDAllocator(),
	}
}

// Add registers d under its qid and name. Both must already be unique;
// New() + Allocate()/Reserve() guarantee the qid side, this guarantees
// the name side.
func (c *Collection) Add(d *Domain) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byName[d.Name]; exists {
		return apierror.WrapError(apierror.ErrInUse, "domain name already in use: "+d.Name, nil)
	}
	c.byQID[d.QID] = d
	c.byName[d.Name] = d
	return nil
}

// ByQID looks up a Domain by its qid.
func (c *Collection) ByQID(qid int) (*Domain, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byQID[qid]
	if !ok {
		return nil, apierror.WrapError(apierror.ErrNotFound, "no such domain", nil)
	}
	return d, nil
}

// ByName looks up a Domain by its (currently unique) name.
func (c *Collection) ByName(name string) (*Domain, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byName[name]
	if !ok {
		return nil, apierror.WrapError(apierror.ErrNotFound, "no such domain: "+name, nil)
	}
	return d, nil
}

// referencedBy reports whether any other Domain references target as
// template, netvm, a disp-template, or the backend of one of its own
// auto/required device assignments. Remove rejects target while this is
// true.
func (c *Collection) referencedBy(target *Domain) []*Domain {
	var refs []*Domain
	for _, d := range c.byQID {
		if d == target {
			continue
		}
		if t, _ := d.Get("template"); t == target.Name {
			refs = append(refs, d)
			continue
		}
		if n, _ := d.Get("netvm"); n == target.Name {
			refs = append(refs, d)
			continue
		}
		if isDeviceBackend(d, target.Name) {
			refs = append(refs, d)
		}
	}
	return refs
}

// isDeviceBackend reports whether d has an auto or required assignment
// whose device lives behind backendName — i.e. removing backendName would
// strand that assignment.
func isDeviceBackend(d *Domain, backendName string) bool {
	for _, assignments := range d.Devices {
		for _, a := range assignments {
			if (a.Mode == device.ModeAuto || a.Mode == device.ModeRequired) && a.Device.Port.BackendDomain == backendName {
				return true
			}
		}
	}
	return false
}

// Remove deletes a Domain from the collection, releasing its qid, after
// verifying no other Domain still references it (I-NOREF in the design
// notes' vocabulary: template/netvm/dispvm-template references).
func (c *Collection) Remove(target *Domain) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if refs := c.referencedBy(target); len(refs) > 0 {
		return apierror.WrapError(apierror.ErrInUse, "domain "+target.Name+" is still referenced", nil)
	}
	delete(c.byQID, target.QID)
	delete(c.byName, target.Name)
	c.Alloc.Release(target.QID)
	return nil
}

// Rename changes a Domain's entry in the by-name index. Callers must
// already hold target.Lock().
func (c *Collection) Rename(target *Domain, newName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byName[newName]; exists {
		return apierror.WrapError(apierror.ErrInUse, "domain name already in use: "+newName, nil)
	}
	delete(c.byName, target.Name)
	target.Name = newName
	c.byName[newName] = target
	return nil
}

// List returns every Domain, ordered by ascending qid — the order in
// which per-Domain locks must be acquired for any cross-domain operation.
func (c *Collection) List() []*Domain {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Domain, 0, len(c.byQID))
	for _, d := range c.byQID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QID < out[j].QID })
	return out
}
