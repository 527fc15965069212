package storage

import (
	"fmt"
	"sync"

	"github.com/qubesd/qubesd/pkg/apierror"
)

// Pool is a named storage backend instance: a driver tag, driver-specific
// config, and the set of Volumes it currently owns, addressed by vid.
type Pool struct {
	mu sync.RWMutex

	Name       string
	DriverName string
	Driver     Driver
	// Config is the driver-specific configuration as persisted in
	// qubes.xml (e.g. {"dir": "/var/lib/qubes/appvms"} for filepool);
	// kept alongside the constructed Driver so Save can round-trip it
	// without each driver needing its own XML marshaling.
	Config map[string]string

	volumes map[string]Volume // vid -> Volume
}

// NewPool binds a Pool name to an already-constructed Driver (the
// Registry is responsible for picking the concrete implementation from
// DriverName + config).
func NewPool(name, driverName string, driver Driver, config map[string]string) *Pool {
	return &Pool{Name: name, DriverName: driverName, Driver: driver, Config: config, volumes: make(map[string]Volume)}
}

// CreateVolume asks the driver to init a new Volume (Driver.InitVolume;
// Volume.Create is not called here), then registers it under the pool by
// vid.
func (p *Pool) CreateVolume(cfg Config) (Volume, error) {
	v, err := p.Driver.InitVolume(cfg)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrStorage, fmt.Sprintf("pool %s: init volume %s", p.Name, cfg.VID), err)
	}
	p.mu.Lock()
	if _, exists := p.volumes[cfg.VID]; exists {
		p.mu.Unlock()
		return nil, apierror.WrapError(apierror.ErrInUse, fmt.Sprintf("pool %s: vid %s already exists", p.Name, cfg.VID), nil)
	}
	p.volumes[cfg.VID] = v
	p.mu.Unlock()
	return v, nil
}

// Volume looks up a previously created Volume by vid.
func (p *Pool) Volume(vid string) (Volume, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.volumes[vid]
	return v, ok
}

// RemoveVolume drops the bookkeeping entry; callers must have already
// called Volume.Remove.
func (p *Pool) RemoveVolume(vid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.volumes, vid)
}

// Volumes returns a snapshot of every vid currently registered.
func (p *Pool) Volumes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.volumes))
	for vid := range p.volumes {
		out = append(out, vid)
	}
	return out
}

// Registry keeps the set of known Pools, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	pools map[string]*Pool
}

// NewRegistry returns an empty Pool registry.
func NewRegistry() *Registry {
	return &Registry{pools: make(map[string]*Pool)}
}

// Add registers a Pool under its own Name. Re-adding an existing name is
// an error — pools are created once at Application load and not silently
// replaced.
func (r *Registry) Add(p *Pool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pools[p.Name]; exists {
		return apierror.WrapError(apierror.ErrInUse, "pool already exists: "+p.Name, nil)
	}
	r.pools[p.Name] = p
	return nil
}

// Get looks up a Pool by name.
func (r *Registry) Get(name string) (*Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[name]
	if !ok {
		return nil, apierror.WrapError(apierror.ErrNotFound, "no such pool: "+name, nil)
	}
	return p, nil
}

// Remove drops a Pool from the registry after its driver has been torn
// down via Driver.Destroy.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pools, name)
}

// List returns every registered pool name.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.pools))
	for name := range r.pools {
		out = append(out, name)
	}
	return out
}
