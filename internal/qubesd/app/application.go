// Package app implements the Application singleton: the root property
// holder owning the Domain collection, the Pool registry, the Label
// collection, the on-disk store path and its file lock.
package app

import (
	"context"
	"path/filepath"
	"reflect"
	"time"

	"github.com/qubesd/qubesd/internal/qubesd/domain"
	"github.com/qubesd/qubesd/internal/qubesd/storage"
	"github.com/qubesd/qubesd/pkg/apierror"
	"github.com/qubesd/qubesd/pkg/property"
)

// DefaultLockTimeout bounds how long Save/Load wait to acquire the store
// lock before giving up.
const DefaultLockTimeout = 10 * time.Second

// DriverFactory constructs a storage.Driver from the config persisted for
// a pool (e.g. {"dir": "..."} for filepool). Production wiring registers
// one factory per supported driver name in internal/qubesd/qubesd.go (and
// cmd/qubesd-repair/main.go); tests register an in-memory fake.
type DriverFactory func(config map[string]string) (storage.Driver, error)

// Application is the singleton root holder: domain.Domain's skeleton/
// intrinsic/reference/collection properties all ultimately hang off one
// Application per process, the way the teacher's Server holds the one
// *libvirt.Client and *repository.Repository for the process's lifetime.
type Application struct {
	property.Holder

	Domains *domain.Collection
	Pools   *storage.Registry
	Labels  *LabelCollection

	StorePath string
	Offline   bool

	lock           *StoreLock
	driverFactories map[string]DriverFactory
}

var applicationType = reflect.TypeOf((*Application)(nil))

// New constructs an empty Application rooted at storePath (the directory
// containing qubes.xml and qubes.xml.lock). Offline suppresses hypervisor
// interaction and is carried through to domain.Runtime by the caller.
func New(storePath string, offline bool) *Application {
	a := &Application{
		Domains:         domain.NewCollection(),
		Pools:           storage.NewRegistry(),
		Labels:          NewLabelCollection(),
		StorePath:       storePath,
		Offline:         offline,
		lock:            NewStoreLock(filepath.Join(storePath, "qubes.xml.lock")),
		driverFactories: make(map[string]DriverFactory),
	}
	a.Holder.Init(applicationType)
	domain.SetDefaultNetVMProvider(func() string {
		v, _ := a.Get("default_netvm")
		s, _ := v.(string)
		return s
	})
	return a
}

// RegisterDriverFactory makes a storage driver kind loadable from
// qubes.xml's <pool driver="..."> entries.
func (a *Application) RegisterDriverFactory(name string, f DriverFactory) {
	a.driverFactories[name] = f
}

// SetDefaultNetVM changes the system-wide default netvm and propagates a
// synthetic property-set:netvm event to every Domain whose own netvm is
// still at-default, so subscribers observe the same event shape whether
// the change originated on the Domain or on the Application (Open
// Question resolution — see DESIGN.md).
func (a *Application) SetDefaultNetVM(name string) error {
	old, _ := a.Get("default_netvm")
	if err := a.Set("default_netvm", name); err != nil {
		return err
	}
	for _, d := range a.Domains.List() {
		isDefault, err := d.IsDefault("netvm")
		if err != nil || !isDefault {
			continue
		}
		_, _ = d.FireSync(false, "property-set:netvm", property.Args{
			"name": "netvm", "oldvalue": old, "newvalue": name,
		})
	}
	return nil
}

// WithLock runs fn while holding the exclusive store lock.
func (a *Application) WithLock(ctx context.Context, fn func() error) error {
	if err := a.lock.Lock(ctx, DefaultLockTimeout); err != nil {
		return apierror.WrapError(apierror.ErrInternal, "acquire qubes.xml lock: "+err.Error(), err)
	}
	defer func() { _ = a.lock.Unlock() }()
	return fn()
}
