package app

import (
	"context"

	"github.com/qubesd/qubesd/internal/qubesd/domain"
	"github.com/qubesd/qubesd/internal/qubesd/storage"
	"github.com/qubesd/qubesd/internal/qubesd/storage/ephemeral"
	"github.com/qubesd/qubesd/pkg/apierror"
	"github.com/qubesd/qubesd/pkg/idgen"
)

// DefaultPoolName is the pool a CreateSpec provisions volumes in when it
// doesn't name one explicitly — qubes.xml's usual "varlibqubes".
const DefaultPoolName = "varlibqubes"

// Default volume sizes for freshly created Domains (bytes). Real qubesd
// reads these from the template/defaults file; fixed constants are the
// idiomatic stand-in here since no such file is in scope.
const (
	defaultRootSize     = 20 << 30
	defaultPrivateSize  = 2 << 30
	defaultVolatileSize = 10 << 30
)

// CreateSpec describes a new Domain the way admin.vm.Create's wire
// arguments decode into: everything New needs before any qid is
// allocated or any volume touches disk.
type CreateSpec struct {
	Name     string
	Variant  domain.Variant
	Label    string
	Template string // required when the variant's capabilities.HasTemplate
	NetVM    string // "" keeps the "netvm" property's own default resolution
	Pool     string // "" defaults to DefaultPoolName
}

// CreateDomain allocates a qid, sets the properties a wire Create call
// carries, and provisions root/private/volatile volumes the same way
// loadCollections (xml.go) replays them for an already-persisted Domain —
// except starting from a CreateSpec instead of a decoded domainXML.
// Every partial step is unwound on error, so a failed Create never leaves
// a qid, a pool volume registration or a half-built Domain behind.
func (a *Application) CreateDomain(_ context.Context, spec CreateSpec) (*domain.Domain, error) {
	if _, err := a.Labels.ByName(spec.Label); err != nil {
		return nil, err
	}

	caps := domain.CapabilitiesFor(spec.Variant)
	var template *domain.Domain
	if caps.HasTemplate {
		if spec.Template == "" {
			return nil, apierror.WrapError(apierror.ErrInvalidValue,
				"variant "+string(spec.Variant)+" requires a template", nil)
		}
		t, err := a.Domains.ByName(spec.Template)
		if err != nil {
			return nil, err
		}
		tc := t.Capabilities()
		if spec.Variant == domain.VariantDispVM && !tc.IsDispVMTemplate {
			return nil, apierror.WrapError(apierror.ErrInvalidValue,
				spec.Template+" cannot be used as a dispvm template", nil)
		}
		if spec.Variant != domain.VariantDispVM && !tc.IsTemplate {
			return nil, apierror.WrapError(apierror.ErrInvalidValue,
				spec.Template+" is not a TemplateVM", nil)
		}
		template = t
	}

	poolName := spec.Pool
	if poolName == "" {
		poolName = DefaultPoolName
	}
	pool, err := a.Pools.Get(poolName)
	if err != nil {
		return nil, err
	}

	qid, err := a.Domains.Alloc.Allocate()
	if err != nil {
		return nil, err
	}
	d, err := a.buildDomain(qid, spec, template, pool)
	if err != nil {
		a.Domains.Alloc.Release(qid)
		return nil, err
	}
	if err := a.Domains.Add(d); err != nil {
		for _, vol := range d.Volumes {
			pool.RemoveVolume(vol.Config().VID)
		}
		a.Domains.Alloc.Release(qid)
		return nil, err
	}
	return d, nil
}

func (a *Application) buildDomain(qid int, spec CreateSpec, template *domain.Domain, pool *storage.Pool) (*domain.Domain, error) {
	d, err := domain.New(qid, spec.Name, spec.Variant)
	if err != nil {
		return nil, err
	}
	if err := d.Set("label", spec.Label); err != nil {
		return nil, err
	}
	if template != nil {
		if err := d.Set("template", spec.Template); err != nil {
			return nil, err
		}
	}
	if spec.NetVM != "" {
		if err := d.Set("netvm", spec.NetVM); err != nil {
			return nil, err
		}
	}
	if err := provisionVolumes(d, pool, template); err != nil {
		for _, vol := range d.Volumes {
			pool.RemoveVolume(vol.Config().VID)
		}
		return nil, err
	}
	return d, nil
}

// provisionVolumes builds root/private/volatile the way spec.md §4.3's
// four-axis table prescribes: a HasTemplate variant's root is a
// snap-on-start clone of its template's committed root; a template-less
// variant's own root is persistent instead. private is persistent except
// for a DispVM, whose private is a snap-on-start clone of its template's
// private; volatile is always a fresh, ephemeral-encrypted image discarded every
// boot — exercising storage/ephemeral's age-backed Volume decorator.
func provisionVolumes(d *domain.Domain, pool *storage.Pool, template *domain.Domain) error {
	caps := d.Capabilities()
	dir := "vm-templates"
	if caps.HasTemplate {
		dir = "appvms"
	}
	vidFor := func(vol string) string { return dir + "/" + d.Name + "/" + vol }

	root := storage.Config{Name: "root", Pool: pool.Name, VID: vidFor("root"), Size: defaultRootSize, RW: true}
	if caps.HasTemplate {
		tmplRoot, ok := template.Volumes["root"]
		if !ok {
			return apierror.WrapError(apierror.ErrInternal, "template "+template.Name+" has no root volume", nil)
		}
		tc := tmplRoot.Config()
		root.SnapOnStart = true
		root.Source = tc.Pool + ":" + tc.VID
	} else {
		root.SaveOnStop = true
		root.RevisionsToKeep = 3
	}
	rootVol, err := pool.CreateVolume(root)
	if err != nil {
		return err
	}
	d.Volumes["root"] = rootVol

	// A DispVM's private data never survives its own stop (spec.md §4.2:
	// "at stop, all volumes are discarded"): it is re-cloned from the
	// template's private at every Start. Every other HasTemplate or
	// template-less variant keeps private persistent across reboots.
	private := storage.Config{Name: "private", Pool: pool.Name, VID: vidFor("private"), Size: defaultPrivateSize, RW: true}
	if d.Variant != domain.VariantDispVM {
		private.SaveOnStop = true
		private.RevisionsToKeep = 3
	} else if tmplPrivate, ok := template.Volumes["private"]; ok {
		tpc := tmplPrivate.Config()
		private.SnapOnStart = true
		private.Source = tpc.Pool + ":" + tpc.VID
	}
	privateVol, err := pool.CreateVolume(private)
	if err != nil {
		return err
	}
	d.Volumes["private"] = privateVol

	volatile := storage.Config{
		Name: "volatile", Pool: pool.Name, VID: vidFor("volatile"), Size: defaultVolatileSize,
		RW: true, Ephemeral: true,
	}
	volatileVol, err := pool.CreateVolume(volatile)
	if err != nil {
		return err
	}
	wrapped, err := ephemeral.Wrap(volatileVol)
	if err != nil {
		return err
	}
	d.Volumes["volatile"] = wrapped
	return nil
}

// CreateDispVM derives a one-shot Domain from a dispvm-capable template:
// its name is auto-allocated from idgen's incrementing sequence (standing
// in for the "small free set" spec.md describes), its qid assigned like
// any other Domain. Volumes are provisioned by provisionVolumes — at Start
// root and private are (re-)cloned from the template's and volatile is
// recreated empty, at Stop (domain/lifecycle.go's stop path) everything is
// discarded since none of a DispVM's volumes are SaveOnStop.
func (a *Application) CreateDispVM(ctx context.Context, templateName, label string) (*domain.Domain, error) {
	name, err := idgen.GenerateDispVMName()
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternal, "allocate dispvm name: "+err.Error(), err)
	}
	return a.CreateDomain(ctx, CreateSpec{
		Name:     name,
		Variant:  domain.VariantDispVM,
		Label:    label,
		Template: templateName,
	})
}
