package app

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/qubesd/qubesd/internal/qubesd/device"
	"github.com/qubesd/qubesd/internal/qubesd/domain"
	"github.com/qubesd/qubesd/internal/qubesd/firewall"
	"github.com/qubesd/qubesd/internal/qubesd/storage"
	"github.com/qubesd/qubesd/pkg/apierror"
	"github.com/qubesd/qubesd/pkg/property"
)

// Save serializes the whole Application — labels, global properties,
// pools, and every Domain's properties/features/tags/firewall/volumes/
// devices — to qubes.xml under the store lock, atomically (write temp,
// fsync, rename), per spec.md §4.1.
func (a *Application) Save(ctx context.Context) error {
	return a.WithLock(ctx, func() error { return a.saveLocked() })
}

func (a *Application) saveLocked() error {
	doc := qubesDocument{}

	for _, l := range a.Labels.List() {
		doc.Labels = append(doc.Labels, labelXML{Index: l.Index, Color: l.Color, Name: l.Name})
	}

	props, err := property.EncodeStage(&a.Holder, property.StageGlobal)
	if err != nil {
		return apierror.WrapError(apierror.ErrInternal, "encode application properties: "+err.Error(), err)
	}
	doc.Properties.Items = props

	for _, name := range a.Pools.List() {
		p, err := a.Pools.Get(name)
		if err != nil {
			return err
		}
		px := poolXML{Name: p.Name, Driver: p.DriverName}
		for k, v := range p.Config {
			px.Config = append(px.Config, poolConfigEntryXML{Key: k, Value: v})
		}
		doc.Pools = append(doc.Pools, px)
	}

	for _, d := range a.Domains.List() {
		dx, err := encodeDomain(d)
		if err != nil {
			return err
		}
		doc.Domains = append(doc.Domains, dx)
	}

	return writeDocumentAtomic(filepath.Join(a.StorePath, "qubes.xml"), &doc)
}

func encodeDomain(d *domain.Domain) (domainXML, error) {
	label, err := d.Get("label")
	if err != nil {
		return domainXML{}, err
	}
	labelStr, _ := label.(string)

	dx := domainXML{
		QID:   d.QID,
		UUID:  d.UUID.String(),
		Name:  d.Name,
		Class: string(d.Variant),
		Label: labelStr,
	}

	intrinsic, err := property.EncodeStage(&d.Holder, property.StageIntrinsic)
	if err != nil {
		return domainXML{}, err
	}
	refs, err := property.EncodeStage(&d.Holder, property.StageReferences)
	if err != nil {
		return domainXML{}, err
	}
	dx.Properties.Items = append(intrinsic, refs...)

	for k, v := range d.Features.List() {
		dx.Features = append(dx.Features, featureXML{Name: k, Value: v})
	}
	for _, t := range d.Tags.List() {
		dx.Tags = append(dx.Tags, tagXML{Name: t})
	}

	dx.Firewall.Policy = string(d.Firewall.Policy)
	for _, r := range d.Firewall.List() {
		dx.Firewall.Rules = append(dx.Firewall.Rules, firewallRuleXML{
			Action: string(r.Action), DstHost: r.DstHost, Proto: r.Proto,
			DstPorts: r.DstPorts, ICMPType: r.ICMPType,
			SpecialTarget: r.SpecialTarget, Comment: r.Comment,
		})
	}

	for name, vol := range d.Volumes {
		cfg := vol.Config()
		dx.Volumes = append(dx.Volumes, volumeXML{
			Name: name, Pool: cfg.Pool, VID: cfg.VID, Size: cfg.Size,
			RW: cfg.RW, SnapOnStart: cfg.SnapOnStart, SaveOnStop: cfg.SaveOnStop,
			Ephemeral: cfg.Ephemeral, RevisionsToKeep: cfg.RevisionsToKeep, Source: cfg.Source,
		})
	}

	for class, assignments := range d.Devices {
		for _, asn := range assignments {
			dx.Devices = append(dx.Devices, deviceXML{
				Class: class, BackendDomain: asn.Device.Port.BackendDomain,
				PortID: asn.Device.Port.PortID, DevClass: asn.Device.Port.DevClass,
				DeviceID: asn.Device.DeviceID, Frontend: asn.Frontend, Mode: string(asn.Mode),
			})
		}
	}

	return dx, nil
}

func writeDocumentAtomic(storePath string, doc *qubesDocument) error {
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apierror.WrapError(apierror.ErrInternal, "marshal qubes.xml: "+err.Error(), err)
	}

	dir := filepath.Dir(storePath)
	tmp, err := os.CreateTemp(dir, ".qubes.xml.tmp-*")
	if err != nil {
		return apierror.WrapError(apierror.ErrInternal, "create temp file: "+err.Error(), err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return apierror.WrapError(apierror.ErrInternal, "write temp file: "+err.Error(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apierror.WrapError(apierror.ErrInternal, "fsync temp file: "+err.Error(), err)
	}
	if err := tmp.Close(); err != nil {
		return apierror.WrapError(apierror.ErrInternal, "close temp file: "+err.Error(), err)
	}
	if err := os.Rename(tmpPath, storePath); err != nil {
		return apierror.WrapError(apierror.ErrInternal, "rename into place: "+err.Error(), err)
	}
	return nil
}

// Load reads qubes.xml back into an empty Application, replaying the
// five-stage protocol of spec.md §4.1. A missing file is treated as a
// fresh, empty store (first boot), not an error.
func (a *Application) Load(ctx context.Context) error {
	return a.WithLock(ctx, func() error { return a.loadLocked() })
}

func (a *Application) loadLocked() error {
	raw, err := os.ReadFile(filepath.Join(a.StorePath, "qubes.xml"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return apierror.WrapError(apierror.ErrInternal, "read qubes.xml: "+err.Error(), err)
	}

	var doc qubesDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return apierror.WrapError(apierror.ErrInternal, "parse qubes.xml: "+err.Error(), err)
	}

	labels := &LabelCollection{byName: make(map[string]*Label)}
	for _, lx := range doc.Labels {
		labels.byName[lx.Name] = &Label{Index: lx.Index, Color: lx.Color, Name: lx.Name}
	}
	a.Labels = labels

	// stage 1: global properties that don't reference Domains.
	if err := property.DecodeStage(&a.Holder, doc.Properties.Items, property.StageGlobal); err != nil {
		return apierror.WrapError(apierror.ErrInternal, "decode application properties: "+err.Error(), err)
	}

	for _, px := range doc.Pools {
		if err := a.loadPool(px); err != nil {
			return err
		}
	}

	// stage 2: instantiate Domain stubs keyed by qid, assign labels.
	byQID := make(map[int]*domain.Domain, len(doc.Domains))
	for _, dx := range doc.Domains {
		d, err := a.loadDomainStub(dx)
		if err != nil {
			return err
		}
		byQID[dx.QID] = d
	}

	// stage 3: per-Domain intrinsic properties.
	for _, dx := range doc.Domains {
		d := byQID[dx.QID]
		if err := property.DecodeStage(&d.Holder, dx.Properties.Items, property.StageIntrinsic); err != nil {
			return apierror.WrapError(apierror.ErrInternal, fmt.Sprintf("domain %s: %v", d.Name, err), err)
		}
	}

	// stage 4: Domain<->Domain references.
	for _, dx := range doc.Domains {
		d := byQID[dx.QID]
		if err := property.DecodeStage(&d.Holder, dx.Properties.Items, property.StageReferences); err != nil {
			return apierror.WrapError(apierror.ErrInternal, fmt.Sprintf("domain %s: %v", d.Name, err), err)
		}
	}

	// stage 5: Features, Tags, Firewall, Volumes, Devices.
	for _, dx := range doc.Domains {
		if err := a.loadCollections(byQID[dx.QID], dx); err != nil {
			return err
		}
	}

	return nil
}

func (a *Application) loadPool(px poolXML) error {
	factory, ok := a.driverFactories[px.Driver]
	if !ok {
		return apierror.WrapError(apierror.ErrStorage, "no driver factory registered for: "+px.Driver, nil)
	}
	cfg := make(map[string]string, len(px.Config))
	for _, e := range px.Config {
		cfg[e.Key] = e.Value
	}
	drv, err := factory(cfg)
	if err != nil {
		return apierror.WrapError(apierror.ErrStorage, "init pool driver "+px.Name+": "+err.Error(), err)
	}
	return a.Pools.Add(storage.NewPool(px.Name, px.Driver, drv, cfg))
}

func (a *Application) loadDomainStub(dx domainXML) (*domain.Domain, error) {
	if dx.QID != 0 {
		if err := a.Domains.Alloc.Reserve(dx.QID); err != nil {
			return nil, apierror.WrapError(apierror.ErrInternal, err.Error(), err)
		}
	}
	d, err := domain.New(dx.QID, dx.Name, domain.Variant(dx.Class))
	if err != nil {
		return nil, err
	}
	if id, err := uuid.Parse(dx.UUID); err == nil {
		d.UUID = id
	}
	if dx.Label != "" {
		if err := d.Set("label", dx.Label); err != nil {
			return nil, err
		}
	}
	if err := a.Domains.Add(d); err != nil {
		return nil, err
	}
	return d, nil
}

func (a *Application) loadCollections(d *domain.Domain, dx domainXML) error {
	for _, f := range dx.Features {
		d.Features.Set(f.Name, f.Value)
	}
	for _, t := range dx.Tags {
		d.Tags.Add(t.Name)
	}

	d.Firewall.SetPolicy(firewall.Action(dx.Firewall.Policy))
	rules := make([]firewall.Rule, 0, len(dx.Firewall.Rules))
	for _, r := range dx.Firewall.Rules {
		rules = append(rules, firewall.Rule{
			Action: firewall.Action(r.Action), DstHost: r.DstHost, Proto: r.Proto,
			DstPorts: r.DstPorts, ICMPType: r.ICMPType, SpecialTarget: r.SpecialTarget, Comment: r.Comment,
		})
	}
	d.Firewall.SetRules(rules)

	for _, vx := range dx.Volumes {
		pool, err := a.Pools.Get(vx.Pool)
		if err != nil {
			return apierror.WrapError(apierror.ErrStorage, fmt.Sprintf("domain %s volume %s: %v", d.Name, vx.Name, err), err)
		}
		vol, err := pool.CreateVolume(storage.Config{
			Name: vx.Name, Pool: vx.Pool, VID: vx.VID, Size: vx.Size,
			RW: vx.RW, SnapOnStart: vx.SnapOnStart, SaveOnStop: vx.SaveOnStop,
			Ephemeral: vx.Ephemeral, RevisionsToKeep: vx.RevisionsToKeep, Source: vx.Source,
		})
		if err != nil {
			return err
		}
		d.Volumes[vx.Name] = vol
	}

	for _, dvx := range dx.Devices {
		d.Devices[dvx.Class] = append(d.Devices[dvx.Class], device.Assignment{
			Device: device.VirtualDevice{
				Port: device.Port{BackendDomain: dvx.BackendDomain, PortID: dvx.PortID, DevClass: dvx.DevClass},
				DeviceID: dvx.DeviceID,
			},
			Frontend: dvx.Frontend,
			Mode:     device.Mode(dvx.Mode),
		})
	}
	return nil
}
