package admin

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/qubesd/qubesd/internal/qubesd/app"
	"github.com/qubesd/qubesd/internal/qubesd/domain"
	"github.com/qubesd/qubesd/internal/qubesd/firewall"
	"github.com/qubesd/qubesd/internal/qubesd/storage"
	"github.com/qubesd/qubesd/pkg/apierror"
)

// Core bundles the collaborators every admin.* handler needs: the
// Application (property storage, pools, labels) and the Runtime (the
// hypervisor-facing lifecycle operations), plus the EventBus fed by
// wiring Domain.OnAsync/OnSync subscriptions at construction time.
type Core struct {
	App *app.Application
	RT  *domain.Runtime
	Bus *EventBus
}

// domainExister adapts Core to the Dispatcher's DomainExister dependency.
type domainExister struct{ core *Core }

func (d domainExister) DomainExists(name string) bool {
	_, err := d.core.App.Domains.ByName(name)
	return err == nil
}

// NewCoreDispatcher builds a Dispatcher wired to core's Domains
// collection for ScopeDomain existence checks, with perm (possibly nil)
// installed as the permission checker, and every admin.* method
// registered.
func NewCoreDispatcher(core *Core, perm PermissionChecker) *Dispatcher {
	disp := NewDispatcher(perm, domainExister{core: core})
	RegisterAll(disp, core)
	return disp
}

// RegisterAll wires every admin.vm.*/admin.pool.* method this
// implementation supports onto disp. admin.Events is handled separately
// by Server.serve, since it streams rather than request/responds.
func RegisterAll(disp *Dispatcher, core *Core) {
	disp.Register("admin.vm.List", MethodSpec{ReadOnly: true, Scope: ScopeGlobal, Handler: core.vmList})
	disp.Register("admin.vm.property.Get", MethodSpec{ReadOnly: true, Scope: ScopeDomain, Handler: core.vmPropertyGet})
	disp.Register("admin.vm.property.Set", MethodSpec{Scope: ScopeDomain, Handler: core.vmPropertySet})
	disp.Register("admin.vm.property.List", MethodSpec{ReadOnly: true, Scope: ScopeDomain, Handler: core.vmPropertyList})
	disp.Register("admin.vm.property.Help", MethodSpec{ReadOnly: true, Scope: ScopeDomain, Handler: core.vmPropertyHelp})

	disp.Register("admin.vm.Create", MethodSpec{Scope: ScopeDom0, Handler: core.vmCreate})
	disp.Register("admin.vm.CreateDisposable", MethodSpec{Scope: ScopeDomain, Handler: core.vmCreateDisposable})

	disp.Register("admin.vm.Start", MethodSpec{Scope: ScopeDomain, Handler: core.vmStart})
	disp.Register("admin.vm.Shutdown", MethodSpec{Scope: ScopeDomain, Handler: core.vmShutdown})
	disp.Register("admin.vm.Kill", MethodSpec{Scope: ScopeDomain, Handler: core.vmKill})
	disp.Register("admin.vm.Pause", MethodSpec{Scope: ScopeDomain, Handler: core.vmPause})
	disp.Register("admin.vm.Unpause", MethodSpec{Scope: ScopeDomain, Handler: core.vmUnpause})
	disp.Register("admin.vm.Remove", MethodSpec{Scope: ScopeDomain, Handler: core.vmRemove})

	disp.Register("admin.vm.feature.Get", MethodSpec{ReadOnly: true, Scope: ScopeDomain, Handler: core.vmFeatureGet})
	disp.Register("admin.vm.feature.Set", MethodSpec{Scope: ScopeDomain, Handler: core.vmFeatureSet})
	disp.Register("admin.vm.feature.List", MethodSpec{ReadOnly: true, Scope: ScopeDomain, Handler: core.vmFeatureList})

	disp.Register("admin.vm.tag.List", MethodSpec{ReadOnly: true, Scope: ScopeDomain, Handler: core.vmTagList})
	disp.Register("admin.vm.tag.Add", MethodSpec{Scope: ScopeDomain, Handler: core.vmTagAdd})
	disp.Register("admin.vm.tag.Remove", MethodSpec{Scope: ScopeDomain, Handler: core.vmTagRemove})

	disp.Register("admin.vm.firewall.Get", MethodSpec{ReadOnly: true, Scope: ScopeDomain, Handler: core.vmFirewallGet})
	disp.Register("admin.vm.firewall.Set", MethodSpec{Scope: ScopeDomain, Handler: core.vmFirewallSet})

	disp.Register("admin.vm.volume.List", MethodSpec{ReadOnly: true, Scope: ScopeDomain, Handler: core.vmVolumeList})
	disp.Register("admin.vm.volume.Info", MethodSpec{ReadOnly: true, Scope: ScopeDomain, Handler: core.vmVolumeInfo})
	disp.Register("admin.vm.volume.Resize", MethodSpec{Scope: ScopeDomain, Handler: core.vmVolumeResize})
	disp.Register("admin.vm.volume.Revert", MethodSpec{Scope: ScopeDomain, Handler: core.vmVolumeRevert})
	disp.Register("admin.vm.volume.Import", MethodSpec{Scope: ScopeDomain, Handler: core.vmVolumeImport})
	disp.Register("admin.vm.volume.Export", MethodSpec{ReadOnly: true, Scope: ScopeDomain, Handler: core.vmVolumeExport})

	disp.Register("admin.pool.List", MethodSpec{ReadOnly: true, Scope: ScopeDom0, Handler: core.poolList})
	disp.Register("admin.label.List", MethodSpec{ReadOnly: true, Scope: ScopeDom0, Handler: core.labelList})
}

func (c *Core) vmList(_ context.Context, _ Request) ([]byte, error) {
	var sb strings.Builder
	for _, d := range c.App.Domains.List() {
		fmt.Fprintf(&sb, "%s class=%s state=%s\n", d.Name, d.Variant, d.State())
	}
	return []byte(sb.String()), nil
}

func (c *Core) domain(req Request) (*domain.Domain, error) {
	return c.App.Domains.ByName(req.Dest)
}

func (c *Core) vmPropertyGet(_ context.Context, req Request) ([]byte, error) {
	d, err := c.domain(req)
	if err != nil {
		return nil, err
	}
	v, err := d.Get(req.Argument)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("%v", v)), nil
}

func (c *Core) vmPropertySet(_ context.Context, req Request) ([]byte, error) {
	d, err := c.domain(req)
	if err != nil {
		return nil, err
	}
	if err := d.Set(req.Argument, string(req.Payload)); err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *Core) vmPropertyList(_ context.Context, req Request) ([]byte, error) {
	d, err := c.domain(req)
	if err != nil {
		return nil, err
	}
	names := d.PropertyList()
	return []byte(strings.Join(names, "\n")), nil
}

func (c *Core) vmPropertyHelp(_ context.Context, req Request) ([]byte, error) {
	d, err := c.domain(req)
	if err != nil {
		return nil, err
	}
	help, err := d.Help(req.Argument)
	if err != nil {
		return nil, err
	}
	return []byte(help), nil
}

// vmCreate implements admin.vm.Create.<class>: argument names the
// Variant (e.g. "AppVM"), payload carries "key=value" pairs
// (name/label/template/netvm/pool) as space-separated tokens, parsed by
// parseKV. Returns the new Domain's name.
func (c *Core) vmCreate(ctx context.Context, req Request) ([]byte, error) {
	fields := parseKV(req.Payload)
	spec := app.CreateSpec{
		Name:     fields["name"],
		Variant:  domain.Variant(req.Argument),
		Label:    fields["label"],
		Template: fields["template"],
		NetVM:    fields["netvm"],
		Pool:     fields["pool"],
	}
	d, err := c.App.CreateDomain(ctx, spec)
	if err != nil {
		return nil, err
	}
	return []byte(d.Name), nil
}

// vmCreateDisposable implements admin.vm.CreateDisposable: dest names the
// dispvm-template, argument the label. Returns the derived DispVM's
// auto-allocated name.
func (c *Core) vmCreateDisposable(ctx context.Context, req Request) ([]byte, error) {
	d, err := c.App.CreateDispVM(ctx, req.Dest, req.Argument)
	if err != nil {
		return nil, err
	}
	return []byte(d.Name), nil
}

// parseKV splits a space-separated "key=value key2=value2" payload, the
// flat wire dialect admin.vm.Create's payload uses. Tokens without "=" are
// ignored rather than rejected, matching the Dispatcher's general style of
// never hard-failing on a forward-compatible unknown field.
func parseKV(payload []byte) map[string]string {
	out := make(map[string]string)
	for _, tok := range strings.Fields(string(payload)) {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

func (c *Core) vmStart(ctx context.Context, req Request) ([]byte, error) {
	d, err := c.domain(req)
	if err != nil {
		return nil, err
	}
	return nil, c.RT.Start(ctx, d)
}

func (c *Core) vmShutdown(ctx context.Context, req Request) ([]byte, error) {
	d, err := c.domain(req)
	if err != nil {
		return nil, err
	}
	return nil, c.RT.Shutdown(ctx, d, domain.DefaultQrexecReadyTimeout)
}

func (c *Core) vmKill(ctx context.Context, req Request) ([]byte, error) {
	d, err := c.domain(req)
	if err != nil {
		return nil, err
	}
	return nil, c.RT.Kill(ctx, d)
}

func (c *Core) vmPause(ctx context.Context, req Request) ([]byte, error) {
	d, err := c.domain(req)
	if err != nil {
		return nil, err
	}
	return nil, c.RT.Pause(ctx, d)
}

func (c *Core) vmUnpause(ctx context.Context, req Request) ([]byte, error) {
	d, err := c.domain(req)
	if err != nil {
		return nil, err
	}
	return nil, c.RT.Unpause(ctx, d)
}

func (c *Core) vmRemove(_ context.Context, req Request) ([]byte, error) {
	d, err := c.domain(req)
	if err != nil {
		return nil, err
	}
	if d.State() != domain.StateHalted {
		return nil, apierror.WrapError(apierror.ErrWrongState, "domain must be halted before removal: "+d.Name, nil)
	}
	return nil, c.App.Domains.Remove(d)
}

func (c *Core) vmFeatureGet(_ context.Context, req Request) ([]byte, error) {
	d, err := c.domain(req)
	if err != nil {
		return nil, err
	}
	v, ok := d.Features.Get(req.Argument)
	if !ok {
		return nil, apierror.WrapError(apierror.ErrNotFound, "no such feature: "+req.Argument, nil)
	}
	return []byte(v), nil
}

func (c *Core) vmFeatureSet(_ context.Context, req Request) ([]byte, error) {
	d, err := c.domain(req)
	if err != nil {
		return nil, err
	}
	d.Features.Set(req.Argument, string(req.Payload))
	return nil, nil
}

func (c *Core) vmFeatureList(_ context.Context, req Request) ([]byte, error) {
	d, err := c.domain(req)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	for k := range d.Features.List() {
		sb.WriteString(k)
		sb.WriteByte('\n')
	}
	return []byte(sb.String()), nil
}

func (c *Core) vmTagList(_ context.Context, req Request) ([]byte, error) {
	d, err := c.domain(req)
	if err != nil {
		return nil, err
	}
	return []byte(strings.Join(d.Tags.List(), "\n")), nil
}

func (c *Core) vmTagAdd(_ context.Context, req Request) ([]byte, error) {
	d, err := c.domain(req)
	if err != nil {
		return nil, err
	}
	d.Tags.Add(req.Argument)
	return nil, nil
}

func (c *Core) vmTagRemove(_ context.Context, req Request) ([]byte, error) {
	d, err := c.domain(req)
	if err != nil {
		return nil, err
	}
	d.Tags.Remove(req.Argument)
	return nil, nil
}

func (c *Core) vmFirewallGet(_ context.Context, req Request) ([]byte, error) {
	d, err := c.domain(req)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "policy=%s\n", d.Firewall.Policy)
	for _, r := range d.Firewall.List() {
		fmt.Fprintf(&sb, "action=%s dsthost=%s proto=%s dstports=%s\n", r.Action, r.DstHost, r.Proto, r.DstPorts)
	}
	return []byte(sb.String()), nil
}

func (c *Core) vmFirewallSet(_ context.Context, req Request) ([]byte, error) {
	d, err := c.domain(req)
	if err != nil {
		return nil, err
	}
	// The wire format for a full rule-table replacement is out of scope
	// here (policy parsing lives in pkg/qrexecpolicy for the read-only
	// admin-permission path); admin.vm.firewall.Set only flips the
	// default policy via argument in {"accept","drop"}.
	action := firewall.ActionAccept
	if req.Argument == "drop" {
		action = firewall.ActionDrop
	}
	d.Firewall.SetPolicy(action)
	return nil, nil
}

// volume resolves req.Dest to its Domain and req.Argument to one of that
// Domain's storage.Volume slots, shared by every admin.vm.volume.* handler.
func (c *Core) volume(req Request) (*domain.Domain, storage.Volume, error) {
	d, err := c.domain(req)
	if err != nil {
		return nil, nil, err
	}
	vol, ok := d.Volumes[req.Argument]
	if !ok {
		return nil, nil, apierror.WrapError(apierror.ErrNotFound, "no such volume: "+req.Argument, nil)
	}
	return d, vol, nil
}

func (c *Core) vmVolumeList(_ context.Context, req Request) ([]byte, error) {
	d, err := c.domain(req)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(d.Volumes))
	for name := range d.Volumes {
		names = append(names, name)
	}
	return []byte(strings.Join(names, "\n")), nil
}

func (c *Core) vmVolumeInfo(_ context.Context, req Request) ([]byte, error) {
	_, vol, err := c.volume(req)
	if err != nil {
		return nil, err
	}
	cfg := vol.Config()
	var sb strings.Builder
	fmt.Fprintf(&sb, "pool=%s\n", cfg.Pool)
	fmt.Fprintf(&sb, "vid=%s\n", cfg.VID)
	fmt.Fprintf(&sb, "size=%d\n", cfg.Size)
	fmt.Fprintf(&sb, "rw=%t\n", cfg.RW)
	fmt.Fprintf(&sb, "snap_on_start=%t\n", cfg.SnapOnStart)
	fmt.Fprintf(&sb, "save_on_stop=%t\n", cfg.SaveOnStop)
	fmt.Fprintf(&sb, "ephemeral=%t\n", cfg.Ephemeral)
	fmt.Fprintf(&sb, "revisions_to_keep=%d\n", cfg.RevisionsToKeep)
	fmt.Fprintf(&sb, "source=%s\n", cfg.Source)
	fmt.Fprintf(&sb, "is_dirty=%t\n", vol.IsDirty())
	fmt.Fprintf(&sb, "is_outdated=%t\n", vol.IsOutdated())
	return []byte(sb.String()), nil
}

// vmVolumeResize implements admin.vm.volume.Resize: argument names the
// volume, payload carries the new size in bytes as decimal ASCII.
func (c *Core) vmVolumeResize(ctx context.Context, req Request) ([]byte, error) {
	_, vol, err := c.volume(req)
	if err != nil {
		return nil, err
	}
	size, perr := strconv.ParseUint(strings.TrimSpace(string(req.Payload)), 10, 64)
	if perr != nil {
		return nil, apierror.WrapError(apierror.ErrInvalidValue, "invalid size: "+string(req.Payload), perr)
	}
	return nil, vol.Resize(ctx, size)
}

// vmVolumeRevert implements admin.vm.volume.Revert: argument names the
// volume, payload carries the revision id to restore.
func (c *Core) vmVolumeRevert(ctx context.Context, req Request) ([]byte, error) {
	_, vol, err := c.volume(req)
	if err != nil {
		return nil, err
	}
	return nil, vol.Revert(ctx, strings.TrimSpace(string(req.Payload)))
}

// vmVolumeImport implements admin.vm.volume.Import: argument names the
// volume, payload carries the raw replacement image content.
func (c *Core) vmVolumeImport(ctx context.Context, req Request) ([]byte, error) {
	_, vol, err := c.volume(req)
	if err != nil {
		return nil, err
	}
	w, err := vol.ImportData(ctx)
	if err != nil {
		return nil, err
	}
	_, werr := w.Write(req.Payload)
	cerr := w.Close()
	if werr != nil || cerr != nil {
		_ = vol.ImportDataEnd(ctx, false)
		if werr != nil {
			return nil, apierror.WrapError(apierror.ErrStorage, "import volume "+req.Argument, werr)
		}
		return nil, apierror.WrapError(apierror.ErrStorage, "import volume "+req.Argument, cerr)
	}
	return nil, vol.ImportDataEnd(ctx, true)
}

// vmVolumeExport implements admin.vm.volume.Export: argument names the
// volume; the response payload is the volume's raw current content.
func (c *Core) vmVolumeExport(ctx context.Context, req Request) ([]byte, error) {
	_, vol, err := c.volume(req)
	if err != nil {
		return nil, err
	}
	r, err := vol.Export(ctx)
	if err != nil {
		return nil, err
	}
	data, rerr := io.ReadAll(r)
	_ = r.Close()
	if endErr := vol.ExportEnd(ctx); endErr != nil && rerr == nil {
		rerr = endErr
	}
	if rerr != nil {
		return nil, apierror.WrapError(apierror.ErrStorage, "export volume "+req.Argument, rerr)
	}
	return data, nil
}

func (c *Core) poolList(_ context.Context, _ Request) ([]byte, error) {
	return []byte(strings.Join(c.App.Pools.List(), "\n")), nil
}

func (c *Core) labelList(_ context.Context, _ Request) ([]byte, error) {
	var sb strings.Builder
	for _, l := range c.App.Labels.List() {
		fmt.Fprintf(&sb, "%s %s %d\n", l.Name, l.Color, l.Index)
	}
	return []byte(sb.String()), nil
}
