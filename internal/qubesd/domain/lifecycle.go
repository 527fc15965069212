package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qubesd/qubesd/internal/qubesd/device"
	"github.com/qubesd/qubesd/pkg/apierror"
	"github.com/qubesd/qubesd/pkg/property"
	"github.com/qubesd/qubesd/pkg/qubesdb"
)

// DefaultQrexecReadyTimeout is the documented default for step 9 of the
// start procedure.
const DefaultQrexecReadyTimeout = 60 * time.Second

// MemoryBalancer is the narrow contract to the external memory-balancer
// daemon (qmemman-equivalent): request a memory grant at start, release it
// at stop. Refusal at start must unwind every side effect already applied.
type MemoryBalancer interface {
	Request(ctx context.Context, domainName string, memoryKB uint64) error
	Release(ctx context.Context, domainName string)
}

// XMLGenerator renders the libvirt-like domain definition for d, searching
// the per-domain and per-template overrides under the store directory,
// then the system by-name and default overrides, then the built-in
// template (pkg/hypervisor.domainxml implements this against text/template).
type XMLGenerator interface {
	Generate(d *Domain) (string, error)
}

// Runtime bundles the external collaborators the lifecycle procedures need.
// One Runtime is shared by every Domain in a Collection.
type Runtime struct {
	Col      *Collection
	HV       Hypervisor
	Mem      MemoryBalancer
	XML      XMLGenerator
	DB       qubesdb.Client
	QrexecTO time.Duration
}

func (r *Runtime) qrexecTimeout() time.Duration {
	if r.QrexecTO > 0 {
		return r.QrexecTO
	}
	return DefaultQrexecReadyTimeout
}

// rollback accumulates undo actions so Start can unwind every side effect
// it already applied before returning an error, per the "start failures are
// atomic" invariant.
type rollback struct {
	actions []func()
}

func (r *rollback) add(fn func()) { r.actions = append(r.actions, fn) }

func (r *rollback) run() {
	for i := len(r.actions) - 1; i >= 0; i-- {
		r.actions[i]()
	}
}

// Start runs the 11-step start procedure. d must be Halted; the caller does
// not need to hold d.Lock() beforehand. Start holds d.Lock() only while it
// checks Halted, fires domain-pre-start and moves d to Starting; the
// remaining steps, qrexec wait included, run without it (the Starting
// state makes a second Start or a Shutdown fail), and the lock is taken
// again to set Running, or Halted on failure.
func (rt *Runtime) Start(ctx context.Context, d *Domain) error {
	d.Lock()
	if d.state != StateHalted {
		err := apierror.WrapError(apierror.ErrWrongState,
			fmt.Sprintf("domain %s is not halted", d.Name), nil)
		d.Unlock()
		return err
	}

	if _, err := d.FireSync(true, "domain-pre-start", property.Args{"name": d.Name}); err != nil {
		d.Unlock()
		return err
	}
	if err := d.setState(StateStarting); err != nil {
		d.Unlock()
		return err
	}
	d.Unlock()

	var rb rollback
	fail := func(err error) error {
		rb.run()
		d.Lock()
		d.state = StateHalted
		d.Unlock()
		return err
	}

	// Step 3: resolve and start the netvm chain leaf-to-root.
	chain, err := NetVMChain(rt.Col, d)
	if err != nil {
		return fail(err)
	}
	for _, nv := range chain {
		if nv.State() == StateRunning {
			continue
		}
		if err := rt.Start(ctx, nv); err != nil {
			return fail(apierror.WrapError(apierror.ErrWrongState,
				fmt.Sprintf("netvm %s failed to start: %v", nv.Name, err), err))
		}
	}

	// Step 4: satisfy required device assignments.
	if err := rt.satisfyDevices(d); err != nil {
		return fail(err)
	}

	// Step 5: prepare volumes via the Volume layer.
	started := make([]string, 0, len(d.Volumes))
	for name, vol := range d.Volumes {
		if err := vol.Start(ctx); err != nil {
			return fail(apierror.WrapError(apierror.ErrStorage,
				fmt.Sprintf("volume %s: %v", name, err), err))
		}
		n := name
		v := vol
		rb.add(func() { _ = v.Stop(context.Background()) })
		started = append(started, n)
	}

	// Step 6: request memory from the external balancer.
	memKB, _ := d.Get("memory")
	kb, _ := memKB.(uint64)
	if rt.Mem != nil {
		if err := rt.Mem.Request(ctx, d.Name, kb); err != nil {
			return fail(apierror.WrapError(apierror.ErrMemory,
				fmt.Sprintf("balancer refused allocation for %s: %v", d.Name, err), err))
		}
		rb.add(func() { rt.Mem.Release(context.Background(), d.Name) })
	}

	// Step 7: generate domain XML.
	xmlDoc, err := rt.XML.Generate(d)
	if err != nil {
		return fail(apierror.WrapError(apierror.ErrInternal, "domain xml generation: "+err.Error(), err))
	}

	// Step 8: define+start via the hypervisor.
	if err := rt.HV.Define(ctx, d.Name, xmlDoc); err != nil {
		return fail(apierror.WrapError(apierror.ErrHypervisor, "define: "+err.Error(), err))
	}
	if err := rt.HV.Start(ctx, d.Name); err != nil {
		return fail(apierror.WrapError(apierror.ErrHypervisor, "start: "+err.Error(), err))
	}
	rb.add(func() { _ = rt.HV.Kill(context.Background(), d.Name) })

	// Step 9: wait for qrexec readiness.
	qctx, cancel := context.WithTimeout(ctx, rt.qrexecTimeout())
	err = rt.HV.WaitQrexecReady(qctx, d.Name)
	cancel()
	if err != nil {
		return fail(apierror.WrapError(apierror.ErrHypervisor,
			fmt.Sprintf("domain %s: qrexec not ready: %v", d.Name, err), err))
	}

	// Step 10: write the standard qubesdb entries.
	if rt.DB != nil {
		keys := rt.qubesdbKeys(d)
		if err := qubesdb.WriteDomainStartKeys(ctx, rt.DB, d.Name, keys); err != nil {
			return fail(apierror.WrapError(apierror.ErrInternal, "qubesdb write: "+err.Error(), err))
		}
	}

	d.Lock()
	if err := d.setState(StateRunning); err != nil {
		d.Unlock()
		return fail(err)
	}
	d.Unlock()

	// Step 11.
	_ = d.FireAsync(ctx, "domain-start", property.Args{"name": d.Name})
	_ = d.FireAsync(ctx, "domain-started", property.Args{"name": d.Name})
	rt.markDependentVolumesOutdated(d)
	return nil
}

// markDependentVolumesOutdated flags every other already-running domain's
// volume that was snapshotted from one of d's volumes (Config().Source,
// "pool:vid"): d having just (re)started means those copies no longer
// reflect d's current state until their own owning domain restarts.
func (rt *Runtime) markDependentVolumesOutdated(d *Domain) {
	vids := make(map[string]bool, len(d.Volumes))
	for _, vol := range d.Volumes {
		vids[vol.Config().VID] = true
	}
	for _, other := range rt.Col.List() {
		if other == d || other.State() != StateRunning {
			continue
		}
		for _, vol := range other.Volumes {
			parts := strings.SplitN(vol.Config().Source, ":", 2)
			if len(parts) == 2 && vids[parts[1]] {
				vol.MarkOutdated()
			}
		}
	}
}

func (rt *Runtime) qubesdbKeys(d *Domain) map[string]string {
	keys := map[string]string{"type": string(d.Variant)}
	if ip, err := d.Get("ip"); err == nil {
		if s, ok := ip.(string); ok && s != "" {
			keys["ip"] = s
		}
	}
	if nv, err := d.Get("netvm"); err == nil {
		if s, ok := nv.(string); ok && s != "" {
			keys["netvm"] = s
		}
	}
	for k, v := range d.Features.List() {
		keys["feature."+k] = v
	}
	return keys
}

// satisfyDevices walks d's required device assignments of every class; a
// required device already assigned to another running domain fails the
// start. manual/auto assignments are not acted on here and never fail
// start.
func (rt *Runtime) satisfyDevices(d *Domain) error {
	for class, assignments := range d.Devices {
		for _, a := range assignments {
			if a.Mode != device.ModeRequired {
				continue
			}
			if rt.deviceAttachedElsewhere(d, class, a.Device) {
				return apierror.WrapError(apierror.ErrInUse,
					fmt.Sprintf("device %s:%s already attached to another domain", a.Device.Port.PortID, a.Device.DeviceID), nil)
			}
		}
	}
	return nil
}

func (rt *Runtime) deviceAttachedElsewhere(self *Domain, class string, dev device.VirtualDevice) bool {
	for _, other := range rt.Col.List() {
		if other == self {
			continue
		}
		for _, a := range other.Devices[class] {
			if a.Device == dev && other.State() == StateRunning {
				return true
			}
		}
	}
	return false
}

// stop runs the shared tail of shutdown/kill: per-volume stop, revision
// rotation (handled inside Volume.Stop), memory release, domain-shutdown.
func (rt *Runtime) stop(ctx context.Context, d *Domain) {
	for name, vol := range d.Volumes {
		if err := vol.Stop(ctx); err != nil {
			_ = name // best-effort: a stuck volume must not block the rest of the stop path
		}
	}
	if rt.Mem != nil {
		rt.Mem.Release(ctx, d.Name)
	}
	d.Lock()
	d.state = StateHalted
	d.Unlock()
	_ = d.FireAsync(ctx, "domain-shutdown", property.Args{"name": d.Name})
}

// Shutdown requests an orderly guest shutdown and waits up to timeout
// before escalating to Kill. With timeout <= 0 it returns as soon as the
// request is accepted; the stop path is then not run and d stays Halting.
func (rt *Runtime) Shutdown(ctx context.Context, d *Domain, timeout time.Duration) error {
	d.Lock()
	if !CanTransition(d.state, StateHalting) {
		err := apierror.WrapError(apierror.ErrWrongState,
			fmt.Sprintf("cannot shut down domain %s from state %s", d.Name, d.state), nil)
		d.Unlock()
		return err
	}
	d.state = StateHalting
	d.Unlock()

	if err := rt.HV.GracefulShutdown(ctx, d.Name); err != nil {
		return apierror.WrapError(apierror.ErrHypervisor, "shutdown: "+err.Error(), err)
	}
	if timeout <= 0 {
		return nil
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		running, err := rt.HV.IsRunning(ctx, d.Name)
		if err == nil && !running {
			rt.stop(ctx, d)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return rt.Kill(ctx, d)
}

// Kill destroys the domain immediately and runs the stop path.
func (rt *Runtime) Kill(ctx context.Context, d *Domain) error {
	d.Lock()
	d.state = StateDying
	d.Unlock()

	if err := rt.HV.Kill(ctx, d.Name); err != nil {
		return apierror.WrapError(apierror.ErrHypervisor, "kill: "+err.Error(), err)
	}
	rt.stop(ctx, d)
	return nil
}

// Pause suspends a running domain in place.
func (rt *Runtime) Pause(ctx context.Context, d *Domain) error {
	d.Lock()
	if err := d.setState(StatePaused); err != nil {
		d.Unlock()
		return err
	}
	d.Unlock()
	if err := rt.HV.Pause(ctx, d.Name); err != nil {
		return apierror.WrapError(apierror.ErrHypervisor, "pause: "+err.Error(), err)
	}
	return nil
}

// Unpause resumes a paused domain.
func (rt *Runtime) Unpause(ctx context.Context, d *Domain) error {
	d.Lock()
	if err := d.setState(StateRunning); err != nil {
		d.Unlock()
		return err
	}
	d.Unlock()
	if err := rt.HV.Unpause(ctx, d.Name); err != nil {
		return apierror.WrapError(apierror.ErrHypervisor, "unpause: "+err.Error(), err)
	}
	return nil
}
