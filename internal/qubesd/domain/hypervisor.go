package domain

import "context"

// Hypervisor is the narrow surface the lifecycle procedures need from the
// virtualization backend: domain-level operations only, with storage and
// devices driven through internal/qubesd/storage and the admin API
// instead. pkg/hypervisor.Adapter implements it over a libvirt connection
// (pkg/hypervisor.Client); tests use a hand-written fake.
type Hypervisor interface {
	// Define (re)creates the domain definition from its generated XML
	// without starting it.
	Define(ctx context.Context, name string, xml string) error
	// Start boots an already-defined, halted domain.
	Start(ctx context.Context, name string) error
	// GracefulShutdown requests an ACPI/qrexec-mediated shutdown; it does
	// not block until the domain actually halts.
	GracefulShutdown(ctx context.Context, name string) error
	// Kill destroys the domain immediately, without guest cooperation.
	Kill(ctx context.Context, name string) error
	// Pause/Unpause suspend/resume a running domain in place.
	Pause(ctx context.Context, name string) error
	Unpause(ctx context.Context, name string) error
	// IsRunning reports the hypervisor's live view of domain state,
	// used to detect out-of-band state changes (e.g. guest-initiated
	// shutdown) and by the shutdown-timeout-then-kill escalation.
	IsRunning(ctx context.Context, name string) (bool, error)
	// WaitQrexecReady blocks until the qrexec agent inside the domain
	// has signalled readiness, or ctx is done.
	WaitQrexecReady(ctx context.Context, name string) error
}
