package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/qubesd/qubesd/pkg/apierror"
)

// Scope restricts which dest values a method accepts, mirroring spec.md
// §4.4's "dom0 alone / any Domain / a class" distinction.
type Scope int

const (
	// ScopeGlobal methods ignore dest entirely (admin.vm.List, admin.Events).
	ScopeGlobal Scope = iota
	// ScopeDom0 methods require dest == "dom0" (admin.pool.*, admin.vm.Create).
	ScopeDom0
	// ScopeDomain methods require dest to name an existing Domain.
	ScopeDomain
)

// HandlerFunc implements one Admin API method's business logic. It
// receives the already-scope-and-permission-checked Request and returns
// the raw output bytes that become the response's payload.
type HandlerFunc func(ctx context.Context, req Request) ([]byte, error)

// MethodSpec is what Dispatcher.Register attaches to a method name.
type MethodSpec struct {
	// ReadOnly methods are never vetoed by in-process write invariants,
	// only by the permission checker; informational for the policy layer
	// and for httpview's read-only surface to decide what it may proxy.
	ReadOnly bool
	Scope    Scope
	Handler  HandlerFunc
}

// PermissionChecker decides whether source may invoke method against
// dest; wired to the qrexec policy-file reader by the admin-permission
// extension. A nil checker (used in tests) allows everything.
type PermissionChecker interface {
	Allow(source, method, dest string) bool
}

// DomainExister reports whether dest names a known Domain, so
// ScopeDomain methods can be rejected before the handler runs.
type DomainExister interface {
	DomainExists(name string) bool
}

// Dispatcher is the Admin API's method registry and request router.
type Dispatcher struct {
	methods map[string]MethodSpec
	perm    PermissionChecker
	domains DomainExister
}

// NewDispatcher returns an empty Dispatcher. perm may be nil (allow all,
// used by tests and by a standalone httpview read-only client); domains
// is consulted for ScopeDomain methods and may also be nil if the caller
// never registers one (every ScopeDomain call is then rejected as
// NotFound, which is a configuration bug worth surfacing loudly).
func NewDispatcher(perm PermissionChecker, domains DomainExister) *Dispatcher {
	return &Dispatcher{methods: make(map[string]MethodSpec), perm: perm, domains: domains}
}

// Register attaches spec to method, e.g. "admin.vm.List". Re-registering
// an existing name panics: it can only happen from a programming error in
// package init, never from runtime input.
func (d *Dispatcher) Register(method string, spec MethodSpec) {
	if _, exists := d.methods[method]; exists {
		panic("admin: method already registered: " + method)
	}
	d.methods[method] = spec
}

// Dispatch routes req to its registered handler, enforcing scope and
// permission, and converts any returned *apierror.Error (or panic) into
// the wire exception frame. It never itself returns a Go error — the
// Response always carries the full outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = EncodeException("Internal", "", fmt.Sprintf("admin: handler panic: %v", r))
		}
	}()

	spec, ok := d.methods[req.Method]
	if !ok {
		return EncodeException("NotFound", "", "no such method: "+req.Method)
	}

	switch spec.Scope {
	case ScopeDom0:
		if req.Dest != "dom0" {
			return EncodeException("NotAllowed", "", req.Method+" only targets dom0")
		}
	case ScopeDomain:
		if d.domains == nil || !d.domains.DomainExists(req.Dest) {
			return EncodeException("NotFound", "", "no such domain: "+req.Dest)
		}
	}

	if d.perm != nil && !d.perm.Allow(req.Source, req.Method, req.Dest) {
		return EncodeException("NotAllowed", "", req.Source+" may not invoke "+req.Method+" on "+req.Dest)
	}

	out, err := spec.Handler(ctx, req)
	if err == nil {
		return EncodeSuccess(out)
	}

	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return EncodeException(apiErr.Code, "", apiErr.Message)
	}
	return EncodeException("Internal", "", err.Error())
}
