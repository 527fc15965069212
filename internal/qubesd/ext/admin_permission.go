package ext

import "github.com/qubesd/qubesd/pkg/qrexecpolicy"

// AdminPermission is the admin-permission extension: it implements
// admin.PermissionChecker (structurally — this package intentionally
// does not import internal/qubesd/admin, to keep ext's dependency graph
// one-directional) by consulting a qrexecpolicy.PolicySet loaded from
// /etc/qubes/policy.d/*.policy at startup. Method-level policy (which
// Admin methods even participate in qrexec-style source/target checks,
// versus ones that are always dom0-only) is out of scope here — the
// spec names the file format and the "external policy engine decides"
// contract; this wires that contract's read side in, denying when no
// rule matches, exactly as qrexecpolicy.PolicySet.Decide already does
// for qrexec calls generally.
type AdminPermission struct {
	policy *qrexecpolicy.PolicySet
}

// NewAdminPermission wraps an already-loaded policy set.
func NewAdminPermission(policy *qrexecpolicy.PolicySet) *AdminPermission {
	return &AdminPermission{policy: policy}
}

// Allow reports whether source may invoke method against dest. method is
// accepted but not yet used to select per-method policy namespaces (the
// core qrexecpolicy format doesn't key on RPC method name, only on
// source/target Domain); it is kept in the signature so a future,
// method-aware policy source can be swapped in without an interface
// change.
func (p *AdminPermission) Allow(source, _ string, dest string) bool {
	return p.policy.Decide(source, dest) == qrexecpolicy.ActionAllow
}

// Install records this extension's presence in reg for introspection.
func (p *AdminPermission) Install(reg *Registry) {
	reg.record("admin-permission", nil, "admin.Dispatch")
}
