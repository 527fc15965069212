// Package ext implements the extension system: class-level handlers
// attached to Domain/Application events at construction time, the same
// constructor-injection discipline the teacher package applies to its
// services (every service.NewXxxService(deps...) takes explicit
// collaborators, never a global). Extensions here attach via
// property.RegisterExtensionHandler, which already encodes the
// source-then-extension-then-user firing order; Registry exists purely
// for introspection (listing what's installed), not as its own dispatch
// mechanism.
package ext

import "reflect"

// Entry describes one installed extension hook, kept only so
// admin.vm.List-adjacent debug tooling (and tests) can enumerate what's
// wired without re-deriving it from property's internal class-handler
// table.
type Entry struct {
	Name       string
	HolderType reflect.Type
	Event      string
}

// Registry accumulates Entries as built-in extensions register
// themselves; it never influences dispatch.
type Registry struct {
	entries []Entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry { return &Registry{} }

// record appends an Entry; called by each built-in extension's Install.
func (r *Registry) record(name string, holderType reflect.Type, event string) {
	r.entries = append(r.entries, Entry{Name: name, HolderType: holderType, Event: event})
}

// List returns every installed extension entry, in install order.
func (r *Registry) List() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
