package ext

import (
	"github.com/qubesd/qubesd/internal/qubesd/domain"
	"github.com/qubesd/qubesd/pkg/property"
)

// maxTemplateChainDepth bounds EffectiveFeature's walk up the template
// chain, mirroring domain.maxNetVMChainLength's cycle-safety margin.
const maxTemplateChainDepth = 16

// EffectiveFeature resolves key for d the way a TemplateVM's service.*
// features are meant to reach its children: read-through, not
// copy-on-template-change (Open Question #2's resolution — see
// DESIGN.md). d's own feature store always wins when the key is set
// there at all, including set-to-empty, which is a deliberate override
// rather than "fall through to the template." Only when d has never set
// key does the lookup continue to d's template, and so on up the chain.
func EffectiveFeature(col *domain.Collection, d *domain.Domain, key string) (string, bool) {
	cur := d
	for i := 0; i < maxTemplateChainDepth; i++ {
		if v, ok := cur.Features.Get(key); ok {
			return v, true
		}
		tmplName, err := cur.Get("template")
		if err != nil {
			return "", false
		}
		name, _ := tmplName.(string)
		if name == "" {
			return "", false
		}
		next, err := col.ByName(name)
		if err != nil {
			return "", false
		}
		cur = next
	}
	return "", false
}

// InstallServices attaches the services extension: a class-level handler
// answering the guest-originated "features-request" event (spec.md §4.5)
// by looking up each untrusted_* requested key through EffectiveFeature
// instead of the Domain's own feature store directly, so a child sees
// its template's services without anything having copied them onto the
// child at clone time.
func InstallServices(reg *Registry, col *domain.Collection) {
	property.RegisterExtensionHandler(domain.Type(), "features-request", func(h *property.Holder, event string, args property.Args) (any, error) {
		d, ok := holderDomain(h, col)
		if !ok {
			return nil, nil
		}
		requested, _ := args["untrusted_requested"].([]string)
		resolved := make(property.Args, len(requested))
		for _, key := range requested {
			if v, ok := EffectiveFeature(col, d, key); ok {
				resolved[key] = v
			}
		}
		return resolved, nil
	})
	reg.record("services", domain.Type(), "features-request")
}

// holderDomain recovers the concrete *domain.Domain a property.Holder
// event fired on. Handlers only ever receive the embedded *Holder, so
// the extension looks its owner up by matching pointer identity against
// the Collection (O(n) but events are not a hot path at this cardinality).
func holderDomain(h *property.Holder, col *domain.Collection) (*domain.Domain, bool) {
	for _, d := range col.List() {
		if &d.Holder == h {
			return d, true
		}
	}
	return nil, false
}
