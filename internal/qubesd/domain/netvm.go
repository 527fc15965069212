package domain

import (
	"fmt"

	"github.com/qubesd/qubesd/pkg/apierror"
)

const maxNetVMChainLength = 16

// NetVMChain resolves d's netvm references leaf-to-root (d itself is not
// included), validating the invariant: the chain terminates within
// maxNetVMChainLength hops, and every non-leaf member has
// provides_network=true. Returns the chain in start order (the furthest
// ancestor first), matching the start procedure's "start each netvm
// leaf-to-root before the domain itself" step.
func NetVMChain(col *Collection, d *Domain) ([]*Domain, error) {
	var chain []*Domain
	seen := map[int]struct{}{d.QID: {}}

	cur := d
	for len(chain) <= maxNetVMChainLength {
		netvmName, err := cur.Get("netvm")
		if err != nil {
			return nil, err
		}
		name, _ := netvmName.(string)
		if name == "" {
			break
		}
		next, err := col.ByName(name)
		if err != nil {
			return nil, apierror.WrapError(apierror.ErrInvalidValue,
				fmt.Sprintf("domain %s: netvm %q does not exist", cur.Name, name), nil)
		}
		if _, cycle := seen[next.QID]; cycle {
			return nil, apierror.WrapError(apierror.ErrInvalidValue,
				fmt.Sprintf("domain %s: netvm chain has a cycle at %s", d.Name, next.Name), nil)
		}
		if !CapabilitiesFor(next.Variant).CanProvideNetwork {
			return nil, apierror.WrapError(apierror.ErrInvalidValue,
				fmt.Sprintf("domain %s: netvm %s does not provide network", cur.Name, next.Name), nil)
		}
		provides, _ := next.Get("provides_network")
		if p, ok := provides.(bool); ok && !p {
			return nil, apierror.WrapError(apierror.ErrInvalidValue,
				fmt.Sprintf("domain %s: netvm %s has provides_network=false", cur.Name, next.Name), nil)
		}

		seen[next.QID] = struct{}{}
		chain = append(chain, next)
		cur = next
	}
	if len(chain) > maxNetVMChainLength {
		return nil, apierror.WrapError(apierror.ErrInvalidValue,
			fmt.Sprintf("domain %s: netvm chain exceeds %d hops", d.Name, maxNetVMChainLength), nil)
	}

	// Reverse into start order: furthest ancestor (closest to "no netvm")
	// first, d's direct netvm last.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
