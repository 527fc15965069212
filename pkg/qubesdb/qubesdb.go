// Package qubesdb defines the narrow client contract qubesd uses to talk
// to the dom0<->guest key-value bus. The real qubesdb transport lives
// outside this module (see the external-interfaces section of the
// design); qubesd only ever writes a handful of well-known keys at
// domain start.
package qubesdb

import "context"

// Client is the minimal surface qubesd needs: write per-domain keys at
// start, delete them at stop, and list for debugging/tests. A production
// build wires this to the real qubesdb socket; tests use the in-memory
// implementation below.
type Client interface {
	Write(ctx context.Context, domain, key, value string) error
	Read(ctx context.Context, domain, key string) (string, error)
	Delete(ctx context.Context, domain, key string) error
	List(ctx context.Context, domain string) (map[string]string, error)
}

// WriteDomainStartKeys writes the standard set of keys a domain expects
// to find at /qubes-ip, /qubes-netmask, ... once qrexec is ready.
func WriteDomainStartKeys(ctx context.Context, c Client, domainName string, keys map[string]string) error {
	for k, v := range keys {
		if err := c.Write(ctx, domainName, k, v); err != nil {
			return err
		}
	}
	return nil
}
