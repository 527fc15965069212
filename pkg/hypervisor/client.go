package hypervisor

import (
	"fmt"
	"net/url"

	"github.com/digitalocean/go-libvirt"
)

// Client owns the raw libvirt connection. Everything domain-lifecycle
// code needs from it goes through Adapter (adapter.go), which talks
// directly to conn — Qubes' own storage/device/firewall model (see
// internal/qubesd/storage, internal/qubesd/device) replaces the
// storage-pool/node-device/capabilities surface libvirt itself exposes,
// so Client stays deliberately thin rather than re-exposing all of it.
type Client struct {
	conn *libvirt.Libvirt
}

// New connects to the local system libvirt daemon over its default
// QEMU/KVM URI.
func New() (*Client, error) {
	uri, _ := url.Parse(string(libvirt.QEMUSystem))
	l, err := libvirt.ConnectToURI(uri)
	if err != nil {
		return nil, fmt.Errorf("connect to libvirt: %w", err)
	}
	return &Client{conn: l}, nil
}
