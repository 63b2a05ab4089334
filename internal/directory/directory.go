// Package directory maintains the bi-directional node-name ⇄ address
// map, refreshed from supervisor payloads.
package directory

import (
	"sync"

	"github.com/NaeuralEdgeProtocol/go-client/bc"
)

type Directory struct {
	mu        sync.RWMutex
	addrByKey map[string]string // node name → address
	nameByKey map[string]string // address → node name
}

func New() *Directory {
	return &Directory{
		addrByKey: make(map[string]string),
		nameByKey: make(map[string]string),
	}
}

// Refresh replaces the mapping. nodes and addresses are parallel slices;
// extra entries on either side are ignored.
func (d *Directory) Refresh(nodes, addresses []string) {
	n := len(nodes)
	if len(addresses) < n {
		n = len(addresses)
	}
	addrByKey := make(map[string]string, n)
	nameByKey := make(map[string]string, n)
	for i := 0; i < n; i++ {
		addrByKey[nodes[i]] = addresses[i]
		nameByKey[addresses[i]] = nodes[i]
	}
	d.mu.Lock()
	d.addrByKey = addrByKey
	d.nameByKey = nameByKey
	d.mu.Unlock()
}

// Update merges a node → address dictionary into the mapping.
func (d *Directory) Update(byName map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, addr := range byName {
		d.addrByKey[name] = addr
		d.nameByKey[addr] = name
	}
}

// Address resolves a node name or address to an address. Inputs that
// already carry the canonical prefix pass through unchanged; unknown
// names resolve to "".
func (d *Directory) Address(nodeOrAddress string) string {
	if bc.IsAddress(nodeOrAddress) {
		return nodeOrAddress
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.addrByKey[nodeOrAddress]
}

// NodeName returns the last-known human name for an address, or "".
func (d *Directory) NodeName(address string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.nameByKey[address]
}

// Snapshot returns the mapping as parallel slices, for broadcasting.
func (d *Directory) Snapshot() (nodes, addresses []string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	nodes = make([]string, 0, len(d.addrByKey))
	addresses = make([]string, 0, len(d.addrByKey))
	for name, addr := range d.addrByKey {
		nodes = append(nodes, name)
		addresses = append(addresses, addr)
	}
	return nodes, addresses
}
