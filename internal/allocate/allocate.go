// Package allocate implements the Address Allocator: given the overlay
// subnet and the current peer set, it deterministically picks a free
// host address for this node.
package allocate

import (
	"net/netip"

	"github.com/wiremesh/agent/internal/coorderr"
	"github.com/wiremesh/agent/internal/registry"
)

// Allocate picks a tunnel address for this node. If override is valid
// (non-zero), it is used after validating it lies inside subnet. If
// override is the zero value, Allocate returns the first host address
// in subnet's ascending iteration order not already occupied by peers.
// It fails with a validation error if override is out of range, or a
// no-free-address error if the subnet is exhausted.
func Allocate(subnet netip.Prefix, peers map[string]registry.PeerRecord, override netip.Addr) (netip.Addr, error) {
	subnet = subnet.Masked()

	if override.IsValid() {
		if !subnet.Contains(override) {
			return netip.Addr{}, coorderr.Newf(coorderr.ClassValidation, "allocate",
				"address %s is outside network %s", override, subnet)
		}
		return override, nil
	}

	occupied, err := occupiedAddresses(subnet, peers)
	if err != nil {
		return netip.Addr{}, err
	}

	for addr := firstHost(subnet); subnet.Contains(addr); addr = addr.Next() {
		if isNetworkOrBroadcast(subnet, addr) {
			continue
		}
		if !occupied[addr] {
			return addr, nil
		}
	}

	return netip.Addr{}, coorderr.Newf(coorderr.ClassValidation, "allocate",
		"no free address in subnet %s", subnet)
}

// occupiedAddresses parses every peer's address (a /32 or /128 CIDR)
// and returns the set of addresses already in use.
func occupiedAddresses(subnet netip.Prefix, peers map[string]registry.PeerRecord) (map[netip.Addr]bool, error) {
	occupied := make(map[netip.Addr]bool, len(peers))
	for _, rec := range peers {
		p, err := netip.ParsePrefix(rec.Address)
		if err != nil {
			return nil, coorderr.Newf(coorderr.ClassDecode, "allocate",
				"peer %s has invalid address %q: %v", rec.PublicKey, rec.Address, err)
		}
		occupied[p.Addr()] = true
	}
	_ = subnet
	return occupied, nil
}

// firstHost returns the first candidate host address in subnet: the
// network address itself for /31 and /127 (point-to-point, no
// network/broadcast reservation), otherwise one past the network
// address.
func firstHost(subnet netip.Prefix) netip.Addr {
	base := subnet.Addr()
	if subnet.Bits() >= hostReservationThreshold(subnet) {
		return base
	}
	return base.Next()
}

// hostReservationThreshold returns the prefix length at and above which
// no network/broadcast address is reserved (/31 for IPv4, /127 for IPv6).
func hostReservationThreshold(subnet netip.Prefix) int {
	if subnet.Addr().Is4() {
		return 31
	}
	return 127
}

// isNetworkOrBroadcast reports whether addr is the reserved network or
// broadcast address of subnet. For /31 and /127 subnets there is no
// reservation.
func isNetworkOrBroadcast(subnet netip.Prefix, addr netip.Addr) bool {
	if subnet.Bits() >= hostReservationThreshold(subnet) {
		return false
	}
	if addr == subnet.Addr() {
		return true
	}
	last := lastAddress(subnet)
	return addr == last
}

// lastAddress returns the highest address in subnet (the broadcast
// address, for IPv4).
func lastAddress(subnet netip.Prefix) netip.Addr {
	base := subnet.Addr().As16()
	bits := subnet.Bits()
	if subnet.Addr().Is4() {
		bits += 96 // offset into the 16-byte form for the embedded IPv4
	}

	hostBits := 128 - bits
	out := base
	i := 15
	remaining := hostBits
	for remaining > 0 && i >= 0 {
		if remaining >= 8 {
			out[i] = 0xff
			remaining -= 8
		} else {
			out[i] |= byte(0xff >> (8 - remaining))
			remaining = 0
		}
		i--
	}

	addr := netip.AddrFrom16(out)
	if subnet.Addr().Is4() {
		return addr.Unmap()
	}
	return addr
}
