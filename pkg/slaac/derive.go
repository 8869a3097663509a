package slaac

import (
	"net"
	"net/netip"
	"time"

	"github.com/insomniacslk/dhcp/iana"
	"github.com/mdlayher/eui64"
)

// OnLeaseUpdated recomputes the SLAAC addresses of l on every naming context
// bound to the lease's interface. Addresses that are recomputed keep their
// probe state; new ones start pending with a probe due at now; addresses no
// longer implied are dropped.
//
// Leases with neither a hardware address nor a client identifier, and
// leases without an interface or hostname, are left as they are.
func (e *Engine) OnLeaseUpdated(l *Lease, now time.Time) {
	if (len(l.HWAddr) == 0 && len(l.ClientID) == 0) || l.IfIndex == 0 || l.Hostname == "" {
		return
	}

	old := l.addrs
	cur := make(map[netip.Addr]*Address)
	id, idOK := interfaceID(l)

	for _, ctx := range e.contexts {
		if !ctx.Naming || ctx.IfIndex != l.IfIndex || !idOK {
			continue
		}
		addr, ok := deriveAddr(ctx.Start, id)
		if !ok {
			continue
		}
		if _, dup := cur[addr]; dup {
			continue
		}
		if a, ok := old[addr]; ok {
			delete(old, addr)
			cur[addr] = a
			continue
		}
		cur[addr] = &Address{
			Addr:   addr,
			Source: ctx.Local,
			probe:  &pending{attempt: 1, next: now},
		}
		e.log.Debug("slaac: tracking address",
			"hostname", l.Hostname, "address", addr, "interface", ctx.Interface)
		e.emit(Event{Kind: EventTrack, LeaseKey: l.Key, Hostname: l.Hostname, Address: addr, Interface: ctx.Interface})
		e.adv.StartUnsolicited(ctx)
	}

	for addr := range old {
		e.log.Debug("slaac: dropping address", "hostname", l.Hostname, "address", addr)
		e.emit(Event{Kind: EventDrop, LeaseKey: l.Key, Hostname: l.Hostname, Address: addr})
	}
	l.addrs = cur
}

// RederiveAll runs OnLeaseUpdated for every lease in the table.
func (e *Engine) RederiveAll(now time.Time) {
	for _, key := range e.LeaseKeys() {
		e.OnLeaseUpdated(e.leases[key], now)
	}
}

// interfaceID returns the 6 or 8 byte link-layer identifier the client
// forms its SLAAC interface identifier from.
func interfaceID(l *Lease) (net.HardwareAddr, bool) {
	switch {
	case len(l.HWAddr) == 6 && (l.HWType == iana.HWTypeEthernet || l.HWType == iana.HWTypeIEEE802):
		return l.HWAddr, true
	case len(l.HWAddr) == 8 && l.HWType == iana.HWTypeEUI64:
		return l.HWAddr, true
	case len(l.ClientID) == 9 && l.ClientID[0] == byte(iana.HWTypeEUI64) && l.HWType == iana.HWTypeIEEE1394:
		return net.HardwareAddr(l.ClientID[1:]), true
	}
	return nil, false
}

// deriveAddr places the modified EUI-64 form of id in the low 64 bits of
// the /64 holding base.
func deriveAddr(base netip.Addr, id net.HardwareAddr) (netip.Addr, bool) {
	if !base.Is6() || base.Is4In6() {
		return netip.Addr{}, false
	}
	prefix := netip.PrefixFrom(base.WithZone(""), 64).Masked().Addr()
	ip, err := eui64.ParseMAC(net.IP(prefix.AsSlice()), id)
	if err != nil {
		return netip.Addr{}, false
	}
	return netip.AddrFromSlice(ip)
}
