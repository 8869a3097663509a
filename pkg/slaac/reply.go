package slaac

import (
	"net/netip"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"
)

// HandleICMPv6Reply decodes an ICMPv6 message received from sender on
// ifName and passes echo replies to HandleReply. Anything else is dropped.
func (e *Engine) HandleICMPv6Reply(sender netip.Addr, payload []byte, ifName string) {
	m, err := icmp.ParseMessage(ipv6.ICMPTypeEchoReply.Protocol(), payload)
	if err != nil || m.Type != ipv6.ICMPTypeEchoReply {
		e.stats.RepliesIgnored++
		return
	}
	echo, ok := m.Body.(*icmp.Echo)
	if !ok {
		e.stats.RepliesIgnored++
		return
	}
	e.HandleReply(sender, uint16(echo.ID), ifName)
}

// HandleReply confirms every pending address equal to sender, on every
// lease, when id is the engine's echo identifier. The DNS notifier is then
// told whether anything changed; a reply carrying another identifier
// changes no state and is reported as no change.
func (e *Engine) HandleReply(sender netip.Addr, id uint16, ifName string) {
	if e.pingID == 0 || id != e.pingID {
		e.stats.RepliesIgnored++
		e.log.Debug("slaac: ignoring echo reply", "address", sender, "id", id)
		e.notifier.LeaseDNSChanged(false)
		return
	}
	sender = sender.WithZone("")

	changed := false
	for _, key := range e.LeaseKeys() {
		l := e.leases[key]
		a, ok := l.addrs[sender]
		if !ok || a.Confirmed() {
			continue
		}
		a.probe = nil
		changed = true
		e.stats.Confirmed++
		e.log.Info(string(EventConfirm),
			"interface", ifName, "address", sender, "hostname", l.Hostname)
		e.emit(Event{Kind: EventConfirm, LeaseKey: l.Key, Hostname: l.Hostname, Address: sender, Interface: ifName})
	}
	e.notifier.LeaseDNSChanged(changed)
}
