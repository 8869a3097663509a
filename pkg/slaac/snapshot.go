package slaac

import (
	"net/netip"
	"time"
)

// Snapshot is an immutable copy of the engine state for readers on other
// goroutines.
type Snapshot struct {
	Taken    time.Time               `json:"taken"`
	PingID   uint16                  `json:"ping_id"`
	Contexts []ContextStatus         `json:"contexts"`
	Leases   []LeaseStatus           `json:"leases"`
	Stats    Stats                   `json:"stats"`
	Hosts    map[string][]netip.Addr `json:"-"`
}

type ContextStatus struct {
	Interface string       `json:"interface,omitempty"`
	Prefix    netip.Prefix `json:"prefix"`
	Naming    bool         `json:"ra_names"`
	IfIndex   int          `json:"ifindex"`
	Local     netip.Addr   `json:"local,omitzero"`
}

type LeaseStatus struct {
	Key       string          `json:"key"`
	Hostname  string          `json:"hostname"`
	HWAddr    string          `json:"hwaddr,omitempty"`
	IfIndex   int             `json:"ifindex"`
	Addresses []AddressStatus `json:"addresses"`
}

type AddressStatus struct {
	Address   netip.Addr `json:"address"`
	Source    netip.Addr `json:"source,omitzero"`
	Confirmed bool       `json:"confirmed"`
	Attempt   uint32     `json:"attempt,omitempty"`
	NextProbe time.Time  `json:"next_probe,omitzero"`
}

// Snapshot copies the current state. Leases are ordered by key.
func (e *Engine) Snapshot(now time.Time) *Snapshot {
	s := &Snapshot{
		Taken:  now,
		PingID: e.pingID,
		Stats:  e.stats,
		Hosts:  e.ConfirmedHosts(),
		Leases: make([]LeaseStatus, 0, len(e.leases)),
	}
	for _, c := range e.contexts {
		s.Contexts = append(s.Contexts, ContextStatus{
			Interface: c.Interface,
			Prefix:    c.Prefix(),
			Naming:    c.Naming,
			IfIndex:   c.IfIndex,
			Local:     c.Local,
		})
	}
	for _, key := range e.LeaseKeys() {
		l := e.leases[key]
		ls := LeaseStatus{
			Key:      l.Key,
			Hostname: l.Hostname,
			IfIndex:  l.IfIndex,
		}
		if len(l.HWAddr) > 0 {
			ls.HWAddr = l.HWAddr.String()
		}
		for _, a := range l.Addresses() {
			ls.Addresses = append(ls.Addresses, AddressStatus{
				Address:   a.Addr,
				Source:    a.Source,
				Confirmed: a.Confirmed(),
				Attempt:   a.Attempt(),
				NextProbe: a.NextProbe(),
			})
		}
		s.Leases = append(s.Leases, ls)
	}
	return s
}

// Pending counts the addresses still awaiting confirmation.
func (s *Snapshot) Pending() (n int) {
	for _, l := range s.Leases {
		for _, a := range l.Addresses {
			if !a.Confirmed {
				n++
			}
		}
	}
	return n
}

// ConfirmedCount counts the confirmed addresses.
func (s *Snapshot) ConfirmedCount() (n int) {
	for _, l := range s.Leases {
		for _, a := range l.Addresses {
			if a.Confirmed {
				n++
			}
		}
	}
	return n
}
