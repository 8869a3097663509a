// Package slaac tracks the SLAAC addresses implied by DHCP leases and
// confirms that they are in use with ICMPv6 echo probes.
//
// An Engine has no internal locking. Every method must be called from the
// single goroutine that owns it; other goroutines read published Snapshots.
package slaac

import (
	"log/slog"
	"net"
	"net/netip"
	"sort"
	"time"

	"github.com/decred/dcrd/crypto/rand"
	"github.com/insomniacslk/dhcp/iana"
)

// LocalAddr is one live IPv6 address configured on the host.
type LocalAddr struct {
	Addr      netip.Addr
	PrefixLen int
	Scope     int
	IfIndex   int
	Tentative bool // duplicate address detection not finished; still bound
}

// Enumerator lists the live IPv6 addresses of the host.
type Enumerator interface {
	EnumerateIPv6(fn func(LocalAddr)) error
}

// Sender transmits a raw ICMPv6 message. Send must not wait for delivery.
type Sender interface {
	Send(b []byte, src, dst netip.Addr, ifIndex int) error
}

// Advertiser schedules an immediate out-of-cycle Router Advertisement burst.
type Advertiser interface {
	StartUnsolicited(ctx *Context)
}

// DNSNotifier is told after every matching echo reply whether any address
// became confirmed.
type DNSNotifier interface {
	LeaseDNSChanged(changed bool)
}

// Context is an advertised IPv6 prefix.
type Context struct {
	Interface string // configured RA interface, informational
	Start     netip.Addr
	End       netip.Addr
	PrefixLen int
	Naming    bool // ra-names: derive and confirm SLAAC names

	// Written by the subnet map only. IfIndex 0 means unbound.
	IfIndex int
	Local   netip.Addr
}

// Prefix returns the context prefix.
func (c *Context) Prefix() netip.Prefix {
	p, _ := c.Start.Prefix(c.PrefixLen)
	return p
}

// Lease is the part of a DHCP lease the engine needs.
type Lease struct {
	Key      string
	HWAddr   net.HardwareAddr
	HWType   iana.HWType
	ClientID []byte
	Hostname string
	IfIndex  int // interface the lease was last seen on

	addrs map[netip.Addr]*Address
}

// Addresses returns the tracked SLAAC addresses ordered by address.
func (l *Lease) Addresses() []*Address {
	out := make([]*Address, 0, len(l.addrs))
	for _, a := range l.addrs {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr.Less(out[j].Addr) })
	return out
}

// Address is one derived SLAAC address of a lease.
type Address struct {
	Addr   netip.Addr
	Source netip.Addr // local address probes are sent from

	probe *pending // nil once confirmed
}

type pending struct {
	attempt uint32 // 1 = first probe not sent yet
	next    time.Time
}

// Confirmed reports whether an echo reply has been seen for the address.
func (a *Address) Confirmed() bool { return a.probe == nil }

// Attempt returns the sequence number of the next probe, or 0 once confirmed.
func (a *Address) Attempt() uint32 {
	if a.probe == nil {
		return 0
	}
	return a.probe.attempt
}

// NextProbe returns when the next probe is due, or the zero time once
// confirmed.
func (a *Address) NextProbe() time.Time {
	if a.probe == nil {
		return time.Time{}
	}
	return a.probe.next
}

// Options configures an Engine. Nil collaborators are replaced by no-ops.
type Options struct {
	Enumerator Enumerator
	Sender     Sender
	Advertiser Advertiser
	Notifier   DNSNotifier
	Logger     *slog.Logger

	// Jitter returns a uniformly random duration in [0,n).
	Jitter func(n time.Duration) time.Duration

	// Events, if set, observes address lifecycle changes.
	Events func(Event)
}

// EventKind classifies an Event.
type EventKind string

const (
	EventTrack   EventKind = "SLAAC-TRACK"
	EventConfirm EventKind = "SLAAC-CONFIRM"
	EventDrop    EventKind = "SLAAC-DROP"
)

// Event reports a change to one tracked address.
type Event struct {
	Kind      EventKind
	LeaseKey  string
	Hostname  string
	Address   netip.Addr
	Interface string
}

// Stats counts engine activity.
type Stats struct {
	ProbesSent     uint64 `json:"probes_sent"`
	SendErrors     uint64 `json:"send_errors"`
	Confirmed      uint64 `json:"confirmed"`
	RepliesIgnored uint64 `json:"replies_ignored"`
	MapRebuilds    uint64 `json:"map_rebuilds"`
}

// Engine owns the SLAAC tracking state.
type Engine struct {
	enum     Enumerator
	sender   Sender
	adv      Advertiser
	notifier DNSNotifier
	log      *slog.Logger
	jitter   func(time.Duration) time.Duration
	events   func(Event)

	contexts []*Context
	leases   map[string]*Lease

	pingID  uint16
	rebuild bool
	stats   Stats
}

// New creates an Engine with no contexts and no leases.
func New(opts Options) *Engine {
	e := &Engine{
		enum:     opts.Enumerator,
		sender:   opts.Sender,
		adv:      opts.Advertiser,
		notifier: opts.Notifier,
		log:      opts.Logger,
		jitter:   opts.Jitter,
		events:   opts.Events,
		leases:   make(map[string]*Lease),
	}
	if e.enum == nil {
		e.enum = noop{}
	}
	if e.sender == nil {
		e.sender = noop{}
	}
	if e.adv == nil {
		e.adv = noop{}
	}
	if e.notifier == nil {
		e.notifier = noop{}
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.jitter == nil {
		e.jitter = rand.Duration
	}
	return e
}

func (e *Engine) emit(ev Event) {
	if e.events != nil {
		e.events(ev)
	}
}

type noop struct{}

func (noop) EnumerateIPv6(func(LocalAddr)) error            { return nil }
func (noop) Send([]byte, netip.Addr, netip.Addr, int) error { return nil }
func (noop) StartUnsolicited(*Context)                      {}
func (noop) LeaseDNSChanged(bool)                           {}

// SetContexts replaces the configured contexts. Bindings are recomputed
// before the next sweep.
func (e *Engine) SetContexts(ctxs []*Context) {
	e.contexts = ctxs
	e.rebuild = true
}

// Contexts returns the configured contexts.
func (e *Engine) Contexts() []*Context { return e.contexts }

// PingID returns the echo identifier, or 0 if no sweep has run yet.
func (e *Engine) PingID() uint16 { return e.pingID }

// Stats returns the activity counters.
func (e *Engine) Stats() Stats { return e.stats }

// AddLease inserts l into the lease table, replacing any lease with the
// same key. Call OnLeaseUpdated to derive its addresses.
func (e *Engine) AddLease(l *Lease) {
	if l.addrs == nil {
		l.addrs = make(map[netip.Addr]*Address)
	}
	e.leases[l.Key] = l
}

// Lease returns the lease with the given key, or nil.
func (e *Engine) Lease(key string) *Lease { return e.leases[key] }

// LeaseKeys returns the keys of all leases in the table.
func (e *Engine) LeaseKeys() []string {
	keys := make([]string, 0, len(e.leases))
	for k := range e.leases {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RemoveLease drops a lease together with its addresses and pending probes.
// It reports whether the lease held a confirmed address.
func (e *Engine) RemoveLease(key string) (hadConfirmed bool) {
	l, ok := e.leases[key]
	if !ok {
		return false
	}
	for _, a := range l.addrs {
		if a.Confirmed() {
			hadConfirmed = true
		}
		e.emit(Event{Kind: EventDrop, LeaseKey: key, Hostname: l.Hostname, Address: a.Addr})
	}
	delete(e.leases, key)
	l.addrs = nil
	return hadConfirmed
}

func (e *Engine) hasNaming() bool {
	for _, c := range e.contexts {
		if c.Naming {
			return true
		}
	}
	return false
}

// ConfirmedHosts maps each hostname to its confirmed SLAAC addresses.
func (e *Engine) ConfirmedHosts() map[string][]netip.Addr {
	hosts := make(map[string][]netip.Addr)
	for _, key := range e.LeaseKeys() {
		l := e.leases[key]
		for _, a := range l.Addresses() {
			if !a.Confirmed() {
				continue
			}
			hosts[l.Hostname] = appendUnique(hosts[l.Hostname], a.Addr)
		}
	}
	return hosts
}

func appendUnique(s []netip.Addr, a netip.Addr) []netip.Addr {
	for _, x := range s {
		if x == a {
			return s
		}
	}
	return append(s, a)
}
