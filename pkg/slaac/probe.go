package slaac

import (
	"time"

	"github.com/decred/dcrd/crypto/rand"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"
)

const (
	baseJitter = 3 * time.Second
	lateJitter = 16 * time.Second

	// Attempts after this one get the extra lateJitter.
	lateAttempt = 4

	// 2^32s already exceeds a century; larger shifts would overflow.
	maxShift = 32
)

// Sweep sends every probe that is due at now and reschedules it. It returns
// the earliest time a probe is due next, or the zero time when nothing is
// pending (including when no context has naming enabled).
func (e *Engine) Sweep(now time.Time) time.Time {
	if !e.hasNaming() {
		return time.Time{}
	}
	for e.pingID == 0 {
		e.pingID = uint16(rand.Uint32N(1 << 16))
	}
	if e.rebuild {
		e.RebuildSubnetMap()
	}

	var next time.Time
	for _, l := range e.leases {
		for _, a := range l.addrs {
			p := a.probe
			if p == nil {
				continue
			}
			if !p.next.After(now) {
				e.send(l, a)
				p.next = p.next.Add(e.backoff(p.attempt))
				p.attempt++
			}
			if next.IsZero() || p.next.Before(next) {
				next = p.next
			}
		}
	}
	return next
}

func (e *Engine) backoff(attempt uint32) time.Duration {
	shift := attempt - 1
	if shift > maxShift {
		shift = maxShift
	}
	d := time.Duration(1)<<shift*time.Second + e.jitter(baseJitter)
	if attempt > lateAttempt {
		d += e.jitter(lateJitter)
	}
	return d
}

func (e *Engine) send(l *Lease, a *Address) {
	b, err := echoRequest(e.pingID, a.probe.attempt)
	if err != nil {
		e.stats.SendErrors++
		e.log.Debug("slaac: marshal echo request", "err", err)
		return
	}
	if err := e.sender.Send(b, a.Source, a.Addr, l.IfIndex); err != nil {
		e.stats.SendErrors++
		e.log.Debug("slaac: probe send failed",
			"address", a.Addr, "ifindex", l.IfIndex, "err", err)
		return
	}
	e.stats.ProbesSent++
}

// echoRequest builds an ICMPv6 echo request without payload. The checksum is
// left to the kernel.
func echoRequest(id uint16, seq uint32) ([]byte, error) {
	m := icmp.Message{
		Type: ipv6.ICMPTypeEchoRequest,
		Code: 0,
		Body: &icmp.Echo{ID: int(id), Seq: int(uint16(seq))},
	}
	return m.Marshal(nil)
}
