// Package netmon enumerates host IPv6 addresses and watches for address
// changes over rtnetlink.
package netmon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/psaab/slaacd/pkg/slaac"
)

// DefaultDebounce is how long Watch waits for address events to settle.
const DefaultDebounce = time.Second

// Monitor wraps a netlink handle.
type Monitor struct {
	nlh      *netlink.Handle
	debounce time.Duration
}

// New opens a netlink handle in the current namespace.
func New() (*Monitor, error) {
	nlh, err := netlink.NewHandle()
	if err != nil {
		return nil, fmt.Errorf("netlink handle: %w", err)
	}
	return &Monitor{nlh: nlh, debounce: DefaultDebounce}, nil
}

// Close releases the netlink handle.
func (m *Monitor) Close() {
	if m.nlh != nil {
		m.nlh.Close()
	}
}

// EnumerateIPv6 calls fn for every IPv6 address on every interface. It
// implements slaac.Enumerator.
func (m *Monitor) EnumerateIPv6(fn func(slaac.LocalAddr)) error {
	addrs, err := m.nlh.AddrList(nil, netlink.FAMILY_V6)
	if err != nil {
		return fmt.Errorf("list IPv6 addresses: %w", err)
	}
	for _, a := range addrs {
		if la, ok := localAddr(a); ok {
			fn(la)
		}
	}
	return nil
}

func localAddr(a netlink.Addr) (slaac.LocalAddr, bool) {
	if a.IPNet == nil {
		return slaac.LocalAddr{}, false
	}
	ip, ok := netip.AddrFromSlice(a.IP)
	if !ok || !ip.Is6() || ip.Is4In6() {
		return slaac.LocalAddr{}, false
	}
	ones, bits := a.Mask.Size()
	if bits != 128 {
		return slaac.LocalAddr{}, false
	}
	return slaac.LocalAddr{
		Addr:      ip,
		PrefixLen: ones,
		Scope:     a.Scope,
		IfIndex:   a.LinkIndex,
		Tentative: a.Flags&unix.IFA_F_TENTATIVE != 0,
	}, true
}

// LinkIndex resolves an interface name to its index.
func (m *Monitor) LinkIndex(name string) (int, error) {
	link, err := m.nlh.LinkByName(name)
	if err != nil {
		return 0, fmt.Errorf("link %s: %w", name, err)
	}
	return link.Attrs().Index, nil
}

// LinkName resolves an interface index to its name, or "" if unknown.
func (m *Monitor) LinkName(index int) string {
	link, err := m.nlh.LinkByIndex(index)
	if err != nil {
		return ""
	}
	return link.Attrs().Name
}

// Watch subscribes to IPv6 address events and calls onChange once events
// have been quiet for the debounce interval. It returns when ctx is done.
func (m *Monitor) Watch(ctx context.Context, onChange func()) error {
	updates := make(chan netlink.AddrUpdate, 64)
	done := make(chan struct{})
	defer close(done)

	err := netlink.AddrSubscribeWithOptions(updates, done, netlink.AddrSubscribeOptions{
		ErrorCallback: func(err error) {
			slog.Warn("netmon: address subscription error", "err", err)
		},
	})
	if err != nil {
		return fmt.Errorf("subscribe to address events: %w", err)
	}

	d := newDebouncer(m.debounce, onChange)
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return errors.New("netmon: address subscription closed")
			}
			if u.LinkAddress.IP.To4() != nil {
				continue
			}
			slog.Debug("netmon: address event",
				"address", u.LinkAddress.String(), "ifindex", u.LinkIndex, "new", u.NewAddr)
			d.trigger()
		}
	}
}

// debouncer collapses a burst of triggers into one call of fn.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu    sync.Mutex
	timer *time.Timer
}

func newDebouncer(delay time.Duration, fn func()) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
