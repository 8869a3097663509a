// Package icmp6 owns the raw ICMPv6 socket used to probe SLAAC addresses.
// Writes are fire-and-forget; a reader goroutine forwards echo replies.
package icmp6

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"
)

// Reply is one echo reply received on the socket.
type Reply struct {
	From    netip.Addr
	IfIndex int
	IfName  string
	Payload []byte // ICMPv6 message starting at the type byte
}

// Conn is a raw ICMPv6 socket that only delivers echo replies.
type Conn struct {
	pc     *icmp.PacketConn
	p6     *ipv6.PacketConn
	ifName func(int) string
}

// Listen opens the socket. ifName resolves interface indexes for Reply.IfName
// and may be nil. Requires CAP_NET_RAW.
func Listen(ifName func(int) string) (*Conn, error) {
	pc, err := icmp.ListenPacket("ip6:ipv6-icmp", "::")
	if err != nil {
		return nil, fmt.Errorf("icmp6 listen: %w", err)
	}
	p6 := pc.IPv6PacketConn()

	var filter ipv6.ICMPFilter
	filter.SetAll(true)
	filter.Accept(ipv6.ICMPTypeEchoReply)
	if err := p6.SetICMPFilter(&filter); err != nil {
		pc.Close()
		return nil, fmt.Errorf("icmp6 filter: %w", err)
	}
	if err := p6.SetControlMessage(ipv6.FlagInterface|ipv6.FlagSrc, true); err != nil {
		pc.Close()
		return nil, fmt.Errorf("icmp6 control message: %w", err)
	}
	if ifName == nil {
		ifName = func(int) string { return "" }
	}
	return &Conn{pc: pc, p6: p6, ifName: ifName}, nil
}

// Send writes b to dst. A valid src selects the source address and ifIndex,
// when nonzero, the outgoing interface. The kernel fills in the checksum.
func (c *Conn) Send(b []byte, src, dst netip.Addr, ifIndex int) error {
	cm, to := writeArgs(src, dst, ifIndex)
	if _, err := c.p6.WriteTo(b, cm, to); err != nil {
		return fmt.Errorf("icmp6 send to %s: %w", dst, err)
	}
	return nil
}

func writeArgs(src, dst netip.Addr, ifIndex int) (*ipv6.ControlMessage, *net.IPAddr) {
	cm := &ipv6.ControlMessage{IfIndex: ifIndex}
	if src.IsValid() {
		cm.Src = net.IP(src.WithZone("").AsSlice())
	}
	return cm, &net.IPAddr{IP: net.IP(dst.WithZone("").AsSlice())}
}

// Run reads replies and delivers them on out until ctx is cancelled or the
// socket fails. It closes the socket on return.
func (c *Conn) Run(ctx context.Context, out chan<- Reply) error {
	stop := context.AfterFunc(ctx, func() { c.pc.Close() })
	defer stop()
	defer c.pc.Close()

	buf := make([]byte, 1500)
	for {
		n, cm, peer, err := c.p6.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("icmp6 read: %w", err)
		}
		r, ok := c.reply(buf[:n], cm, peer)
		if !ok {
			continue
		}
		select {
		case out <- r:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Conn) reply(b []byte, cm *ipv6.ControlMessage, peer net.Addr) (Reply, bool) {
	ipa, ok := peer.(*net.IPAddr)
	if !ok {
		return Reply{}, false
	}
	from, ok := netip.AddrFromSlice(ipa.IP)
	if !ok {
		return Reply{}, false
	}
	r := Reply{From: from.Unmap(), Payload: append([]byte(nil), b...)}
	if cm != nil {
		r.IfIndex = cm.IfIndex
		r.IfName = c.ifName(cm.IfIndex)
	}
	if r.IfName == "" {
		r.IfName = ipa.Zone
	}
	return r, true
}

// Close closes the socket. Run returns once it has been closed.
func (c *Conn) Close() error {
	return c.pc.Close()
}
