package icmp6

import (
	"context"
	"net"
	"net/netip"
	"os"
	"testing"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"
)

func TestWriteArgs(t *testing.T) {
	src := netip.MustParseAddr("fe80::1%eth0")
	dst := netip.MustParseAddr("2001:db8::ff:fe00:1")

	cm, to := writeArgs(src, dst, 7)
	if cm.IfIndex != 7 {
		t.Errorf("IfIndex = %d, want 7", cm.IfIndex)
	}
	if !cm.Src.Equal(net.ParseIP("fe80::1")) {
		t.Errorf("Src = %v", cm.Src)
	}
	if !to.IP.Equal(net.ParseIP("2001:db8::ff:fe00:1")) || to.Zone != "" {
		t.Errorf("dst = %v", to)
	}

	cm, _ = writeArgs(netip.Addr{}, dst, 0)
	if cm.Src != nil || cm.IfIndex != 0 {
		t.Errorf("unset source produced %+v", cm)
	}
}

func TestReply(t *testing.T) {
	c := &Conn{ifName: func(i int) string {
		if i == 3 {
			return "trust0"
		}
		return ""
	}}
	payload := []byte{129, 0, 0, 0, 0x12, 0x34, 0, 1}

	r, ok := c.reply(payload, &ipv6.ControlMessage{IfIndex: 3},
		&net.IPAddr{IP: net.ParseIP("2001:db8::1")})
	if !ok {
		t.Fatal("reply rejected")
	}
	if r.From != netip.MustParseAddr("2001:db8::1") || r.IfIndex != 3 || r.IfName != "trust0" {
		t.Errorf("reply = %+v", r)
	}
	payload[0] = 0
	if r.Payload[0] != 129 {
		t.Error("payload must be copied out of the read buffer")
	}

	r, ok = c.reply(payload, nil, &net.IPAddr{IP: net.ParseIP("fe80::2"), Zone: "eth9"})
	if !ok || r.IfName != "eth9" {
		t.Errorf("zone fallback: %+v ok=%v", r, ok)
	}

	if _, ok := c.reply(payload, nil, &net.UDPAddr{}); ok {
		t.Error("non-IP peer accepted")
	}
}

// TestLoopbackEcho needs CAP_NET_RAW and an IPv6 loopback; it is skipped
// otherwise.
func TestLoopbackEcho(t *testing.T) {
	c, err := Listen(nil)
	if err != nil {
		if os.IsPermission(err) {
			t.Skipf("raw socket unavailable: %v", err)
		}
		t.Skipf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	replies := make(chan Reply, 4)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, replies) }()

	id := os.Getpid() & 0xffff
	msg := icmp.Message{
		Type: ipv6.ICMPTypeEchoRequest,
		Body: &icmp.Echo{ID: id, Seq: 1},
	}
	b, err := msg.Marshal(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Send(b, netip.Addr{}, netip.IPv6Loopback(), 0); err != nil {
		t.Skipf("send to ::1: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case r := <-replies:
			m, err := icmp.ParseMessage(ipv6.ICMPTypeEchoReply.Protocol(), r.Payload)
			if err != nil || m.Type != ipv6.ICMPTypeEchoReply {
				t.Fatalf("non-reply delivered: %v %v", m, err)
			}
			if echo := m.Body.(*icmp.Echo); echo.ID != id {
				continue
			}
			if r.From != netip.IPv6Loopback() {
				t.Errorf("reply from %v", r.From)
			}
			cancel()
			if err := <-done; err != nil {
				t.Errorf("Run returned %v", err)
			}
			return
		case <-deadline:
			t.Skip("no echo reply from ::1")
		}
	}
}
