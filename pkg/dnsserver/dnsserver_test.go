package dnsserver

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/psaab/slaacd/pkg/config"
)

func startUDP(t *testing.T, s *Server) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: s, NotifyStartedFunc: func() { close(started) }}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("dns server did not start")
	}
	return pc.LocalAddr().String()
}

func query(t *testing.T, addr, name string, qtype uint16) *dns.Msg {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)
	c := &dns.Client{Timeout: 2 * time.Second}
	r, _, err := c.Exchange(m, addr)
	if err != nil {
		t.Fatalf("exchange %s: %v", name, err)
	}
	return r
}

func TestServeDNS(t *testing.T) {
	s := New(&config.DNSConfig{Domain: "LAN", TTL: 30}, nil)
	s.SetHosts(map[string][]netip.Addr{
		"laptop": {netip.MustParseAddr("2001:db8:1::200:ff:fe00:1"), netip.MustParseAddr("2001:db8:2::200:ff:fe00:1")},
		"idle":   nil,
	})
	addr := startUDP(t, s)

	r := query(t, addr, "Laptop.lan.", dns.TypeAAAA)
	if r.Rcode != dns.RcodeSuccess || !r.Authoritative {
		t.Fatalf("rcode = %s aa = %v", dns.RcodeToString[r.Rcode], r.Authoritative)
	}
	if len(r.Answer) != 2 {
		t.Fatalf("got %d answers", len(r.Answer))
	}
	aaaa := r.Answer[0].(*dns.AAAA)
	if aaaa.AAAA.String() != "2001:db8:1::200:ff:fe00:1" || aaaa.Hdr.Ttl != 30 {
		t.Errorf("answer = %v", aaaa)
	}

	tests := []struct {
		name  string
		qtype uint16
		rcode int
	}{
		{"laptop.lan.", dns.TypeA, dns.RcodeSuccess}, // no data
		{"idle.lan.", dns.TypeAAAA, dns.RcodeNameError},
		{"nobody.lan.", dns.TypeAAAA, dns.RcodeNameError},
		{"example.com.", dns.TypeAAAA, dns.RcodeRefused},
	}
	for _, tt := range tests {
		r := query(t, addr, tt.name, tt.qtype)
		if r.Rcode != tt.rcode || len(r.Answer) != 0 {
			t.Errorf("%s %s: rcode %s, %d answers", tt.name, dns.TypeToString[tt.qtype], dns.RcodeToString[r.Rcode], len(r.Answer))
		}
	}
	if s.Queries() != 5 {
		t.Errorf("queries = %d, want 5", s.Queries())
	}
}

func TestSetHostsReplaces(t *testing.T) {
	s := New(&config.DNSConfig{Domain: "lan"}, nil)
	a := netip.MustParseAddr("2001:db8::1")
	s.SetHosts(map[string][]netip.Addr{"laptop": {a}})
	if got := s.Lookup("laptop"); len(got) != 1 || got[0] != a {
		t.Fatalf("Lookup = %v", got)
	}
	if got := s.Lookup("LAPTOP.lan."); len(got) != 1 {
		t.Errorf("fqdn Lookup = %v", got)
	}
	s.SetHosts(nil)
	if got := s.Lookup("laptop"); got != nil {
		t.Errorf("stale entry %v", got)
	}
}

func TestNoDomain(t *testing.T) {
	s := New(nil, nil)
	s.SetHosts(map[string][]netip.Addr{"laptop": {netip.MustParseAddr("2001:db8::1")}})
	if got := s.Lookup("laptop."); len(got) != 1 {
		t.Errorf("Lookup = %v", got)
	}
	if err := s.ListenAndServe(context.Background()); err == nil {
		t.Error("ListenAndServe without an address should fail")
	}
}

func TestListenAndServe(t *testing.T) {
	s := New(&config.DNSConfig{Listen: "127.0.0.1:0", Domain: "lan"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ListenAndServe = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not return")
	}
}
