// Package dnsserver answers AAAA queries for the SLAAC addresses that have
// been confirmed for DHCP clients, under the configured local domain.
package dnsserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync/atomic"

	"github.com/miekg/dns"

	"github.com/psaab/slaacd/pkg/config"
)

const defaultTTL = 60

// Server is an authoritative responder for <hostname>.<domain>. Lookups
// read an immutable host table swapped in by SetHosts, so ServeDNS never
// blocks the goroutine that publishes updates.
type Server struct {
	listen string
	domain string // fully qualified, lower case; "." when unset
	ttl    uint32
	log    *slog.Logger

	hosts   atomic.Pointer[map[string][]netip.Addr]
	queries atomic.Uint64
}

// New creates a Server for cfg.
func New(cfg *config.DNSConfig, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{domain: ".", ttl: defaultTTL, log: log}
	if cfg != nil {
		s.listen = cfg.Listen
		if cfg.Domain != "" {
			s.domain = dns.Fqdn(strings.ToLower(cfg.Domain))
		}
		if cfg.TTL > 0 {
			s.ttl = uint32(cfg.TTL)
		}
	}
	empty := map[string][]netip.Addr{}
	s.hosts.Store(&empty)
	return s
}

// SetHosts publishes hostname -> confirmed addresses. Names are qualified
// with the server's domain.
func (s *Server) SetHosts(hosts map[string][]netip.Addr) {
	m := make(map[string][]netip.Addr, len(hosts))
	for name, addrs := range hosts {
		if name == "" || len(addrs) == 0 {
			continue
		}
		m[s.qualify(name)] = append([]netip.Addr(nil), addrs...)
	}
	s.hosts.Store(&m)
	s.log.Debug("dns hosts updated", "names", len(m))
}

// Lookup returns the addresses published for name, which may be relative
// to the domain or fully qualified.
func (s *Server) Lookup(name string) []netip.Addr {
	name = strings.ToLower(name)
	if !dns.IsFqdn(name) {
		name = s.qualify(name)
	}
	return (*s.hosts.Load())[name]
}

// Queries returns the number of queries answered.
func (s *Server) Queries() uint64 { return s.queries.Load() }

func (s *Server) qualify(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if s.domain == "." {
		return host + "."
	}
	return host + "." + s.domain
}

// ServeDNS implements dns.Handler.
func (s *Server) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	s.queries.Add(1)
	msg := new(dns.Msg)
	msg.SetReply(req)
	msg.Authoritative = true

	if len(req.Question) != 1 {
		msg.Rcode = dns.RcodeFormatError
		s.write(w, msg)
		return
	}
	q := req.Question[0]
	name := strings.ToLower(q.Name)

	switch {
	case q.Qclass != dns.ClassINET:
		msg.Rcode = dns.RcodeRefused
	case !dns.IsSubDomain(s.domain, name):
		msg.Authoritative = false
		msg.Rcode = dns.RcodeRefused
	default:
		addrs, ok := (*s.hosts.Load())[name]
		if !ok {
			msg.Rcode = dns.RcodeNameError
			break
		}
		if q.Qtype != dns.TypeAAAA && q.Qtype != dns.TypeANY {
			break // name exists, no data of this type
		}
		for _, a := range addrs {
			msg.Answer = append(msg.Answer, &dns.AAAA{
				Hdr: dns.RR_Header{
					Name:   q.Name,
					Rrtype: dns.TypeAAAA,
					Class:  dns.ClassINET,
					Ttl:    s.ttl,
				},
				AAAA: net.IP(a.AsSlice()),
			})
		}
	}
	s.write(w, msg)
}

func (s *Server) write(w dns.ResponseWriter, msg *dns.Msg) {
	if err := w.WriteMsg(msg); err != nil {
		s.log.Debug("dns write failed", "err", err)
	}
}

// ListenAndServe serves UDP and TCP on the configured address until ctx is
// done. Bind errors are returned before anything is served.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.listen == "" {
		return errors.New("dns: no listen address")
	}
	pc, err := net.ListenPacket("udp", s.listen)
	if err != nil {
		return fmt.Errorf("dns listen udp %s: %w", s.listen, err)
	}
	defer pc.Close()
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("dns listen tcp %s: %w", s.listen, err)
	}
	defer ln.Close()

	servers := []*dns.Server{
		{PacketConn: pc, Handler: s},
		{Listener: ln, Handler: s},
	}
	errc := make(chan error, len(servers))
	for _, srv := range servers {
		go func() { errc <- srv.ActivateAndServe() }()
	}
	s.log.Info("dns server listening", "addr", s.listen, "domain", s.domain)

	select {
	case <-ctx.Done():
		err = nil
	case err = <-errc:
		if err != nil {
			err = fmt.Errorf("dns serve: %w", err)
		}
	}
	for _, srv := range servers {
		srv.Shutdown()
	}
	return err
}
