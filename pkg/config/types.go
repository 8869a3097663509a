package config

import (
	"fmt"
	"net/netip"
)

// Config is the compiled slaacd configuration.
type Config struct {
	System    SystemConfig
	Protocols ProtocolsConfig
	Services  ServicesConfig

	// Warnings are non-fatal problems found by ValidateConfig.
	Warnings []string
}

// SystemConfig holds daemon-wide settings.
type SystemConfig struct {
	HostName string
	Syslog   []*SyslogHost
	API      *APIConfig
}

// SyslogHost is a remote syslog receiver.
type SyslogHost struct {
	Address   string
	Port      int    // default 514
	Severity  string // minimum severity forwarded (default "info")
	Facility  string // default "local0"
	Transport string // "udp" (default), "tcp" or "tls"
}

// APIConfig configures the HTTP status and metrics listener.
type APIConfig struct {
	Listen  string
	Users   map[string]string // user -> password
	APIKeys []string
}

// ProtocolsConfig holds protocol settings.
type ProtocolsConfig struct {
	RouterAdvertisement []*RAInterfaceConfig
}

// RAInterfaceConfig configures Router Advertisement on an interface.
type RAInterfaceConfig struct {
	Interface       string
	ManagedConfig   bool // managed-configuration (M flag)
	OtherStateful   bool // other-stateful-configuration (O flag)
	Preference      string
	DefaultLifetime int // seconds
	MaxAdvInterval  int // seconds
	MinAdvInterval  int // seconds
	LinkMTU         int
	Prefixes        []*RAPrefix
	DNSServers      []string
}

// RAPrefix defines a prefix advertised via RA.
type RAPrefix struct {
	Prefix        string // CIDR notation
	OnLink        bool   // default true
	Autonomous    bool   // default true
	ValidLifetime int    // seconds, 0 = radvd default
	PreferredLife int    // seconds, 0 = radvd default

	// RangeStart and RangeEnd restrict the part of the prefix the DHCP
	// server hands out. Empty means the whole prefix.
	RangeStart string
	RangeEnd   string

	// RANames enables SLAAC name tracking for hosts on this prefix.
	RANames bool
}

// Bounds returns the parsed prefix and the first and last address of the
// prefix's range.
func (p *RAPrefix) Bounds() (netip.Prefix, netip.Addr, netip.Addr, error) {
	pfx, err := netip.ParsePrefix(p.Prefix)
	if err != nil {
		return netip.Prefix{}, netip.Addr{}, netip.Addr{}, fmt.Errorf("prefix %q: %w", p.Prefix, err)
	}
	pfx = pfx.Masked()
	if !pfx.Addr().Is6() {
		return netip.Prefix{}, netip.Addr{}, netip.Addr{}, fmt.Errorf("prefix %q: not IPv6", p.Prefix)
	}
	if p.RangeStart == "" && p.RangeEnd == "" {
		return pfx, pfx.Addr(), lastAddr(pfx), nil
	}

	start, err := netip.ParseAddr(p.RangeStart)
	if err != nil {
		return netip.Prefix{}, netip.Addr{}, netip.Addr{}, fmt.Errorf("range start: %w", err)
	}
	end, err := netip.ParseAddr(p.RangeEnd)
	if err != nil {
		return netip.Prefix{}, netip.Addr{}, netip.Addr{}, fmt.Errorf("range end: %w", err)
	}
	if !pfx.Contains(start) || !pfx.Contains(end) {
		return netip.Prefix{}, netip.Addr{}, netip.Addr{}, fmt.Errorf("range %s-%s outside prefix %s", start, end, pfx)
	}
	if end.Less(start) {
		return netip.Prefix{}, netip.Addr{}, netip.Addr{}, fmt.Errorf("range %s-%s is reversed", start, end)
	}
	return pfx, start, end, nil
}

func lastAddr(p netip.Prefix) netip.Addr {
	b := p.Addr().As16()
	bits := p.Bits()
	for i := range b {
		hostBits := (i+1)*8 - bits
		switch {
		case hostBits >= 8:
			b[i] = 0xff
		case hostBits > 0:
			b[i] |= byte(1<<hostBits - 1)
		}
	}
	return netip.AddrFrom16(b)
}

// ServicesConfig holds the DHCP and DNS services slaacd cooperates with.
type ServicesConfig struct {
	DHCPLocalServer *DHCPLocalServerConfig
	DNS             *DNSConfig
}

// DHCPLocalServerConfig locates the lease database of the DHCP server.
type DHCPLocalServerConfig struct {
	LeaseFile4 string
	LeaseFile6 string

	// Subnets maps a DHCP subnet id to the interface it serves.
	Subnets map[int]string
}

// DNSConfig configures publication of confirmed SLAAC names.
type DNSConfig struct {
	Listen string
	Domain string
	TTL    int // seconds, 0 = default
}
